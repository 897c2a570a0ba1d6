package codec

import (
	"bytes"
	"encoding/json"
	"reflect"

	"mq-rpc/descriptor"
	"mq-rpc/message"
)

var nullLiteral = []byte("null")

// CoerceArgs converts the raw arguments of a request into values of the
// procedure's declared parameter types. Reflected procedures use their Go
// parameter types; decoded ones resolve the declared names through table.
func CoerceArgs(args []json.RawMessage, proc *descriptor.Procedure, table *descriptor.TypeTable) ([]reflect.Value, error) {
	if len(args) != proc.Arity() {
		return nil, message.Errorf(message.KindTypeCoercion,
			"%s expects %d arguments, got %d", proc.Name, proc.Arity(), len(args))
	}
	goTypes := proc.ParamTypes()
	values := make([]reflect.Value, len(args))
	for i, raw := range args {
		var typ reflect.Type
		if goTypes != nil {
			typ = goTypes[i]
		} else {
			resolved, err := table.Resolve(proc.Parameters[i].Type)
			if err != nil {
				return nil, message.Wrap(message.KindTypeCoercion, err, "argument "+proc.Parameters[i].Type)
			}
			typ = resolved
		}
		v, err := CoerceValue(raw, typ)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// CoerceValue decodes raw into a new value of typ. JSON null is only accepted
// for nillable types.
func CoerceValue(raw json.RawMessage, typ reflect.Type) (reflect.Value, error) {
	if isNull(raw) {
		switch typ.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			return reflect.Zero(typ), nil
		}
		return reflect.Value{}, message.Errorf(message.KindTypeCoercion, "null is not a valid %s", typ)
	}
	ptr := reflect.New(typ)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, message.Wrap(message.KindTypeCoercion, err, "cannot convert to "+typ.String())
	}
	return ptr.Elem(), nil
}

// DecodeResult converts the raw result of a reply into the type named by
// returnType. Void procedures decode to message.NullObject.
func DecodeResult(raw json.RawMessage, returnType string, table *descriptor.TypeTable) (any, error) {
	if descriptor.IsVoid(returnType) {
		return message.NullObject{}, nil
	}
	typ, err := table.Resolve(returnType)
	if err != nil {
		return nil, message.Wrap(message.KindTypeCoercion, err, "result type "+returnType)
	}
	if typ.Kind() == reflect.Struct && isNull(raw) {
		// A server method returning a nil *T reports a null T.
		return reflect.Zero(reflect.PointerTo(typ)).Interface(), nil
	}
	v, err := CoerceValue(raw, typ)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, nullLiteral)
}
