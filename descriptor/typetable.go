package descriptor

import (
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"mq-rpc/future"
)

// VoidType is the wire name of a procedure that returns no value.
const VoidType = "void"

// AnyType is the wire name of an untyped value.
const AnyType = "any"

var (
	voidGoType = reflect.TypeOf(future.Void{})
	anyGoType  = reflect.TypeOf((*any)(nil)).Elem()
)

// listContainers and mapContainers are the generic container names accepted on
// the wire. Only one level of type parameter is supported.
var (
	listContainers = map[string]bool{"list": true, "arraylist": true, "collection": true, "set": true}
	mapContainers  = map[string]bool{"map": true, "hashmap": true}
)

var builtins = []reflect.Type{
	reflect.TypeOf(false),
	reflect.TypeOf(""),
	reflect.TypeOf(int(0)),
	reflect.TypeOf(int8(0)),
	reflect.TypeOf(int16(0)),
	reflect.TypeOf(int32(0)),
	reflect.TypeOf(int64(0)),
	reflect.TypeOf(uint(0)),
	reflect.TypeOf(uint8(0)),
	reflect.TypeOf(uint16(0)),
	reflect.TypeOf(uint32(0)),
	reflect.TypeOf(uint64(0)),
	reflect.TypeOf(float32(0)),
	reflect.TypeOf(float64(0)),
}

// primitiveAliases maps lower-cased JVM primitive and boxed type names onto Go
// types so that descriptors produced by other peers resolve locally.
var primitiveAliases = map[string]reflect.Type{
	"boolean":   reflect.TypeOf(false),
	"byte":      reflect.TypeOf(int8(0)),
	"short":     reflect.TypeOf(int16(0)),
	"integer":   reflect.TypeOf(int(0)),
	"long":      reflect.TypeOf(int64(0)),
	"float":     reflect.TypeOf(float32(0)),
	"double":    reflect.TypeOf(float64(0)),
	"char":      reflect.TypeOf(int32(0)),
	"character": reflect.TypeOf(int32(0)),
	"object":    anyGoType,
}

// TypeTable maps wire type names to Go types and back. A table is filled while
// reflecting service interfaces and is safe for concurrent use.
type TypeTable struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
	names map[reflect.Type]string
}

// NewTypeTable returns a table that knows the Go builtin scalar types.
func NewTypeTable() *TypeTable {
	t := &TypeTable{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
	for _, typ := range builtins {
		t.types[typ.Name()] = typ
		t.names[typ] = typ.Name()
	}
	t.types[VoidType] = voidGoType
	t.names[voidGoType] = VoidType
	t.types[AnyType] = anyGoType
	t.names[anyGoType] = AnyType
	return t
}

// Register binds name to typ. Binding a name twice to different types is an
// error.
func (t *TypeTable) Register(name string, typ reflect.Type) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerLocked(name, typ)
}

func (t *TypeTable) registerLocked(name string, typ reflect.Type) error {
	if existing, ok := t.types[name]; ok {
		if existing != typ {
			return errors.Errorf("type name %q already bound to %s", name, existing)
		}
		return nil
	}
	t.types[name] = typ
	t.names[typ] = name
	return nil
}

// NameOf returns the wire name of typ, registering named struct types on first
// sight.
func (t *TypeTable) NameOf(typ reflect.Type) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nameOfLocked(typ, false)
}

func (t *TypeTable) nameOfLocked(typ reflect.Type, nested bool) (string, error) {
	if name, ok := t.names[typ]; ok {
		return name, nil
	}
	switch typ.Kind() {
	case reflect.Ptr:
		return t.nameOfLocked(typ.Elem(), nested)
	case reflect.Slice, reflect.Array:
		if nested {
			return "", errors.Errorf("nested generic type %s is not supported", typ)
		}
		inner, err := t.nameOfLocked(typ.Elem(), true)
		if err != nil {
			return "", err
		}
		return "List<" + inner + ">", nil
	case reflect.Map:
		if nested {
			return "", errors.Errorf("nested generic type %s is not supported", typ)
		}
		if typ.Key().Kind() != reflect.String {
			return "", errors.Errorf("map type %s must have string keys", typ)
		}
		inner, err := t.nameOfLocked(typ.Elem(), true)
		if err != nil {
			return "", err
		}
		return "Map<" + inner + ">", nil
	case reflect.Struct:
		if typ.Name() == "" {
			return "", errors.Errorf("anonymous struct %s cannot be named on the wire", typ)
		}
		if err := t.registerLocked(typ.Name(), typ); err != nil {
			return "", err
		}
		return typ.Name(), nil
	}
	if typ.Name() != "" {
		// Named scalar types such as `type Celsius float64`.
		if err := t.registerLocked(typ.Name(), typ); err != nil {
			return "", err
		}
		return typ.Name(), nil
	}
	return "", errors.Errorf("type %s cannot be named on the wire", typ)
}

// Resolve returns the Go type for a wire type name. Generic names of the form
// Outer<Inner> resolve to a slice or string-keyed map of Inner.
func (t *TypeTable) Resolve(name string) (reflect.Type, error) {
	outer, inner, generic := SplitGeneric(name)
	if !generic {
		return t.resolveScalar(name)
	}
	elem, err := t.resolveScalar(inner)
	if err != nil {
		return nil, err
	}
	container := strings.ToLower(simpleName(outer))
	switch {
	case listContainers[container]:
		return reflect.SliceOf(elem), nil
	case mapContainers[container]:
		return reflect.MapOf(reflect.TypeOf(""), elem), nil
	}
	return nil, errors.Errorf("unknown generic container %q", outer)
}

func (t *TypeTable) resolveScalar(name string) (reflect.Type, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if typ, ok := t.types[name]; ok {
		return typ, nil
	}
	simple := simpleName(name)
	if typ, ok := t.types[simple]; ok {
		return typ, nil
	}
	lower := strings.ToLower(simple)
	if typ, ok := primitiveAliases[lower]; ok {
		return typ, nil
	}
	if typ, ok := t.types[lower]; ok {
		return typ, nil
	}
	return nil, errors.Errorf("unknown type %q", name)
}

// IsVoid reports whether a return type name denotes "no value".
func IsVoid(name string) bool {
	return strings.EqualFold(simpleName(name), VoidType)
}

// SplitGeneric splits "Outer<Inner>" into its parts.
func SplitGeneric(name string) (outer, inner string, ok bool) {
	open := strings.Index(name, "<")
	if open <= 0 || !strings.HasSuffix(name, ">") {
		return name, "", false
	}
	return name[:open], name[open+1 : len(name)-1], true
}

func simpleName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Castable reports whether arg can be passed where typeName is declared. Nil
// casts to any nillable type; generic containers only check the container kind.
func (t *TypeTable) Castable(arg any, typeName string) bool {
	outer, _, generic := SplitGeneric(typeName)
	if generic {
		if arg == nil {
			return true
		}
		kind := reflect.TypeOf(arg).Kind()
		container := strings.ToLower(simpleName(outer))
		switch {
		case listContainers[container]:
			return kind == reflect.Slice || kind == reflect.Array
		case mapContainers[container]:
			return kind == reflect.Map
		}
		return false
	}

	typ, err := t.resolveScalar(typeName)
	if err != nil {
		return false
	}
	if arg == nil {
		return nillable(typ)
	}
	at := reflect.TypeOf(arg)
	switch {
	case at.AssignableTo(typ):
		return true
	case at.Kind() == reflect.Ptr && at.Elem().AssignableTo(typ):
		return true
	case typ.Kind() == reflect.Ptr && at.AssignableTo(typ.Elem()):
		return true
	}
	return false
}

func nillable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Struct:
		// Structs are named by value but travel as references in the
		// descriptor, so a nil pointer is an acceptable argument.
		return true
	}
	return false
}
