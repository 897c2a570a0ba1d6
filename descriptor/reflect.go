package descriptor

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

var (
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	awaitableType = reflect.TypeOf((*interface {
		Await(context.Context) (any, error)
	})(nil)).Elem()
)

type resultShape struct {
	withValue bool
	withErr   bool
	async     bool
}

// InterfaceOf returns the interface type behind a nil interface pointer such as
// (*Calculator)(nil).
func InterfaceOf(ifacePtr any) (reflect.Type, error) {
	typ := reflect.TypeOf(ifacePtr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Interface {
		return nil, errors.Errorf("expected a pointer to an interface, got %T", ifacePtr)
	}
	return typ.Elem(), nil
}

// Reflect builds the descriptor of iface. Every exported method becomes one
// procedure; ids follow the method set order, which is sorted by name and is
// therefore identical for every reflection of the same interface. Types met in
// signatures are registered with table.
func Reflect(iface reflect.Type, table *TypeTable) (*ServiceDescriptor, error) {
	if iface.Kind() != reflect.Interface {
		return nil, errors.Errorf("%s is not an interface", iface)
	}
	desc := &ServiceDescriptor{
		ClassName:  className(iface),
		Procedures: make([]*Procedure, 0, iface.NumMethod()),
	}
	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		if !m.IsExported() {
			continue
		}
		proc, err := reflectMethod(m, table)
		if err != nil {
			return nil, errors.Wrapf(err, "reflecting %s.%s", iface.Name(), m.Name)
		}
		proc.ID = len(desc.Procedures)
		desc.Procedures = append(desc.Procedures, proc)
	}
	return desc, nil
}

func className(iface reflect.Type) string {
	if iface.PkgPath() == "" {
		return iface.Name()
	}
	return iface.PkgPath() + "." + iface.Name()
}

func reflectMethod(m reflect.Method, table *TypeTable) (*Procedure, error) {
	mt := m.Type
	if mt.IsVariadic() {
		return nil, errors.New("variadic methods are not supported")
	}
	proc := &Procedure{Name: m.Name, Parameters: []Parameter{}}

	first := 0
	if mt.NumIn() > 0 && mt.In(0) == contextType {
		proc.withCtx = true
		first = 1
	}
	for i := first; i < mt.NumIn(); i++ {
		in := mt.In(i)
		name, err := table.NameOf(in)
		if err != nil {
			return nil, err
		}
		proc.Parameters = append(proc.Parameters, Parameter{Position: i - first, Type: name})
		proc.paramTypes = append(proc.paramTypes, in)
	}

	ret, shape, err := returnType(mt, table)
	if err != nil {
		return nil, err
	}
	proc.ReturnType = ret
	proc.result = shape
	return proc, nil
}

// returnType accepts (), (error), (T) and (T, error). When T is an awaitable
// wrapper, the wrapped type is reported instead.
func returnType(mt reflect.Type, table *TypeTable) (string, resultShape, error) {
	var shape resultShape
	var value reflect.Type
	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) == errorType {
			shape.withErr = true
		} else {
			value = mt.Out(0)
		}
	case 2:
		if mt.Out(1) != errorType {
			return "", shape, errors.Errorf("second result must be error, got %s", mt.Out(1))
		}
		value = mt.Out(0)
		shape.withErr = true
	default:
		return "", shape, errors.Errorf("too many results (%d)", mt.NumOut())
	}
	if value == nil {
		return VoidType, shape, nil
	}
	shape.withValue = true

	if wrapped, ok := unwrapAsync(value); ok {
		shape.async = true
		value = wrapped
	}
	name, err := table.NameOf(value)
	if err != nil {
		return "", shape, err
	}
	return name, shape, nil
}

// unwrapAsync returns X for a type with Await(ctx) (any, error) and
// Get(ctx) (X, error) methods.
func unwrapAsync(typ reflect.Type) (reflect.Type, bool) {
	if !typ.Implements(awaitableType) {
		return nil, false
	}
	get, ok := typ.MethodByName("Get")
	if !ok {
		return nil, false
	}
	gt := get.Type
	// Method on a concrete type includes the receiver; on an interface it does not.
	offset := 0
	if typ.Kind() != reflect.Interface {
		offset = 1
	}
	if gt.NumIn() != offset+1 || gt.In(offset) != contextType || gt.NumOut() != 2 || gt.Out(1) != errorType {
		return nil, false
	}
	return gt.Out(0), true
}
