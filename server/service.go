package server

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"mq-rpc/descriptor"
	"mq-rpc/future"
)

// service binds an implementation to the descriptor of the interface it
// serves. Reflection happens here once, at registration.
type service struct {
	name    string
	rcvr    reflect.Value
	desc    *descriptor.ServiceDescriptor
	table   *descriptor.TypeTable
	methods map[int]reflect.Value // procedure id → bound method
}

func newService(ifacePtr, impl any) (*service, error) {
	iface, err := descriptor.InterfaceOf(ifacePtr)
	if err != nil {
		return nil, err
	}
	rcvr := reflect.ValueOf(impl)
	if !rcvr.IsValid() || !rcvr.Type().Implements(iface) {
		return nil, errors.Errorf("rpc: %T does not implement %s", impl, iface)
	}
	table := descriptor.NewTypeTable()
	desc, err := descriptor.Reflect(iface, table)
	if err != nil {
		return nil, err
	}

	s := &service{
		name:    desc.ClassName,
		rcvr:    rcvr,
		desc:    desc,
		table:   table,
		methods: make(map[int]reflect.Value, len(desc.Procedures)),
	}
	for _, proc := range desc.Procedures {
		s.methods[proc.ID] = rcvr.MethodByName(proc.Name)
	}
	return s, nil
}

// call invokes proc with already coerced arguments and waits for its result.
// Panics are returned as errors.
func (s *service) call(ctx context.Context, proc *descriptor.Procedure, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in %s: %v", proc.Name, r)
		}
	}()

	in := make([]reflect.Value, 0, len(args)+1)
	if proc.WantsContext() {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)
	out := s.methods[proc.ID].Call(in)

	if proc.ReturnsError() {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if !proc.ReturnsValue() {
		return nil, nil
	}
	value := out[0]
	if !proc.Async() {
		return value.Interface(), nil
	}
	if (value.Kind() == reflect.Ptr || value.Kind() == reflect.Interface) && value.IsNil() {
		return nil, errors.Errorf("%s returned a nil future", proc.Name)
	}
	return value.Interface().(future.Awaitable).Await(ctx)
}
