// Package proxy turns typed method calls into client engine invocations.
//
// Remote interfaces are bound by small stub types whose methods forward to
// Call:
//
//	type CalculatorClient struct{ p *proxy.Proxy }
//
//	func (c *CalculatorClient) Add(ctx context.Context, a, b int) *future.Future[int] {
//		return proxy.Call[int](ctx, c.p, "Add", a, b)
//	}
package proxy

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"mq-rpc/client"
	"mq-rpc/descriptor"
	"mq-rpc/future"
	"mq-rpc/message"
	"mq-rpc/transport"
)

// DefaultRequestTimeout bounds how long a proxy waits for the engine to
// answer a call.
const DefaultRequestTimeout = 10 * time.Second

// Invoker submits calls. *client.Engine is the production Invoker.
type Invoker interface {
	Invoke(ctx context.Context, inv message.Invoke) <-chan client.Result
}

// Proxy forwards calls to an Invoker.
type Proxy struct {
	invoker Invoker
	timeout time.Duration
}

// New returns a proxy over invoker. A non-positive requestTimeout means
// DefaultRequestTimeout.
func New(invoker Invoker, requestTimeout time.Duration) *Proxy {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Proxy{invoker: invoker, timeout: requestTimeout}
}

// Call invokes method with args and returns a future of its result. The
// future fails with a CallTimeout error if no result arrives within the
// proxy's request timeout.
func Call[T any](ctx context.Context, p *Proxy, method string, args ...any) *future.Future[T] {
	f := future.New[T]()
	if args == nil {
		args = []any{}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	results := p.invoker.Invoke(ctx, message.Invoke{Method: method, Args: args})
	go func() {
		defer cancel()
		select {
		case res := <-results:
			f.Complete(adapt[T](res))
		case <-ctx.Done():
			var zero T
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = message.Errorf(message.KindCallTimeout, "%s: no reply within %v", method, p.timeout)
			}
			f.Complete(zero, err)
		}
	}()
	return f
}

// adapt converts an engine result to the type the stub declared.
func adapt[T any](res client.Result) (T, error) {
	var zero T
	if res.Err != nil {
		return zero, res.Err
	}
	switch v := res.Value.(type) {
	case nil, message.NullObject:
		return zero, nil
	case T:
		return v, nil
	}

	want := reflect.TypeOf((*T)(nil)).Elem()
	got := reflect.ValueOf(res.Value)
	switch {
	case got.Kind() == reflect.Ptr && got.IsNil():
		return zero, nil
	case want.Kind() == reflect.Ptr && got.Type() == want.Elem():
		ptr := reflect.New(want.Elem())
		ptr.Elem().Set(got)
		return ptr.Interface().(T), nil
	case got.Kind() == reflect.Ptr && got.Type().Elem() == want:
		return got.Elem().Interface().(T), nil
	case numeric(got.Kind()) && numeric(want.Kind()):
		return got.Convert(want).Interface().(T), nil
	}

	// Same shape, different Go type: let JSON do the mapping.
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return zero, message.Wrap(message.KindTypeCoercion, err, "re-encoding result")
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, message.Wrap(message.KindTypeCoercion, err, "result is not a "+want.String())
	}
	return out, nil
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Binding is a proxy together with the engine it owns.
type Binding struct {
	*Proxy
	Engine *client.Engine
}

// Bind starts a client engine for the interface ifacePtr points to, e.g.
// (*sample.Calculator)(nil). Types the interface mentions are registered so
// that results decode into them.
func Bind(broker transport.Broker, ifacePtr any, config client.Config, requestTimeout time.Duration) (*Binding, error) {
	iface, err := descriptor.InterfaceOf(ifacePtr)
	if err != nil {
		return nil, err
	}
	table := descriptor.NewTypeTable()
	if _, err := descriptor.Reflect(iface, table); err != nil {
		return nil, errors.Wrapf(err, "binding %s", iface)
	}
	engine, err := client.New(broker, table, config)
	if err != nil {
		return nil, err
	}
	return &Binding{Proxy: New(engine, requestTimeout), Engine: engine}, nil
}

// Close stops the engine.
func (b *Binding) Close() error {
	return b.Engine.Close()
}
