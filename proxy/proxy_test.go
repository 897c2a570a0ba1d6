package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq-rpc/client"
	"mq-rpc/future"
	"mq-rpc/message"
	"mq-rpc/transport"
)

type invokerFunc func(ctx context.Context, inv message.Invoke) <-chan client.Result

func (f invokerFunc) Invoke(ctx context.Context, inv message.Invoke) <-chan client.Result {
	return f(ctx, inv)
}

func answer(value any, err error) Invoker {
	return invokerFunc(func(ctx context.Context, inv message.Invoke) <-chan client.Result {
		ch := make(chan client.Result, 1)
		ch <- client.Result{Value: value, Err: err}
		return ch
	})
}

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type personView struct {
	Name string `json:"name"`
}

func get[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Get(ctx)
}

func TestNewDefaultsTimeout(t *testing.T) {
	assert.Equal(t, DefaultRequestTimeout, New(answer(nil, nil), 0).timeout)
	assert.Equal(t, time.Second, New(answer(nil, nil), time.Second).timeout)
}

func TestCallPassesMethodAndArgs(t *testing.T) {
	var got message.Invoke
	p := New(invokerFunc(func(ctx context.Context, inv message.Invoke) <-chan client.Result {
		got = inv
		ch := make(chan client.Result, 1)
		ch <- client.Result{Value: 3}
		return ch
	}), 0)

	v, err := get(t, Call[int](context.Background(), p, "Add", 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, message.Invoke{Method: "Add", Args: []any{1, 2}}, got)

	_, err = get(t, Call[future.Void](context.Background(), p, "Ping"))
	require.NoError(t, err)
	assert.Equal(t, []any{}, got.Args)
}

func TestCallAdaptsResults(t *testing.T) {
	ctx := context.Background()

	v, err := get(t, Call[future.Void](ctx, New(answer(message.NullObject{}, nil), 0), "Touch"))
	require.NoError(t, err)
	assert.Equal(t, future.Void{}, v)

	p, err := get(t, Call[*person](ctx, New(answer(person{"Ann", 31}, nil), 0), "GetPerson"))
	require.NoError(t, err)
	assert.Equal(t, &person{"Ann", 31}, p)

	p, err = get(t, Call[*person](ctx, New(answer((*person)(nil), nil), 0), "GetPerson"))
	require.NoError(t, err)
	assert.Nil(t, p)

	byValue, err := get(t, Call[person](ctx, New(answer(&person{"Bo", 7}, nil), 0), "GetPerson"))
	require.NoError(t, err)
	assert.Equal(t, person{"Bo", 7}, byValue)

	n, err := get(t, Call[int](ctx, New(answer(int64(42), nil), 0), "Count"))
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	views, err := get(t, Call[[]personView](ctx, New(answer([]person{{"Ann", 31}}, nil), 0), "GetPeople"))
	require.NoError(t, err)
	assert.Equal(t, []personView{{"Ann"}}, views)

	_, err = get(t, Call[int](ctx, New(answer("three", nil), 0), "Count"))
	assert.True(t, message.IsKind(err, message.KindTypeCoercion), "got %v", err)
}

func TestCallForwardsErrors(t *testing.T) {
	remote := message.Errorf(message.KindInternalInvocation, "boom")
	_, err := get(t, Call[int](context.Background(), New(answer(nil, remote), 0), "Add", 1, 2))
	assert.Equal(t, remote, err)
}

func TestCallTimesOut(t *testing.T) {
	never := invokerFunc(func(ctx context.Context, inv message.Invoke) <-chan client.Result {
		return make(chan client.Result)
	})
	_, err := get(t, Call[int](context.Background(), New(never, 20*time.Millisecond), "Add", 1, 2))
	assert.True(t, message.IsKind(err, message.KindCallTimeout), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = get(t, Call[int](ctx, New(never, time.Minute), "Add", 1, 2))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

type greeter interface {
	Greet(ctx context.Context, name string) *future.Future[string]
}

func TestBindRejectsNonInterfaces(t *testing.T) {
	_, err := Bind(transport.NewMemoryBroker(), &person{}, client.Config{RoutingKey: "q"}, 0)
	assert.Error(t, err)

	b, err := Bind(transport.NewMemoryBroker(), (*greeter)(nil), client.Config{RoutingKey: "q"}, 0)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
