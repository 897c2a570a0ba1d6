package sample

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq-rpc/client"
	"mq-rpc/future"
	"mq-rpc/message"
	"mq-rpc/proxy"
	"mq-rpc/server"
	"mq-rpc/transport"
)

func serve(t *testing.T, b transport.Broker, queue string, ifacePtr, impl any) {
	t.Helper()
	s, err := server.NewServer(b, server.Config{Queue: queue, Workers: 4})
	require.NoError(t, err)
	require.NoError(t, s.Register(ifacePtr, impl))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown(time.Second) })
}

func bind(t *testing.T, b transport.Broker, queue string, ifacePtr any, timeout time.Duration) *proxy.Proxy {
	t.Helper()
	binding, err := proxy.Bind(b, ifacePtr, client.Config{RoutingKey: queue, Timeout: timeout}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { binding.Close() })
	return binding.Proxy
}

func get[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	require.NoError(t, err)
	return v
}

func TestCalculator(t *testing.T) {
	b := transport.NewMemoryBroker()
	serve(t, b, "calculator", (*Calculator)(nil), NewCalculator())
	calc := NewCalculatorClient(bind(t, b, "calculator", (*Calculator)(nil), 10*time.Second))
	ctx := context.Background()

	assert.Equal(t, 5, get(t, calc.Add(ctx, 2, 3)))
	assert.Equal(t, future.Void{}, get(t, calc.LongOperation(ctx, 10)))
}

func TestCalculatorTimeout(t *testing.T) {
	b := transport.NewMemoryBroker()
	serve(t, b, "calculator", (*Calculator)(nil), NewCalculator())
	calc := NewCalculatorClient(bind(t, b, "calculator", (*Calculator)(nil), 50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := calc.LongOperation(ctx, 1000).Get(ctx)
	assert.True(t, message.IsKind(err, message.KindCallTimeout), "got %v", err)
}

func TestPersonRepository(t *testing.T) {
	b := transport.NewMemoryBroker()
	serve(t, b, "people", (*PersonRepository)(nil), NewPersonRepository())
	repo := NewPersonRepositoryClient(bind(t, b, "people", (*PersonRepository)(nil), 0))
	ctx := context.Background()

	people := get(t, repo.GetPeople(ctx))
	assert.Equal(t, []Person{{"John Doe", 43}, {"John Smith", 40}}, people)

	get(t, repo.IncreasePeopleAgeByOne(ctx))
	assert.Equal(t, &Person{"John Doe", 44}, get(t, repo.GetPerson(ctx, 0)))

	people = get(t, repo.AddPerson(ctx, Person{"Slim Shady", 25}))
	assert.Len(t, people, 3)

	people = get(t, repo.AddPeople(ctx, []Person{{"George Washington", 27}, {"Albert Einstein", 35}}))
	assert.Len(t, people, 5)

	people = get(t, repo.GetPeopleByIDs(ctx, []int{1, 3}))
	assert.Equal(t, []Person{{"John Smith", 41}, {"George Washington", 27}}, people)

	_, err := repo.GetPerson(ctx, 42).Get(ctx)
	assert.True(t, message.IsKind(err, message.KindInternalInvocation), "got %v", err)
}

func TestTwoInterfacesOnOneBroker(t *testing.T) {
	b := transport.NewMemoryBroker()
	serve(t, b, "calculator", (*Calculator)(nil), NewCalculator())
	serve(t, b, "people", (*PersonRepository)(nil), NewPersonRepository())
	calc := NewCalculatorClient(bind(t, b, "calculator", (*Calculator)(nil), 0))
	repo := NewPersonRepositoryClient(bind(t, b, "people", (*PersonRepository)(nil), 0))
	ctx := context.Background()

	sum := calc.Add(ctx, 40, 2)
	person := repo.GetPerson(ctx, 1)
	assert.Equal(t, 42, get(t, sum))
	assert.Equal(t, "John Smith", get(t, person).Name)
}
