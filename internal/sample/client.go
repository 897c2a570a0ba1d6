package sample

import (
	"context"

	"mq-rpc/future"
	"mq-rpc/proxy"
)

// CalculatorClient calls a remote Calculator.
type CalculatorClient struct {
	p *proxy.Proxy
}

func NewCalculatorClient(p *proxy.Proxy) *CalculatorClient {
	return &CalculatorClient{p: p}
}

func (c *CalculatorClient) Add(ctx context.Context, a, b int) *future.Future[int] {
	return proxy.Call[int](ctx, c.p, "Add", a, b)
}

func (c *CalculatorClient) LongOperation(ctx context.Context, millis int) *future.Future[future.Void] {
	return proxy.Call[future.Void](ctx, c.p, "LongOperation", millis)
}

// PersonRepositoryClient calls a remote PersonRepository.
type PersonRepositoryClient struct {
	p *proxy.Proxy
}

func NewPersonRepositoryClient(p *proxy.Proxy) *PersonRepositoryClient {
	return &PersonRepositoryClient{p: p}
}

func (c *PersonRepositoryClient) IncreasePeopleAgeByOne(ctx context.Context) *future.Future[future.Void] {
	return proxy.Call[future.Void](ctx, c.p, "IncreasePeopleAgeByOne")
}

func (c *PersonRepositoryClient) GetPerson(ctx context.Context, index int) *future.Future[*Person] {
	return proxy.Call[*Person](ctx, c.p, "GetPerson", index)
}

func (c *PersonRepositoryClient) GetPeople(ctx context.Context) *future.Future[[]Person] {
	return proxy.Call[[]Person](ctx, c.p, "GetPeople")
}

func (c *PersonRepositoryClient) AddPerson(ctx context.Context, person Person) *future.Future[[]Person] {
	return proxy.Call[[]Person](ctx, c.p, "AddPerson", person)
}

func (c *PersonRepositoryClient) AddPeople(ctx context.Context, people []Person) *future.Future[[]Person] {
	return proxy.Call[[]Person](ctx, c.p, "AddPeople", people)
}

func (c *PersonRepositoryClient) GetPeopleByIDs(ctx context.Context, ids []int) *future.Future[[]Person] {
	return proxy.Call[[]Person](ctx, c.p, "GetPeopleByIDs", ids)
}

var (
	_ Calculator       = (*CalculatorClient)(nil)
	_ PersonRepository = (*PersonRepositoryClient)(nil)
)
