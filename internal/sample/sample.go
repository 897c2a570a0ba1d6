// Package sample holds the demo services served and called by cmd/rpcdemo:
// a calculator and a repository of people, with their implementations and
// their client stubs.
package sample

import (
	"context"
	"fmt"

	"mq-rpc/future"
)

type Person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func (p Person) String() string {
	return fmt.Sprintf("%s (%d)", p.Name, p.Age)
}

type Calculator interface {
	Add(ctx context.Context, a, b int) *future.Future[int]
	// LongOperation completes after the given number of milliseconds.
	LongOperation(ctx context.Context, millis int) *future.Future[future.Void]
}

type PersonRepository interface {
	IncreasePeopleAgeByOne(ctx context.Context) *future.Future[future.Void]
	GetPerson(ctx context.Context, index int) *future.Future[*Person]
	GetPeople(ctx context.Context) *future.Future[[]Person]
	AddPerson(ctx context.Context, person Person) *future.Future[[]Person]
	AddPeople(ctx context.Context, people []Person) *future.Future[[]Person]
	GetPeopleByIDs(ctx context.Context, ids []int) *future.Future[[]Person]
}
