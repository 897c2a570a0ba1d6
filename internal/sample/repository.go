package sample

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"mq-rpc/future"
)

type repository struct {
	mu     sync.Mutex
	people []Person
}

// NewPersonRepository returns a repository seeded with two people.
func NewPersonRepository() PersonRepository {
	return &repository{people: []Person{
		{Name: "John Doe", Age: 43},
		{Name: "John Smith", Age: 40},
	}}
}

func (r *repository) IncreasePeopleAgeByOne(ctx context.Context) *future.Future[future.Void] {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.people {
		r.people[i].Age++
	}
	return future.Resolved(future.Void{})
}

func (r *repository) GetPerson(ctx context.Context, index int) *future.Future[*Person] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.people) {
		return future.Failed[*Person](errors.Errorf("no person at index %d", index))
	}
	p := r.people[index]
	return future.Resolved(&p)
}

func (r *repository) GetPeople(ctx context.Context) *future.Future[[]Person] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return future.Resolved(r.snapshot())
}

func (r *repository) AddPerson(ctx context.Context, person Person) *future.Future[[]Person] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.people = append(r.people, person)
	return future.Resolved(r.snapshot())
}

func (r *repository) AddPeople(ctx context.Context, people []Person) *future.Future[[]Person] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.people = append(r.people, people...)
	return future.Resolved(r.snapshot())
}

func (r *repository) GetPeopleByIDs(ctx context.Context, ids []int) *future.Future[[]Person] {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := make([]Person, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(r.people) {
			return future.Failed[[]Person](errors.Errorf("no person with id %d", id))
		}
		found = append(found, r.people[id])
	}
	return future.Resolved(found)
}

func (r *repository) snapshot() []Person {
	return append([]Person(nil), r.people...)
}
