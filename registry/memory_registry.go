package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	services  map[string]map[string]ServiceInstance
	listeners map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services:  make(map[string]map[string]ServiceInstance),
		listeners: make(map[string][]chan []ServiceInstance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error {
	if instance.ID == "" {
		return errors.New("instance has no id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[service] == nil {
		r.services[service] = make(map[string]ServiceInstance)
	}
	r.services[service][instance.ID] = instance
	r.notifyLocked(service)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, service string, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[service][id]; !ok {
		return errors.Errorf("%s has no instance %q", service, id)
	}
	delete(r.services[service], id)
	r.notifyLocked(service)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(service), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	r.listeners[service] = append(r.listeners[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		chans := r.listeners[service]
		for i, c := range chans {
			if c == ch {
				r.listeners[service] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) listLocked(service string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(r.services[service]))
	for _, inst := range r.services[service] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances
}

// notifyLocked replaces any unread update with the latest list.
func (r *MemoryRegistry) notifyLocked(service string) {
	for _, ch := range r.listeners[service] {
		select {
		case <-ch:
		default:
		}
		ch <- r.listLocked(service)
	}
}
