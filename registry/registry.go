// Package registry lets servers advertise where their request queue lives and
// lets clients find it by service name.
package registry

import "context"

// ServiceInstance describes one running server. Requests reach it through
// Exchange with RoutingKey, or directly through Queue when Exchange is empty.
type ServiceInstance struct {
	ID         string `json:"id"`
	Queue      string `json:"queue"`
	Exchange   string `json:"exchange,omitempty"`
	RoutingKey string `json:"routingKey,omitempty"`
	Weight     int    `json:"weight"` // Weight for load balancing
	Version    string `json:"version"`
}

// Destination returns the exchange and routing key a client publishes to.
func (s ServiceInstance) Destination() (exchange, routingKey string) {
	if s.Exchange == "" {
		return "", s.Queue
	}
	return s.Exchange, s.RoutingKey
}

type Registry interface {
	Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, service string, id string) error
	Discover(ctx context.Context, service string) ([]ServiceInstance, error)
	// Watch emits the full instance list whenever it changes, until ctx is done.
	Watch(ctx context.Context, service string) <-chan []ServiceInstance
}

const keyPrefix = "/mq-rpc/"

func servicePrefix(service string) string {
	return keyPrefix + service + "/"
}
