package client

import (
	"context"

	"github.com/pkg/errors"

	"mq-rpc/loadbalance"
	"mq-rpc/registry"
)

// Resolve discovers the instances registered for service and picks one.
func Resolve(ctx context.Context, reg registry.Registry, balancer loadbalance.Balancer, service string) (*registry.ServiceInstance, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, err
	}
	instance, err := balancer.Pick(instances)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s with %s", service, balancer.Name())
	}
	return instance, nil
}

// Target points the config at an instance's request queue.
func (c *Config) Target(instance *registry.ServiceInstance) {
	c.Exchange, c.RoutingKey = instance.Destination()
}
