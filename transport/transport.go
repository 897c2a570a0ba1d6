// Package transport bridges a message broker to the RPC engines.
//
// Engines never see broker client types. Each engine opens its own Channel from
// a Broker, consumes queues as streams of Delivery events and publishes bodies
// with protocol.Properties. Two brokers are provided: an AMQP 0-9-1 adapter for
// RabbitMQ and an in-memory broker with the same routing rules.
//
//	client engine ──Publish(exchange, key, {correlation-id, reply-to})──▶ request queue
//	server engine ◀──Delivery────────────────────────────────────────── request queue
//	server engine ──Publish("", reply-to, {correlation-id})───────────▶ reply queue
//	client engine ◀──Delivery────────────────────────────────────────── reply queue
package transport

import (
	"context"

	"github.com/pkg/errors"

	"mq-rpc/protocol"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("transport: channel closed")

// Delivery is one message received from a queue.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Exchange    string
	RoutingKey  string
	Properties  protocol.Properties
	Body        []byte
}

// Broker hands out channels. Every engine owns the channels it opens and is
// the only one to close them.
type Broker interface {
	Channel() (Channel, error)
}

// Channel is a single-owner session with the broker.
type Channel interface {
	// DeclareQueue declares a named queue, creating it if needed.
	DeclareQueue(name string, durable bool) error

	// BindQueue routes messages published to exchange with routingKey into queue.
	BindQueue(queue, exchange, routingKey string) error

	// DeclareReplyQueue declares an exclusive, auto-deleted queue with a
	// broker-generated name and returns that name.
	DeclareReplyQueue() (string, error)

	// Consume starts an auto-acknowledging consumer on queue. The returned
	// channel is closed when the consumer is cancelled or the channel closes.
	Consume(queue string) (consumerTag string, deliveries <-chan Delivery, err error)

	// Cancel stops a consumer. Auto-delete queues go away with their last consumer.
	Cancel(consumerTag string) error

	// Publish sends body to exchange with routingKey. The empty exchange
	// routes directly to the queue named routingKey.
	Publish(ctx context.Context, exchange, routingKey string, props protocol.Properties, body []byte) error

	// NotifyClose yields an error if the channel is closed by the broker or the
	// connection fails, and is closed when the channel shuts down.
	NotifyClose() <-chan error

	Close() error
}
