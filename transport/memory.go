package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"mq-rpc/protocol"
)

// MemoryBroker is an in-process broker with AMQP routing semantics: direct
// routing through the default exchange, named exchange bindings, competing
// consumers, auto-deleted reply queues and silent drops of unroutable
// messages. It backs tests and single-process demos.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*memQueue
	bindings map[string]map[string]string // exchange → routing key → queue
	channels map[*memChannel]struct{}
	failure  error
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string]*memQueue),
		bindings: make(map[string]map[string]string),
		channels: make(map[*memChannel]struct{}),
	}
}

// Channel opens a new channel.
func (b *MemoryBroker) Channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failure != nil {
		return nil, errors.Wrap(b.failure, "opening channel")
	}
	ch := &memChannel{
		broker:    b,
		consumers: make(map[string]*memConsumer),
		notify:    make(chan error, 1),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// Fail simulates a connection failure: every open channel is notified with err
// and closed, and no new channels can be opened.
func (b *MemoryBroker) Fail(err error) {
	b.mu.Lock()
	b.failure = err
	channels := make([]*memChannel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(err)
	}
}

// HasQueue reports whether a queue currently exists.
func (b *MemoryBroker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// QueueNames returns the names of the existing queues.
func (b *MemoryBroker) QueueNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

func (b *MemoryBroker) declare(name string, autoDelete bool) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[name]; ok {
		return q
	}
	q := newMemQueue(name, autoDelete)
	b.queues[name] = q
	return q
}

func (b *MemoryBroker) deleteLocked(q *memQueue) {
	if b.queues[q.name] != q {
		return
	}
	delete(b.queues, q.name)
	q.delete()
}

func (b *MemoryBroker) route(exchange, routingKey string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	name := routingKey
	if exchange != "" {
		name = b.bindings[exchange][routingKey]
	}
	return b.queues[name]
}

type memQueue struct {
	name       string
	autoDelete bool
	consumers  int // guarded by the broker mutex

	mu     sync.Mutex
	items  []Delivery
	signal chan struct{}
	gone   chan struct{}
}

func newMemQueue(name string, autoDelete bool) *memQueue {
	return &memQueue{
		name:       name,
		autoDelete: autoDelete,
		signal:     make(chan struct{}, 1),
		gone:       make(chan struct{}),
	}
}

func (q *memQueue) push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.wake()
}

func (q *memQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a message is available, stop is closed or the queue is
// deleted.
func (q *memQueue) pop(stop <-chan struct{}) (Delivery, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-stop:
			return Delivery{}, false
		case <-q.gone:
			return Delivery{}, false
		}
	}
}

func (q *memQueue) delete() {
	close(q.gone)
}

type memConsumer struct {
	tag   string
	queue *memQueue
	stop  chan struct{}
}

type memChannel struct {
	broker *MemoryBroker

	mu          sync.Mutex
	consumers   map[string]*memConsumer
	exclusive   []*memQueue
	deliveryTag uint64
	closed      bool
	notify      chan error
}

func (c *memChannel) DeclareQueue(name string, durable bool) error {
	if err := c.check(); err != nil {
		return err
	}
	c.broker.declare(name, false)
	return nil
}

func (c *memChannel) BindQueue(queue, exchange, routingKey string) error {
	if err := c.check(); err != nil {
		return err
	}
	if exchange == "" {
		return errors.New("cannot bind to the default exchange")
	}
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[queue]; !ok {
		return errors.Errorf("no queue %q", queue)
	}
	if b.bindings[exchange] == nil {
		b.bindings[exchange] = make(map[string]string)
	}
	b.bindings[exchange][routingKey] = queue
	return nil
}

func (c *memChannel) DeclareReplyQueue() (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	q := c.broker.declare("amq.gen-"+uuid.NewString(), true)
	c.mu.Lock()
	c.exclusive = append(c.exclusive, q)
	c.mu.Unlock()
	return q.name, nil
}

func (c *memChannel) Consume(queue string) (string, <-chan Delivery, error) {
	if err := c.check(); err != nil {
		return "", nil, err
	}
	b := c.broker
	b.mu.Lock()
	q, ok := b.queues[queue]
	if ok {
		q.consumers++
	}
	b.mu.Unlock()
	if !ok {
		return "", nil, errors.Errorf("no queue %q", queue)
	}

	consumer := &memConsumer{tag: "ctag-" + uuid.NewString(), queue: q, stop: make(chan struct{})}
	c.mu.Lock()
	c.consumers[consumer.tag] = consumer
	c.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			d, ok := q.pop(consumer.stop)
			if !ok {
				return
			}
			d.ConsumerTag = consumer.tag
			select {
			case out <- d:
			case <-consumer.stop:
				return
			}
		}
	}()
	return consumer.tag, out, nil
}

func (c *memChannel) Cancel(consumerTag string) error {
	c.mu.Lock()
	consumer, ok := c.consumers[consumerTag]
	delete(c.consumers, consumerTag)
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("no consumer %q", consumerTag)
	}
	c.stopConsumer(consumer)
	return nil
}

func (c *memChannel) stopConsumer(consumer *memConsumer) {
	close(consumer.stop)
	b := c.broker
	q := consumer.queue
	b.mu.Lock()
	q.consumers--
	deleted := q.autoDelete && q.consumers <= 0
	if deleted {
		b.deleteLocked(q)
	}
	b.mu.Unlock()
	if deleted {
		c.forget(q)
	}
}

// forget drops an auto-deleted queue from the channel's exclusive queues.
func (c *memChannel) forget(q *memQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.exclusive {
		if e == q {
			c.exclusive = append(c.exclusive[:i], c.exclusive[i+1:]...)
			return
		}
	}
}

func (c *memChannel) Publish(ctx context.Context, exchange, routingKey string, props protocol.Properties, body []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q := c.broker.route(exchange, routingKey)
	if q == nil {
		// Unroutable messages are dropped, as a broker does without the
		// mandatory flag.
		return nil
	}
	c.mu.Lock()
	c.deliveryTag++
	tag := c.deliveryTag
	c.mu.Unlock()

	q.push(Delivery{
		DeliveryTag: tag,
		Exchange:    exchange,
		RoutingKey:  routingKey,
		Properties:  props,
		Body:        append([]byte(nil), body...),
	})
	return nil
}

func (c *memChannel) NotifyClose() <-chan error {
	return c.notify
}

func (c *memChannel) Close() error {
	if !c.shutdown(nil) {
		return ErrClosed
	}
	return nil
}

func (c *memChannel) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// shutdown releases consumers and exclusive queues. It reports false if the
// channel was already closed.
func (c *memChannel) shutdown(reason error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	consumers := c.consumers
	c.consumers = nil
	exclusive := c.exclusive
	c.exclusive = nil
	c.mu.Unlock()

	// The reason is queued before any delivery stream ends.
	if reason != nil {
		c.notify <- reason
	}
	for _, consumer := range consumers {
		c.stopConsumer(consumer)
	}
	b := c.broker
	b.mu.Lock()
	for _, q := range exclusive {
		b.deleteLocked(q)
	}
	delete(b.channels, c)
	b.mu.Unlock()
	close(c.notify)
	return true
}
