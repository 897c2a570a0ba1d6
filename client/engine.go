// Package client implements the calling side of the protocol.
//
// An Engine is bound to one remote service. On creation it asks the server to
// describe itself and buffers calls until the descriptor arrives:
//
//	HANDSHAKING ──descriptor reply──▶ READY
//	     │                              │
//	 stash calls                 resolve, publish, await reply or timeout
//
// A single goroutine owns all engine state; callers talk to it through
// channels, so the correlation table needs no locking.
package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"mq-rpc/codec"
	"mq-rpc/descriptor"
	"mq-rpc/message"
	"mq-rpc/metrics"
	"mq-rpc/protocol"
	"mq-rpc/transport"
)

// ErrShutdown fails calls that were still stashed or pending when the engine
// stopped, and calls made after it stopped.
var ErrShutdown = errors.New("client engine shut down")

// Config configures an Engine.
type Config struct {
	// Exchange and RoutingKey address the server's request queue. An empty
	// exchange routes directly to the queue named RoutingKey.
	Exchange   string
	RoutingKey string

	// Timeout evicts calls that have waited at least this long for a reply.
	// Zero or negative disables eviction.
	Timeout time.Duration
	// SweepInterval is how often pending calls are checked against Timeout.
	// Defaults to half the timeout.
	SweepInterval time.Duration

	// SharedReplyQueue receives every reply on one queue owned by the engine
	// instead of declaring a reply queue per call.
	SharedReplyQueue bool

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.RoutingKey == "" {
		return errors.New("client config: no routing key")
	}
	if c.Timeout > 0 && c.SweepInterval <= 0 {
		c.SweepInterval = c.Timeout / 2
		if c.SweepInterval <= 0 {
			c.SweepInterval = c.Timeout
		}
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Result is the outcome of one call.
type Result struct {
	Value any
	Err   error
}

type state int

const (
	stateHandshaking state = iota
	stateReady
)

func (s state) String() string {
	if s == stateReady {
		return "READY"
	}
	return "HANDSHAKING"
}

type request struct {
	invoke message.Invoke
	reply  chan Result
}

type pendingCall struct {
	method      string
	returnType  string
	started     time.Time
	reply       chan Result // nil for the handshake
	consumerTag string      // per-call reply consumer
}

// Engine is the client call engine of one remote service.
type Engine struct {
	tomb    tomb.Tomb
	config  Config
	ch      transport.Channel
	table   *descriptor.TypeTable
	codec   codec.Codec
	logger  *zap.Logger
	metrics *metrics.Collector

	requests chan *request
	replies  chan transport.Delivery
	ready    chan struct{}

	mu       sync.Mutex
	desc     *descriptor.ServiceDescriptor
	nPending int

	// Owned by the loop goroutine.
	state       state
	stash       []*request
	pending     map[string]*pendingCall
	lastID      uint64
	handshakeID string
	replyQueue  string
}

// New opens a channel on broker and starts the engine. Types named by the
// server's descriptor are resolved through table.
func New(broker transport.Broker, table *descriptor.TypeTable, config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		table = descriptor.NewTypeTable()
	}
	ch, err := broker.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "opening client channel")
	}
	e := &Engine{
		config:   config,
		ch:       ch,
		table:    table,
		codec:    &codec.JSONCodec{},
		logger:   config.Logger.Named("client").With(zap.String("routing_key", config.RoutingKey)),
		metrics:  config.Metrics,
		requests: make(chan *request),
		replies:  make(chan transport.Delivery),
		ready:    make(chan struct{}),
		pending:  make(map[string]*pendingCall),
	}
	e.tomb.Go(e.loop)
	return e, nil
}

// Invoke submits a call. The returned channel yields exactly one Result.
// Calls made during the handshake are buffered and sent once it completes.
func (e *Engine) Invoke(ctx context.Context, inv message.Invoke) <-chan Result {
	req := &request{invoke: inv, reply: make(chan Result, 1)}
	select {
	case e.requests <- req:
	case <-e.tomb.Dying():
		req.reply <- Result{Err: ErrShutdown}
	case <-ctx.Done():
		req.reply <- Result{Err: ctx.Err()}
	}
	return req.reply
}

// Ready is closed once the handshake has completed.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Descriptor returns the server's descriptor, or nil before the handshake
// completed.
func (e *Engine) Descriptor() *descriptor.ServiceDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc
}

// PendingCalls returns the number of published calls awaiting a reply.
func (e *Engine) PendingCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nPending
}

// Kill asks the engine to stop.
func (e *Engine) Kill() {
	e.tomb.Kill(nil)
}

// Wait waits for the engine to stop and returns the reason it died.
func (e *Engine) Wait() error {
	return e.tomb.Wait()
}

// Dead is closed once the engine has stopped.
func (e *Engine) Dead() <-chan struct{} {
	return e.tomb.Dead()
}

// Close stops the engine and waits for it.
func (e *Engine) Close() error {
	e.Kill()
	return e.Wait()
}

func (e *Engine) loop() (err error) {
	defer func() { e.cleanup(err) }()

	if e.config.SharedReplyQueue {
		if e.replyQueue, _, err = e.consumeReplies(); err != nil {
			return err
		}
	}
	if err := e.handshake(); err != nil {
		return err
	}

	var (
		timer clock.Timer
		sweep <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	closed := e.ch.NotifyClose()

	for {
		select {
		case <-e.tomb.Dying():
			return tomb.ErrDying

		case cerr, ok := <-closed:
			if !ok || cerr == nil {
				cerr = transport.ErrClosed
			}
			return errors.Wrap(cerr, "broker channel closed")

		case req := <-e.requests:
			if e.state == stateHandshaking {
				e.stash = append(e.stash, req)
				e.metrics.SetStashed(len(e.stash))
				continue
			}
			if err := e.call(req); err != nil {
				return err
			}

		case d := <-e.replies:
			becameReady, err := e.handleReply(d)
			if err != nil {
				return err
			}
			if !becameReady {
				continue
			}
			stash := e.stash
			e.stash = nil
			e.metrics.SetStashed(0)
			for _, req := range stash {
				if err := e.call(req); err != nil {
					return err
				}
			}
			if e.config.Timeout > 0 {
				timer = e.config.Clock.NewTimer(e.config.SweepInterval)
				sweep = timer.Chan()
			}

		case <-sweep:
			e.sweep(e.config.Clock.Now())
			timer.Reset(e.config.SweepInterval)
		}
	}
}

// handshake publishes the describe request.
func (e *Engine) handshake() error {
	body, err := codec.EncodeRequest(e.codec, protocol.DescribeMethod, nil, nil)
	if err != nil {
		return errors.Wrap(err, "encoding handshake")
	}
	id, err := e.publish(body, &pendingCall{method: protocol.DescribeMethod})
	if err != nil {
		return errors.Wrap(err, "publishing handshake")
	}
	e.handshakeID = id
	e.logger.Debug("handshake sent", zap.String("correlation_id", id))
	return nil
}

// call resolves and publishes one request. Only transport failures are
// returned; everything else fails the caller alone.
func (e *Engine) call(req *request) error {
	inv := req.invoke
	proc, err := e.desc.Match(inv.Method, inv.Args, e.table)
	if err != nil {
		req.reply <- Result{Err: message.Errorf(message.KindProcedureNotFound,
			"%s has no procedure %s accepting %d arguments", e.desc.ClassName, inv.Method, len(inv.Args))}
		return nil
	}
	id := proc.ID
	body, err := codec.EncodeRequest(e.codec, inv.Method, inv.Args, &id)
	if err != nil {
		req.reply <- Result{Err: message.Wrap(message.KindMalformedRequest, err, "encoding "+inv.Method)}
		return nil
	}
	call := &pendingCall{method: inv.Method, returnType: proc.ReturnType, reply: req.reply}
	if _, err := e.publish(body, call); err != nil {
		req.reply <- Result{Err: err}
		return err
	}
	return nil
}

// publish sends body with a fresh correlation id and records call as pending.
func (e *Engine) publish(body []byte, call *pendingCall) (string, error) {
	replyTo := e.replyQueue
	if !e.config.SharedReplyQueue {
		queue, tag, err := e.consumeReplies()
		if err != nil {
			return "", err
		}
		replyTo, call.consumerTag = queue, tag
	}

	e.lastID++
	id := strconv.FormatUint(e.lastID, 10)
	call.started = e.config.Clock.Now()
	e.pending[id] = call
	e.trackPending()

	props := protocol.RequestProperties(id, replyTo)
	if err := e.ch.Publish(e.tomb.Context(nil), e.config.Exchange, e.config.RoutingKey, props, body); err != nil {
		e.remove(id, call)
		return "", errors.Wrapf(err, "publishing %s", call.method)
	}
	return id, nil
}

// consumeReplies declares a reply queue and forwards its deliveries to the
// loop.
func (e *Engine) consumeReplies() (queue, consumerTag string, err error) {
	queue, err = e.ch.DeclareReplyQueue()
	if err != nil {
		return "", "", err
	}
	consumerTag, deliveries, err := e.ch.Consume(queue)
	if err != nil {
		return "", "", err
	}
	e.tomb.Go(func() error {
		e.forward(deliveries)
		return nil
	})
	return queue, consumerTag, nil
}

func (e *Engine) forward(deliveries <-chan transport.Delivery) {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case e.replies <- d:
			case <-e.tomb.Dying():
				return
			}
		case <-e.tomb.Dying():
			return
		}
	}
}

// handleReply completes the call a delivery answers. It reports whether the
// delivery completed the handshake.
func (e *Engine) handleReply(d transport.Delivery) (bool, error) {
	id := d.Properties.CorrelationID
	call, ok := e.pending[id]
	if !ok {
		e.logger.Debug("ignoring unmatched reply", zap.String("correlation_id", id))
		return false, nil
	}
	e.remove(id, call)

	reply, err := e.decode(d)
	if id == e.handshakeID {
		return true, e.finishHandshake(reply, err)
	}

	result := Result{Err: err}
	if err == nil {
		switch reply.ReplyType {
		case message.ReplyError:
			result.Err = reply.Error
		case message.ReplyResult:
			result.Value, result.Err = codec.DecodeResult(reply.Result, call.returnType, e.table)
		default:
			result.Err = message.Errorf(message.KindMalformedRequest, "unexpected %s reply to %s", reply.ReplyType, call.method)
		}
	}
	e.complete(call, result)
	return false, nil
}

func (e *Engine) decode(d transport.Delivery) (*message.InvokeReply, error) {
	c, err := codec.GetCodec(d.Properties.ContentType)
	if err != nil {
		return nil, message.Wrap(message.KindMalformedRequest, err, "invalid reply")
	}
	if err := d.Properties.Validate(); err != nil {
		return nil, message.Wrap(message.KindMalformedRequest, err, "invalid reply")
	}
	return codec.DecodeReply(c, d.Body)
}

func (e *Engine) finishHandshake(reply *message.InvokeReply, err error) error {
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	switch reply.ReplyType {
	case message.ReplyServiceDescriptor:
	case message.ReplyError:
		return errors.Wrap(reply.Error, "handshake refused")
	default:
		return errors.Errorf("handshake answered with %s", reply.ReplyType)
	}

	e.mu.Lock()
	e.desc = reply.ServiceDescriptor
	e.mu.Unlock()
	e.state = stateReady
	close(e.ready)
	e.logger.Info("service described",
		zap.String("class", e.desc.ClassName),
		zap.Int("procedures", len(e.desc.Procedures)),
		zap.Int("stashed", len(e.stash)),
	)
	return nil
}

// sweep evicts every call that has waited at least the timeout.
func (e *Engine) sweep(now time.Time) {
	for id, call := range e.pending {
		if now.Sub(call.started) < e.config.Timeout {
			continue
		}
		e.remove(id, call)
		e.logger.Debug("call timed out", zap.String("correlation_id", id), zap.String("method", call.method))
		e.complete(call, Result{Err: message.Errorf(message.KindCallTimeout,
			"%s got no reply within %v", call.method, e.config.Timeout)})
	}
}

func (e *Engine) remove(id string, call *pendingCall) {
	delete(e.pending, id)
	e.trackPending()
	if call.consumerTag == "" {
		return
	}
	if err := e.ch.Cancel(call.consumerTag); err != nil {
		e.logger.Debug("cancelling reply consumer", zap.Error(err))
	}
}

func (e *Engine) complete(call *pendingCall, res Result) {
	if call.reply == nil {
		return
	}
	call.reply <- res
	e.metrics.ObserveCall(metrics.Client, call.method, outcome(res.Err), e.config.Clock.Now().Sub(call.started))
}

func (e *Engine) trackPending() {
	e.mu.Lock()
	e.nPending = len(e.pending)
	e.mu.Unlock()
	e.metrics.SetPending(len(e.pending))
}

// cleanup fails every caller still waiting and releases the channel.
func (e *Engine) cleanup(reason error) {
	shutdown := ErrShutdown
	if reason != nil && reason != tomb.ErrDying {
		shutdown = errors.Wrap(ErrShutdown, reason.Error())
		e.logger.Error("client engine failed", zap.Error(reason))
	}
	for _, req := range e.stash {
		req.reply <- Result{Err: shutdown}
	}
	e.stash = nil
	for id, call := range e.pending {
		delete(e.pending, id)
		if call.reply != nil {
			call.reply <- Result{Err: shutdown}
		}
	}
	e.trackPending()
	e.metrics.SetStashed(0)
	if err := e.ch.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		e.logger.Debug("closing channel", zap.Error(err))
	}
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	if kind := message.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
