// Package server implements the dispatch engine that serves one interface on
// a request queue.
//
// Request processing pipeline:
//
//	request queue → loop (single consumer)
//	  → for each delivery: handle (inline, or on a worker when Workers > 1)
//	    → decode → system.describe? → middleware chain → dispatch (reflect.Call)
//	    → await the future → encode → publish to reply-to
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"mq-rpc/codec"
	"mq-rpc/descriptor"
	"mq-rpc/message"
	"mq-rpc/metrics"
	"mq-rpc/middleware"
	"mq-rpc/protocol"
	"mq-rpc/registry"
	"mq-rpc/transport"
)

// DefaultTTL is the registry lease of an advertised server, in seconds.
const DefaultTTL = 10

// Config configures a Server.
type Config struct {
	// Queue is the request queue to consume.
	Queue   string
	Durable bool
	// Exchange, when set, is bound to Queue with RoutingKey (default Queue).
	Exchange   string
	RoutingKey string

	// Workers bounds how many requests are dispatched at once. Zero or one
	// dispatches strictly in arrival order.
	Workers int

	// Registry, when set, advertises the server under its interface's class
	// name. Instance supplies the advertised weight, version and id.
	Registry registry.Registry
	Instance registry.ServiceInstance
	TTL      int64

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	if c.Queue == "" {
		return errors.New("server config: no queue")
	}
	if c.Exchange != "" && c.RoutingKey == "" {
		c.RoutingKey = c.Queue
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Server is the dispatch engine of one interface.
type Server struct {
	tomb    tomb.Tomb
	config  Config
	broker  transport.Broker
	logger  *zap.Logger
	metrics *metrics.Collector

	svc         *service
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(dispatch)))

	ch          transport.Channel
	consumerTag string
	instance    registry.ServiceInstance
	registered  bool

	ctx    context.Context // parent of every invocation, cancelled after shutdown
	cancel context.CancelFunc

	writeMu sync.Mutex     // serializes publishes from concurrent workers
	wg      sync.WaitGroup // in-flight requests
	slots   chan struct{}  // worker slots
}

// NewServer returns a server that will consume from config.Queue on broker.
func NewServer(broker transport.Broker, config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		config:  config,
		broker:  broker,
		logger:  config.Logger.Named("server").With(zap.String("queue", config.Queue)),
		metrics: config.Metrics,
		slots:   make(chan struct{}, config.Workers),
	}, nil
}

// Register sets the interface the server serves and its implementation, e.g.
// Register((*sample.Calculator)(nil), &calculator{}).
func (s *Server) Register(ifacePtr, impl any) error {
	if s.svc != nil {
		return errors.Errorf("rpc: server already serves %s", s.svc.name)
	}
	svc, err := newService(ifacePtr, impl)
	if err != nil {
		return err
	}
	s.svc = svc
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Descriptor returns the descriptor of the registered interface.
func (s *Server) Descriptor() *descriptor.ServiceDescriptor {
	if s.svc == nil {
		return nil
	}
	return s.svc.desc
}

// Start declares the request queue, starts consuming and advertises the
// server. It returns once requests are being served.
func (s *Server) Start() error {
	if s.svc == nil {
		return errors.New("rpc: no service registered")
	}
	ch, err := s.broker.Channel()
	if err != nil {
		return errors.Wrap(err, "opening server channel")
	}
	if err := s.declare(ch); err != nil {
		ch.Close()
		return err
	}
	tag, deliveries, err := ch.Consume(s.config.Queue)
	if err != nil {
		ch.Close()
		return err
	}
	s.ch, s.consumerTag = ch, tag
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Built once at startup, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	if s.config.Registry != nil {
		if err := s.advertise(); err != nil {
			s.cancel()
			ch.Close()
			return err
		}
	}

	s.logger.Info("serving", zap.String("class", s.svc.name), zap.Int("workers", s.config.Workers))
	s.tomb.Go(func() error {
		return s.loop(deliveries)
	})
	return nil
}

// Serve starts the server and blocks until it stops.
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	return s.Wait()
}

// Wait blocks until the request loop stops and returns why it stopped.
func (s *Server) Wait() error {
	return s.tomb.Wait()
}

func (s *Server) declare(ch transport.Channel) error {
	if err := ch.DeclareQueue(s.config.Queue, s.config.Durable); err != nil {
		return err
	}
	if s.config.Exchange != "" {
		return ch.BindQueue(s.config.Queue, s.config.Exchange, s.config.RoutingKey)
	}
	return nil
}

func (s *Server) advertise() error {
	s.instance = s.config.Instance
	if s.instance.ID == "" {
		s.instance.ID = uuid.NewString()
	}
	s.instance.Queue = s.config.Queue
	s.instance.Exchange = s.config.Exchange
	s.instance.RoutingKey = s.config.RoutingKey
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.config.Registry.Register(ctx, s.svc.name, s.instance, s.config.TTL); err != nil {
		return errors.Wrap(err, "advertising server")
	}
	s.registered = true
	return nil
}

func (s *Server) loop(deliveries <-chan transport.Delivery) error {
	closed := s.ch.NotifyClose()
	for {
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying

		case err, ok := <-closed:
			return channelClosed(err, ok)

		case d, ok := <-deliveries:
			if !ok {
				select {
				case err, ok := <-closed:
					return channelClosed(err, ok)
				case <-s.tomb.Dying():
					return tomb.ErrDying
				default:
					return errors.New("request consumer cancelled")
				}
			}
			if err := s.schedule(d); err != nil {
				return err
			}
		}
	}
}

func channelClosed(err error, ok bool) error {
	if !ok || err == nil {
		err = transport.ErrClosed
	}
	return errors.Wrap(err, "broker channel closed")
}

// schedule handles d inline with a single worker, or on a free worker slot.
func (s *Server) schedule(d transport.Delivery) error {
	s.wg.Add(1)
	if s.config.Workers == 1 {
		defer s.wg.Done()
		s.handle(d)
		return nil
	}
	select {
	case s.slots <- struct{}{}:
	case <-s.tomb.Dying():
		s.wg.Done()
		return tomb.ErrDying
	}
	go func() {
		defer func() {
			<-s.slots
			s.wg.Done()
		}()
		s.handle(d)
	}()
	return nil
}

// handle processes one delivery and publishes the reply, if one is wanted.
func (s *Server) handle(d transport.Delivery) {
	start := time.Now()
	s.metrics.AddInFlight(1)
	defer s.metrics.AddInFlight(-1)

	method, c, reply := s.process(d)
	s.metrics.ObserveCall(metrics.Server, method, outcome(reply), time.Since(start))

	props := d.Properties
	if props.ReplyTo == "" {
		s.logger.Debug("no reply-to, dropping reply", zap.String("method", method),
			zap.String("correlation_id", props.CorrelationID))
		return
	}
	body, err := codec.EncodeReply(c, reply)
	if err != nil {
		s.logger.Error("failed to encode reply", zap.String("method", method), zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ch.Publish(s.ctx, "", props.ReplyTo, protocol.ReplyProperties(props), body); err != nil {
		s.logger.Warn("failed to publish reply", zap.String("method", method),
			zap.String("reply_to", props.ReplyTo), zap.Error(err))
	}
}

// process turns a delivery into its reply and the codec to encode it with.
// The protocol layer (decoding, system methods) stays outside the middleware
// chain.
func (s *Server) process(d transport.Delivery) (string, codec.Codec, *message.InvokeReply) {
	c, err := codec.GetCodec(d.Properties.ContentType)
	if err != nil {
		// nothing else to answer in
		return "", &codec.JSONCodec{}, message.ErrorReply(message.Wrap(message.KindMalformedRequest, err, "rejected request"))
	}
	if err := d.Properties.Validate(); err != nil {
		return "", c, message.ErrorReply(message.Wrap(message.KindMalformedRequest, err, "rejected request"))
	}
	req, err := codec.DecodeRequest(c, d.Body)
	if err != nil {
		return "", c, message.ErrorReply(asError(message.KindMalformedRequest, err))
	}
	if protocol.IsSystem(req.Method) {
		if req.Method == protocol.DescribeMethod {
			return req.Method, c, message.DescriptorReply(s.svc.desc)
		}
		return req.Method, c, message.ErrorReply(message.Errorf(message.KindSystemMethodForbidden,
			"%s is reserved", req.Method))
	}
	return req.Method, c, s.handler(s.ctx, req)
}

// dispatch is the innermost handler: it finds the procedure by id, coerces
// the arguments, invokes the implementation and encodes its result.
func (s *Server) dispatch(ctx context.Context, req *message.RabbitMessage) *message.InvokeReply {
	if req.MethodID == nil {
		return message.ErrorReply(message.Errorf(message.KindMalformedRequest, "%s: request has no methodId", req.Method))
	}
	proc, ok := s.svc.desc.ByID(*req.MethodID)
	if !ok {
		return message.ErrorReply(message.Errorf(message.KindProcedureNotFound,
			"%s has no procedure with id %d", s.svc.name, *req.MethodID))
	}

	args, err := codec.CoerceArgs(req.Args, proc, s.svc.table)
	if err != nil {
		return message.ErrorReply(asError(message.KindTypeCoercion, err))
	}

	result, err := s.svc.call(ctx, proc, args)
	if err != nil {
		return message.ErrorReply(message.Wrap(message.KindInternalInvocation, err, proc.Name+" failed"))
	}
	if descriptor.IsVoid(proc.ReturnType) {
		result = nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return message.ErrorReply(message.Wrap(message.KindInternalInvocation, err, "encoding result of "+proc.Name))
	}
	return message.ResultReply(raw)
}

// Shutdown stops the server:
//  1. Deregister from the registry, so clients stop resolving this server
//  2. Stop the loop and cancel the request consumer
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close the channel
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.ch == nil {
		return errors.New("rpc: server not started")
	}
	if s.registered {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.config.Registry.Deregister(ctx, s.svc.name, s.instance.ID); err != nil {
			s.logger.Warn("failed to deregister", zap.Error(err))
		}
		cancel()
		s.registered = false
	}

	// The loop runs a sequential request inline, so it shares the deadline.
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	errTimeout := errors.New("timeout waiting for ongoing requests to finish")

	s.tomb.Kill(nil)
	var err, loopErr error
	select {
	case <-s.tomb.Dead():
		loopErr = s.tomb.Err()
	case <-deadline.C:
		err = errTimeout
	}
	if cerr := s.ch.Cancel(s.consumerTag); cerr != nil {
		s.logger.Debug("cancelling consumer", zap.Error(cerr))
	}

	if err == nil {
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-deadline.C:
			err = errTimeout
		}
	}
	s.cancel()
	if cerr := s.ch.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		s.logger.Debug("closing channel", zap.Error(cerr))
	}
	if err != nil {
		return err
	}
	return loopErr
}

// asError keeps err's kind when it already is a wire error.
func asError(kind message.ErrorKind, err error) *message.Error {
	var merr *message.Error
	if errors.As(err, &merr) {
		return merr
	}
	return message.Errorf(kind, "%v", err)
}

func outcome(reply *message.InvokeReply) string {
	if reply.Error != nil {
		return string(reply.Error.Kind)
	}
	return metrics.OutcomeOK
}
