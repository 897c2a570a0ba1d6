package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"mq-rpc/client"
	"mq-rpc/config"
	"mq-rpc/descriptor"
	"mq-rpc/internal/sample"
	"mq-rpc/loadbalance"
	"mq-rpc/logger"
	"mq-rpc/metrics"
	"mq-rpc/middleware"
	"mq-rpc/proxy"
	"mq-rpc/registry"
	"mq-rpc/server"
	"mq-rpc/transport"
)

const (
	calculatorQueue = "calculator"
	peopleQueue     = "people"
)

// env holds what every command needs: configuration, broker, registry and
// the servers and bindings it started, released by close.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	broker   transport.Broker
	registry registry.Registry

	closers []func()
}

func newEnv(c *cli.Context) (*env, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if url := c.GlobalString("amqp"); url != "" {
		cfg.Broker.URL = url
	}
	if c.GlobalBool("memory") {
		cfg.Broker.Memory = true
	}
	if addr := c.GlobalString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if level := c.GlobalString("log-level"); level != "" {
		cfg.Log.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger.New(*cfg), metrics: metrics.NewCollector()}
	e.onClose(func() { e.logger.Sync() })

	if cfg.Metrics.Addr != "" {
		e.serveMetrics(cfg.Metrics.Addr)
	}

	if cfg.Broker.Memory {
		e.broker = transport.NewMemoryBroker()
	} else {
		b, err := transport.DialAMQP(cfg.Broker.URL)
		if err != nil {
			e.close()
			return nil, err
		}
		e.broker = b
		e.onClose(func() { b.Close() })
	}

	if len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, e.logger)
		if err != nil {
			e.close()
			return nil, err
		}
		e.registry = reg
		e.onClose(func() { reg.Close() })
	} else if cfg.Broker.Memory {
		e.registry = registry.NewMemoryRegistry()
	}
	return e, nil
}

func (e *env) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *env) serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e.metrics)
	srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	e.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}

// startServer serves impl on queue with the configured middleware chain.
func (e *env) startServer(queue string, ifacePtr, impl any) (*server.Server, error) {
	sc := e.cfg.Server
	s, err := server.NewServer(e.broker, server.Config{
		Queue:      queue,
		Durable:    sc.Durable,
		Exchange:   sc.Exchange,
		RoutingKey: routingKey(sc.RoutingKey, queue),
		Workers:    sc.Workers,
		Registry:   e.registry,
		Instance:   registry.ServiceInstance{Weight: sc.Weight, Version: sc.Version},
		TTL:        e.cfg.Registry.TTL,
		Logger:     e.logger,
		Metrics:    e.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Register(ifacePtr, impl); err != nil {
		return nil, err
	}
	s.Use(middleware.LoggingMiddleware(e.logger))
	if sc.RateLimit > 0 {
		s.Use(middleware.RateLimitMiddleware(sc.RateLimit, sc.RateBurst))
	}
	if sc.HandlerTimeout > 0 {
		s.Use(middleware.TimeOutMiddleware(sc.HandlerTimeout))
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	e.onClose(func() {
		if err := s.Shutdown(5 * time.Second); err != nil {
			e.logger.Warn("server shutdown", zap.String("queue", queue), zap.Error(err))
		}
	})
	return s, nil
}

func routingKey(configured, queue string) string {
	if configured != "" {
		return configured
	}
	return queue
}

// bind returns a proxy for the interface served on queue. With a registry the
// destination is discovered, otherwise the queue is addressed directly. In
// memory mode the service is started in-process first.
func (e *env) bind(queue string, ifacePtr, impl any) (*proxy.Proxy, error) {
	if e.cfg.Broker.Memory {
		if _, err := e.startServer(queue, ifacePtr, impl); err != nil {
			return nil, err
		}
	}

	cc := e.cfg.Client
	engineConfig := client.Config{
		Exchange:         cc.Exchange,
		RoutingKey:       routingKey(cc.RoutingKey, queue),
		Timeout:          cc.Timeout,
		SweepInterval:    cc.SweepInterval,
		SharedReplyQueue: cc.SharedReplyQueue,
		Logger:           e.logger,
		Metrics:          e.metrics,
	}
	if e.registry != nil {
		if err := e.discover(&engineConfig, ifacePtr); err != nil {
			return nil, err
		}
	}

	binding, err := proxy.Bind(e.broker, ifacePtr, engineConfig, cc.RequestTimeout)
	if err != nil {
		return nil, err
	}
	e.onClose(func() { binding.Close() })
	return binding.Proxy, nil
}

func (e *env) discover(engineConfig *client.Config, ifacePtr any) error {
	balancer, err := loadbalance.New(e.cfg.Client.Balancer, uuid.NewString())
	if err != nil {
		return err
	}
	iface, err := descriptor.InterfaceOf(ifacePtr)
	if err != nil {
		return err
	}
	desc, err := descriptor.Reflect(iface, descriptor.NewTypeTable())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	instance, err := client.Resolve(ctx, e.registry, balancer, desc.ClassName)
	if err != nil {
		return errors.Wrap(err, "discovering server")
	}
	engineConfig.Target(instance)
	e.logger.Info("discovered server", zap.String("service", desc.ClassName),
		zap.String("instance", instance.ID), zap.String("balancer", balancer.Name()))
	return nil
}

func (e *env) calculator() (*sample.CalculatorClient, error) {
	p, err := e.bind(calculatorQueue, (*sample.Calculator)(nil), sample.NewCalculator())
	if err != nil {
		return nil, err
	}
	return sample.NewCalculatorClient(p), nil
}

func (e *env) people() (*sample.PersonRepositoryClient, error) {
	p, err := e.bind(peopleQueue, (*sample.PersonRepository)(nil), sample.NewPersonRepository())
	if err != nil {
		return nil, err
	}
	return sample.NewPersonRepositoryClient(p), nil
}
