package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"billtrack/internal/amqp"
	"billtrack/internal/billcache"
	"billtrack/internal/cache"
	"billtrack/internal/chat"
	"billtrack/internal/cli"
	"billtrack/internal/config"
	"billtrack/internal/core"
	"billtrack/internal/filter"
	"billtrack/internal/gateway"
	"billtrack/internal/log"
	"billtrack/internal/session"
	"billtrack/internal/storage"
)

const cacheCleanInterval = time.Minute

// app owns every service of one process. It is built once in main and
// passed to the subcommands.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	stderr io.Writer

	store    *storage.Store
	session  *session.Manager
	api      *gateway.Client
	bills    *billcache.Cache
	summary  *billcache.SummaryWatcher
	filters  *filter.Controller
	chat     *chat.Session
	caches   *cache.Manager
	relay    *amqp.Relay
	broker   *amqp.Client
	closers  []func()
	relayErr chan error
}

func newApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cli.LoadEnvFile()
	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, stderr)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.StateDBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, stderr: stderr, store: store}
	a.closers = append(a.closers, func() { _ = store.Close() })

	httpClient := &http.Client{Transport: log.NewTransport(nil, logger)}

	// Session calls never carry a credential, so they go through a gateway
	// without an authenticator.
	plain, err := gateway.New(cfg.APIBaseURL, nil,
		gateway.WithHTTPClient(httpClient),
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = session.NewManager(store, plain, logger)

	a.api, err = gateway.New(cfg.APIBaseURL, a.session,
		gateway.WithHTTPClient(httpClient),
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.bills = billcache.New(a.api, store, logger)

	summaryCache := billcache.NewSummaryCache(cfg.SummaryTTL)
	a.summary = billcache.NewSummaryWatcher(a.api, a.bills, summaryCache, logger)
	a.closers = append(a.closers, a.summary.Close)

	a.caches = cache.NewManager(logger)
	a.caches.Register(summaryCache)
	a.caches.Start(ctx, cacheCleanInterval)
	a.closers = append(a.closers, a.caches.Stop)

	a.filters = filter.NewController(a.bills, filter.Default(core.Today()), logger)
	a.chat = chat.NewSession(chat.NewAPIAnalyzer(a.api, cfg.AnalysisTimeout), a.bills, logger)

	a.closers = append(a.closers,
		a.session.OnSessionChanged(func(_ session.Session, _ bool) {
			a.chat.Reset()
			a.summary.Invalidate()
		}),
		a.session.OnAuthFailed(func(err error) {
			fmt.Fprintln(a.stderr, core.UserMessage(err))
		}),
		a.session.Watch(),
	)

	if err := a.session.Restore(ctx); err != nil {
		logger.Warn("Persisted session discarded", log.FieldError, err)
	}
	if err := a.bills.Load(ctx); err != nil {
		logger.Warn("Cached bills unavailable", log.FieldError, err)
	}

	a.startRelay(ctx)
	return a, nil
}

// startRelay connects to the broker when one is configured. A broker that
// cannot be reached only disables cross-process notifications.
func (a *app) startRelay(ctx context.Context) {
	if a.cfg.AMQPURL == "" {
		return
	}
	broker, err := amqp.NewClient(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.logger)
	if err != nil {
		a.logger.Warn("Storage relay disabled", log.FieldError, err)
		return
	}
	a.broker = broker
	a.relay = amqp.NewRelay(broker, a.store, a.logger)

	ctx, cancel := context.WithCancel(ctx)
	a.relayErr = make(chan error, 1)
	go func() {
		a.relayErr <- a.relay.Run(ctx)
	}()
	a.closers = append(a.closers, func() {
		cancel()
		if err := <-a.relayErr; err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Storage relay stopped", log.FieldError, err)
		}
		_ = broker.Close()
	})
}

// requireLogin fails fast when no session exists.
func (a *app) requireLogin() (session.Session, error) {
	s, ok := a.session.Current()
	if !ok {
		return session.Session{}, core.ErrNotAuthenticated
	}
	return s, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
