// ABOUTME: App is the process-wide context object wiring transport, router, store and controller
// ABOUTME: It owns the single backend connection and the single conversation store

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chorus/internal/auth"
	"github.com/2389/coven-chorus/internal/config"
	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/dedupe"
	"github.com/2389/coven-chorus/internal/metrics"
	"github.com/2389/coven-chorus/internal/monitor"
	"github.com/2389/coven-chorus/internal/notify"
	"github.com/2389/coven-chorus/internal/orchestrator"
	"github.com/2389/coven-chorus/internal/router"
	"github.com/2389/coven-chorus/internal/store"
	"github.com/2389/coven-chorus/internal/timers"
	"github.com/2389/coven-chorus/internal/transport"
)

// Deps overrides collaborators. Zero values select production implementations.
type Deps struct {
	// Store replaces the SQLite store at cfg.Database.Path.
	Store store.Store
	// Dialer replaces the gorilla websocket dialer.
	Dialer transport.Dialer
	// Prober replaces the HTTP reachability probe.
	Prober monitor.Prober
	// Scheduler replaces wall-clock timers.
	Scheduler timers.Scheduler
	// Registerer receives the metrics. Nil means a private registry.
	Registerer prometheus.Registerer
	// Notifier receives user-facing notifications in addition to the log.
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// App holds every long-lived component of a chorus client.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store         store.Store
	catalog       *store.Catalog
	conversations *conversation.Store
	transport     *transport.Transport
	router        *router.Router
	controller    *orchestrator.Controller
	monitor       *monitor.Monitor
	notifier      notify.Notifier

	connectedSub transport.SubscriptionID

	closeOnce sync.Once
	closeErr  error
}

// New builds an App from cfg. Conversations persisted by a previous run are
// loaded before New returns. Nothing connects until Start or Run.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger}

	reg := deps.Registerer
	if reg == nil {
		a.registry = prometheus.NewRegistry()
		reg = a.registry
	}
	a.metrics = metrics.New(reg)

	s, err := initStore(cfg, deps)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.catalog = store.NewCatalog(s)

	a.notifier = buildNotifier(logger, deps.Notifier)

	a.conversations = conversation.NewStore(conversation.Options{
		Logger:              logger.With("component", "conversations"),
		Persister:           s,
		Broadcaster:         conversation.NewBroadcaster(logger.With("component", "broadcaster")),
		Metrics:             a.metrics,
		CompletionThreshold: cfg.Orchestration.CompletionThreshold,
	})
	if _, err := a.conversations.Load(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	wsURL, err := transport.WebsocketURL(cfg.Backend.URL, cfg.Backend.WebsocketPath)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	token, err := clientToken(cfg.Auth)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	prober := deps.Prober
	if prober == nil {
		prober = monitor.NewHTTPProber(cfg.Backend.URL, &http.Client{Timeout: cfg.Monitor.ProbeTimeout}, a.metrics)
	}
	dialer := deps.Dialer
	if dialer == nil {
		dialer = transport.NewWebsocketDialer(cfg.Transport.DialTimeout)
	}

	a.transport = transport.New(transport.Options{
		URL:          wsURL,
		Token:        token,
		Dialer:       dialer,
		Prober:       prober,
		Scheduler:    deps.Scheduler,
		BaseDelay:    cfg.Transport.ReconnectBase,
		MaxDelay:     cfg.Transport.MaxDelay,
		MaxAttempts:  cfg.Transport.MaxAttempts,
		DialTimeout:  cfg.Transport.DialTimeout,
		PingInterval: cfg.Transport.PingInterval,
		Logger:       logger,
		Metrics:      a.metrics,
	})

	a.controller = orchestrator.New(orchestrator.Options{
		Sender:          a.transport,
		Conversations:   a.conversations,
		Catalog:         a.catalog,
		Scheduler:       deps.Scheduler,
		Notifier:        a.notifier,
		Metrics:         a.metrics,
		Logger:          logger,
		SettleDelay:     cfg.Orchestration.SettleDelay,
		AutoInterval:    cfg.Orchestration.AutoInterval,
		TurnTimeout:     turnTimeout(cfg.Orchestration.TurnTimeout),
		ContextMessages: cfg.Orchestration.ContextMessages,
	})

	a.router = router.New(router.Options{
		Conversations: a.conversations,
		Turns:         a.controller,
		Publisher:     a.transport,
		Notifier:      a.notifier,
		Logger:        logger,
	})
	a.transport.SetDispatcher(a.router)
	a.connectedSub = a.transport.On(transport.TopicConnected, func(transport.Event) {
		a.controller.OnConnected()
	})

	a.monitor = monitor.New(monitor.Options{
		Prober:    prober,
		Link:      a.transport,
		Interval:  cfg.Monitor.Interval,
		Scheduler: deps.Scheduler,
		Logger:    logger,
	})

	return a, nil
}

func initStore(cfg *config.Config, deps Deps) (store.Store, error) {
	if deps.Store != nil {
		return deps.Store, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// buildNotifier logs every notification and forwards it to extra, with
// repeats inside the dedupe window suppressed.
func buildNotifier(logger *slog.Logger, extra notify.Notifier) notify.Notifier {
	sinks := notify.Multi{notify.NewLog(logger)}
	if extra != nil {
		sinks = append(sinks, extra)
	}
	return notify.NewDeduped(sinks, dedupe.New(dedupe.Options{}))
}

// clientToken mints the bearer token presented on the websocket handshake.
// No secret means no token.
func clientToken(cfg config.AuthConfig) (string, error) {
	if cfg.JWTSecret == "" {
		return "", nil
	}
	signer, err := auth.NewSigner([]byte(cfg.JWTSecret))
	if err != nil {
		return "", err
	}
	token, err := signer.Generate(cfg.ClientID, cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("minting client token: %w", err)
	}
	return token, nil
}

// turnTimeout maps the config convention (0 disables) onto the controller's
// (negative disables, 0 selects the default).
func turnTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Conversations returns the conversation store.
func (a *App) Conversations() *conversation.Store { return a.conversations }

// Catalog returns the persona and model catalog.
func (a *App) Catalog() *store.Catalog { return a.catalog }

// Controller returns the turn controller.
func (a *App) Controller() *orchestrator.Controller { return a.controller }

// Transport returns the backend connection.
func (a *App) Transport() *transport.Transport { return a.transport }

// Monitor returns the availability monitor.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// Metrics returns the metric set.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Start begins availability monitoring. The monitor enables the transport
// and connects once the backend answers.
func (a *App) Start(ctx context.Context) {
	a.monitor.Start(ctx)
}

// Run starts the App and blocks until ctx is cancelled, serving /metrics
// alongside when enabled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Start(gctx)

	if a.cfg.Metrics.Enabled {
		srv := a.metricsServer()
		g.Go(func() error {
			a.logger.Info("metrics server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

func (a *App) metricsServer() *http.Server {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if a.registry != nil {
		gatherer = a.registry
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// MetricsHandler serves the App's metrics.
func (a *App) MetricsHandler() http.Handler {
	return a.metricsServer().Handler
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Close stops every timer, closes the connection and the store. Later
// calls return the first result.
func (a *App) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.shutdown() })
	return a.closeErr
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")

	a.monitor.Stop()
	a.controller.Close()
	a.transport.Off(transport.TopicConnected, a.connectedSub)
	_ = a.transport.SetEnabled(context.Background(), false)
	a.conversations.Broadcaster().Close()

	var errs []error
	errs = appendCloseError(errs, "store close", a.store.Close())
	return errors.Join(errs...)
}
