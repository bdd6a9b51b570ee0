// ABOUTME: Availability monitor: periodic HTTP reachability probe toggling the transport
// ABOUTME: Probe failures are reported as unreachable, never as errors

package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-chorus/internal/metrics"
	"github.com/2389/coven-chorus/internal/timers"
)

// Defaults
const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// HTTPProber checks reachability with a plain GET.
type HTTPProber struct {
	url     string
	client  *http.Client
	metrics *metrics.Metrics
}

// NewHTTPProber creates a prober for baseURL. A nil client gets one with
// DefaultProbeTimeout.
func NewHTTPProber(baseURL string, client *http.Client, m *metrics.Metrics) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &HTTPProber{url: baseURL, client: client, metrics: m}
}

// Probe reports whether the backend answered with a non-server-error status.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	ok := p.probe(ctx)
	p.metrics.RecordProbe(ok)
	return ok
}

func (p *HTTPProber) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Prober is anything that can check reachability.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Link is the part of the transport the monitor drives.
type Link interface {
	SetEnabled(ctx context.Context, enabled bool) error
	Connect(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	Prober    Prober
	Link      Link
	Interval  time.Duration
	Scheduler timers.Scheduler
	Logger    *slog.Logger
}

// Monitor periodically probes the backend and toggles the Link.
type Monitor struct {
	mu        sync.Mutex
	prober    Prober
	link      Link
	interval  time.Duration
	sched     timers.Scheduler
	logger    *slog.Logger
	timer     timers.Timer
	reachable bool
	running   bool
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = timers.Real()
	}
	return &Monitor{
		prober:   opts.Prober,
		link:     opts.Link,
		interval: interval,
		sched:    sched,
		logger:   logger.With("component", "monitor"),
	}
}

// Start probes immediately and then on every interval until Stop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.tick(ctx)
}

// Stop cancels the next probe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	timers.Stop(m.timer)
	m.timer = nil
}

// Reachable reports the result of the latest probe.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

func (m *Monitor) tick(ctx context.Context) {
	m.Check(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || ctx.Err() != nil {
		return
	}
	m.timer = m.sched.AfterFunc(m.interval, func() { m.tick(ctx) })
}

// Check runs one probe and applies any reachability change to the Link.
func (m *Monitor) Check(ctx context.Context) bool {
	up := m.prober.Probe(ctx)

	m.mu.Lock()
	changed := up != m.reachable
	m.reachable = up
	m.mu.Unlock()

	if !changed {
		return up
	}

	if up {
		m.logger.Info("backend reachable")
		if err := m.link.SetEnabled(ctx, true); err != nil {
			m.logger.Warn("enable failed", "error", err)
		}
		if err := m.link.Connect(ctx); err != nil {
			m.logger.Warn("connect failed", "error", err)
		}
	} else {
		m.logger.Warn("backend unreachable")
		if err := m.link.SetEnabled(ctx, false); err != nil {
			m.logger.Warn("disable failed", "error", err)
		}
	}
	return up
}
