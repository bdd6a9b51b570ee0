// ABOUTME: Websocket transport with enable gating, reachability-gated connect, and backoff reconnects
// ABOUTME: Decodes inbound frames in arrival order and hands them to the protocol router

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-chorus/internal/metrics"
	"github.com/2389/coven-chorus/internal/protocol"
	"github.com/2389/coven-chorus/internal/timers"
)

const (
	// DefaultBaseDelay is the delay before the first reconnect attempt.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps the reconnect delay.
	DefaultMaxDelay = 30 * time.Second
	// DefaultMaxAttempts is the number of automatic reconnects before giving up.
	DefaultMaxAttempts = 5
	// DefaultDialTimeout bounds probe plus handshake for timer-driven reconnects.
	DefaultDialTimeout = 15 * time.Second

	backoffFactor = 1.5
)

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Prober reports backend reachability. Implementations must not return errors.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Dispatcher receives every decoded inbound envelope.
type Dispatcher interface {
	Dispatch(env *protocol.Envelope)
}

// Options configures a Transport. Zero values select defaults.
type Options struct {
	URL          string
	Token        string
	Dialer       Dialer
	Prober       Prober
	Scheduler    timers.Scheduler
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Transport is the single connection to the backend.
type Transport struct {
	url          string
	token        string
	dialer       Dialer
	prober       Prober
	sched        timers.Scheduler
	maxAttempts  int
	dialTimeout  time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu             sync.Mutex
	backoff        *backoff.ExponentialBackOff
	enabled        bool
	dialing        bool
	conn           Conn
	attempts       int
	reconnectTimer timers.Timer
	pingTimer      timers.Timer
	dispatcher     Dispatcher

	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[Topic][]subscription
}

type alwaysReachable struct{}

func (alwaysReachable) Probe(context.Context) bool { return true }

// New creates a disabled Transport. Call SetEnabled(ctx, true) to connect.
func New(opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebsocketDialer(10 * time.Second)
	}
	if opts.Prober == nil {
		opts.Prober = alwaysReachable{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timers.Real()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}

	return &Transport{
		url:          opts.URL,
		token:        opts.Token,
		dialer:       opts.Dialer,
		prober:       opts.Prober,
		sched:        opts.Scheduler,
		maxAttempts:  opts.MaxAttempts,
		dialTimeout:  opts.DialTimeout,
		pingInterval: opts.PingInterval,
		logger:       opts.Logger.With("component", "transport"),
		metrics:      opts.Metrics,
		backoff:      newBackOff(opts.BaseDelay, opts.MaxDelay),
		subs:         make(map[Topic][]subscription),
	}
}

// newBackOff returns the reconnect schedule: base, then ×1.5 per attempt,
// capped at maxDelay, without jitter and without an elapsed-time limit.
func newBackOff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = backoffFactor
	b.MaxInterval = maxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ReconnectDelay returns the delay before reconnect attempt n (1-based).
func ReconnectDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	b := newBackOff(base, maxDelay)
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// SetDispatcher installs the handler for decoded envelopes. Without one,
// envelopes are published to topic subscribers directly.
func (t *Transport) SetDispatcher(d Dispatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatcher = d
}

// SetEnabled gates the connection. Enabling connects if no connection is live;
// disabling closes the connection and cancels pending reconnects. Calling it
// with the current state does nothing.
func (t *Transport) SetEnabled(ctx context.Context, enabled bool) error {
	t.mu.Lock()
	if t.enabled == enabled {
		t.mu.Unlock()
		return nil
	}
	t.enabled = enabled

	if !enabled {
		conn := t.detachLocked()
		t.mu.Unlock()
		t.logger.Info("transport disabled")
		t.closeConn(conn)
		return nil
	}

	t.attempts = 0
	t.backoff.Reset()
	live := t.conn != nil
	t.mu.Unlock()

	t.logger.Info("transport enabled")
	if live {
		return nil
	}
	return t.connect(ctx, false)
}

// Connect probes the backend and opens a connection if the transport is
// enabled, the backend is reachable and no connection is live. It starts a
// fresh reconnect cycle: a dial failure schedules attempt 1 again.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	timers.Stop(t.reconnectTimer)
	t.reconnectTimer = nil
	t.attempts = 0
	t.backoff.Reset()
	t.mu.Unlock()

	return t.connect(ctx, false)
}

func (t *Transport) connect(ctx context.Context, automatic bool) error {
	t.mu.Lock()
	if !t.enabled || t.conn != nil || t.dialing {
		t.mu.Unlock()
		return nil
	}
	t.dialing = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
	}()

	if !t.prober.Probe(ctx) {
		t.logger.Debug("backend unreachable, skipping connect", "automatic", automatic)
		if automatic {
			t.mu.Lock()
			t.scheduleReconnectLocked()
			t.mu.Unlock()
		}
		return nil
	}

	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, err := t.dialer.Dial(ctx, t.url, header)
	if err != nil {
		t.mu.Lock()
		t.scheduleReconnectLocked()
		t.mu.Unlock()
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}

	t.mu.Lock()
	if !t.enabled {
		// Disabled while the handshake was in flight.
		t.mu.Unlock()
		t.closeConn(conn)
		return nil
	}
	t.conn = conn
	t.attempts = 0
	t.backoff.Reset()
	timers.Stop(t.reconnectTimer)
	t.reconnectTimer = nil
	t.schedulePingLocked(conn)
	t.mu.Unlock()

	t.metrics.SetConnected(true)
	t.logger.Info("connected to backend", "url", t.url)
	t.emit(Event{Topic: TopicConnected})

	go t.readLoop(conn)
	return nil
}

// Disconnect closes the live connection, if any, and cancels pending reconnects.
// It does not change the enabled flag.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.detachLocked()
	t.mu.Unlock()

	t.closeConn(conn)
}

// detachLocked clears the connection handle and all timers. Must be called with mu held.
func (t *Transport) detachLocked() Conn {
	timers.Stop(t.reconnectTimer)
	t.reconnectTimer = nil
	timers.Stop(t.pingTimer)
	t.pingTimer = nil

	conn := t.conn
	t.conn = nil
	return conn
}

// closeConn performs a clean close and announces it. Nil is ignored.
func (t *Transport) closeConn(conn Conn) {
	if conn == nil {
		return
	}

	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	_ = conn.Close()

	t.metrics.SetConnected(false)
	t.logger.Info("disconnected from backend")
	t.emit(Event{Topic: TopicDisconnected})
}

// Send transmits one envelope and reports whether it was written to an open
// connection. Nothing is queued: a false result means the command is lost.
func (t *Transport) Send(typ protocol.Type, data any) bool {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.metrics.RecordSend(string(typ), false)
		t.logger.Debug("send while disconnected", "type", typ)
		return false
	}

	raw, err := protocol.Encode(typ, data)
	if err != nil {
		t.metrics.RecordSend(string(typ), false)
		t.logger.Error("encoding envelope", "type", typ, "error", err)
		return false
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	t.writeMu.Unlock()

	if err != nil {
		t.metrics.RecordSend(string(typ), false)
		t.logger.Warn("write failed", "type", typ, "error", err)
		return false
	}

	t.metrics.RecordSend(string(typ), true)
	return true
}

// readLoop delivers frames from one connection until it closes.
func (t *Transport) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(conn, err)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			t.metrics.RecordDrop()
			t.logger.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		t.metrics.RecordReceive(string(env.Type))

		t.mu.Lock()
		d := t.dispatcher
		t.mu.Unlock()

		if d != nil {
			d.Dispatch(env)
		} else {
			t.Publish(env)
		}
	}
}

// handleClose reacts to the end of a read loop. Connections we closed ourselves
// are no longer current and are ignored.
func (t *Transport) handleClose(conn Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	timers.Stop(t.pingTimer)
	t.pingTimer = nil

	clean := isCleanClose(err)
	if !clean {
		t.scheduleReconnectLocked()
	}
	t.mu.Unlock()

	_ = conn.Close()
	t.metrics.SetConnected(false)
	t.logger.Warn("connection closed", "clean", clean, "error", err)
	t.emit(Event{Topic: TopicDisconnected, Err: err})
}

// isCleanClose reports whether the peer closed with 1000. Going away,
// restart and server-error codes still mean the backend may come back.
func isCleanClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure
	}
	return false
}

// scheduleReconnectLocked arms the reconnect timer. Must be called with mu held.
func (t *Transport) scheduleReconnectLocked() {
	if !t.enabled || t.reconnectTimer != nil {
		return
	}
	if t.attempts >= t.maxAttempts {
		t.logger.Warn("giving up on automatic reconnects", "attempts", t.attempts)
		return
	}

	t.attempts++
	attempt := t.attempts
	delay := t.backoff.NextBackOff()
	t.metrics.RecordReconnect()
	t.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)

	var tm timers.Timer
	tm = t.sched.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.reconnectTimer != tm {
			t.mu.Unlock()
			return
		}
		t.reconnectTimer = nil
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
		defer cancel()
		if err := t.connect(ctx, true); err != nil {
			t.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		}
	})
	t.reconnectTimer = tm
}

// schedulePingLocked arms the keepalive ping for conn. Must be called with mu held.
func (t *Transport) schedulePingLocked(conn Conn) {
	if t.pingInterval <= 0 {
		return
	}
	t.pingTimer = t.sched.AfterFunc(t.pingInterval, func() {
		t.Send(protocol.TypePing, nil)

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.conn == conn {
			t.schedulePingLocked(conn)
		}
	})
}

// Connected reports whether a connection is open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Enabled reports the enabled flag.
func (t *Transport) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Attempts returns the current reconnect attempt counter.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// ReconnectPending reports whether a reconnect timer is armed.
func (t *Transport) ReconnectPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconnectTimer != nil
}
