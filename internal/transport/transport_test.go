// ABOUTME: Tests for the transport's connect gating, reconnect policy, and frame handling
// ABOUTME: Uses in-memory connections and the fake scheduler for deterministic backoff

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chorus/internal/protocol"
	"github.com/2389/coven-chorus/internal/timers"
)

type fakeConn struct {
	frames chan []byte
	errs   chan error

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		errs:   make(chan error, 1),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case err := <-c.errs:
		return 0, nil, err
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	if messageType == websocket.TextMessage {
		c.written = append(c.written, data)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}:
		default:
		}
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) drop(err error) {
	c.errs <- err
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    bool
	dials   int
	conns   []*fakeConn
	headers []http.Header
}

func (d *fakeDialer) Dial(_ context.Context, _ string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeProber struct {
	mu        sync.Mutex
	reachable bool
}

func (p *fakeProber) Probe(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable
}

func (p *fakeProber) set(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable = v
}

type recordingDispatcher struct {
	mu   sync.Mutex
	envs []*protocol.Envelope
}

func (r *recordingDispatcher) Dispatch(env *protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recordingDispatcher) types() []protocol.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Type, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Type
	}
	return out
}

func newTestTransport(t *testing.T) (*Transport, *fakeDialer, *timers.Fake) {
	t.Helper()
	d := &fakeDialer{}
	sched := timers.NewFake()
	tr := New(Options{
		URL:       "ws://backend.test/ws",
		Dialer:    d,
		Scheduler: sched,
	})
	t.Cleanup(tr.Disconnect)
	return tr, d, sched
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 1500 * time.Millisecond},
		{3, 2250 * time.Millisecond},
		{4, 3375 * time.Millisecond},
		{5, 5062500 * time.Microsecond},
		{9, 25628906250 * time.Nanosecond},
		{10, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReconnectDelay(time.Second, 30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestSend_WhileDisconnectedReturnsFalseAndNeverDelivers(t *testing.T) {
	tr, d, _ := newTestTransport(t)

	assert.False(t, tr.Send(protocol.TypeNextTurn, protocol.NextTurnCommand{ConversationID: "c1"}))

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	require.True(t, tr.Connected())
	assert.Empty(t, d.last().Written(), "a failed send must not be replayed after connecting")

	assert.True(t, tr.Send(protocol.TypePing, nil))
	assert.Len(t, d.last().Written(), 1)
}

func TestConnect_NoopWhenDisabled(t *testing.T) {
	tr, d, _ := newTestTransport(t)

	require.NoError(t, tr.Connect(t.Context()))
	assert.Equal(t, 0, d.Dials())
	assert.False(t, tr.Connected())
}

func TestConnect_NoopWhenProbeFails(t *testing.T) {
	d := &fakeDialer{}
	sched := timers.NewFake()
	prober := &fakeProber{}
	tr := New(Options{URL: "ws://backend.test/ws", Dialer: d, Prober: prober, Scheduler: sched})
	defer tr.Disconnect()

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	assert.Equal(t, 0, d.Dials())
	assert.Equal(t, 0, sched.Pending(), "a failed probe on a manual connect schedules nothing")

	prober.set(true)
	require.NoError(t, tr.Connect(t.Context()))
	assert.True(t, tr.Connected())
}

func TestConnect_EmitsConnectedAndResetsAttempts(t *testing.T) {
	tr, _, _ := newTestTransport(t)

	var connected int
	tr.On(TopicConnected, func(Event) { connected++ })

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	assert.Equal(t, 1, connected)
	assert.Equal(t, 0, tr.Attempts())

	// Enabling again is idempotent.
	require.NoError(t, tr.SetEnabled(t.Context(), true))
	assert.Equal(t, 1, connected)
}

func TestConnect_SendsBearerToken(t *testing.T) {
	d := &fakeDialer{}
	tr := New(Options{URL: "ws://backend.test/ws", Token: "tok-123", Dialer: d, Scheduler: timers.NewFake()})
	defer tr.Disconnect()

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	assert.Equal(t, "Bearer tok-123", d.headers[0].Get("Authorization"))
}

func TestReconnect_BackoffSequenceAndCeiling(t *testing.T) {
	tr, d, sched := newTestTransport(t)
	require.NoError(t, tr.SetEnabled(t.Context(), true))

	d.setFail(true)
	d.last().drop(io.ErrUnexpectedEOF)

	require.Eventually(t, tr.ReconnectPending, time.Second, 5*time.Millisecond)

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
	}
	for i, w := range want {
		delay, ok := sched.NextDelay()
		require.True(t, ok, "attempt %d should be scheduled", i+1)
		assert.Equal(t, w, delay, "attempt %d", i+1)
		sched.Advance(delay)
	}

	assert.False(t, tr.ReconnectPending(), "no automatic attempts after the ceiling")
	assert.Equal(t, 0, sched.Pending())
	assert.Equal(t, 5, tr.Attempts())
	assert.Equal(t, 1+5, d.Dials())
	assert.Equal(t, want, sched.Delays())

	// An explicit Connect starts a fresh cycle.
	err := tr.Connect(t.Context())
	require.Error(t, err)
	delay, ok := sched.NextDelay()
	require.True(t, ok)
	assert.Equal(t, time.Second, delay)
}

func TestReconnect_SuccessResetsCounter(t *testing.T) {
	tr, d, sched := newTestTransport(t)
	require.NoError(t, tr.SetEnabled(t.Context(), true))

	d.setFail(true)
	d.last().drop(io.ErrUnexpectedEOF)
	require.Eventually(t, tr.ReconnectPending, time.Second, 5*time.Millisecond)

	sched.Advance(time.Second)
	assert.Equal(t, 2, tr.Attempts())

	d.setFail(false)
	sched.Advance(1500 * time.Millisecond)
	assert.True(t, tr.Connected())
	assert.Equal(t, 0, tr.Attempts())
	assert.Equal(t, 0, sched.Pending())
}

func TestReconnect_ProbeFailureDuringAutomaticAttemptCounts(t *testing.T) {
	d := &fakeDialer{}
	sched := timers.NewFake()
	prober := &fakeProber{reachable: true}
	tr := New(Options{URL: "ws://backend.test/ws", Dialer: d, Prober: prober, Scheduler: sched})
	defer tr.Disconnect()

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	prober.set(false)
	d.last().drop(io.ErrUnexpectedEOF)
	require.Eventually(t, tr.ReconnectPending, time.Second, 5*time.Millisecond)

	sched.Advance(time.Second)
	delay, ok := sched.NextDelay()
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, delay)
}

func TestCleanClose_DoesNotReconnect(t *testing.T) {
	tr, d, sched := newTestTransport(t)

	disconnected := make(chan error, 1)
	tr.On(TopicDisconnected, func(ev Event) { disconnected <- ev.Err })

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	d.last().drop(&websocket.CloseError{Code: websocket.CloseNormalClosure})

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	assert.False(t, tr.Connected())
	assert.Equal(t, 0, sched.Pending())
}

func TestCloseCodes_OtherThanNormalReconnect(t *testing.T) {
	codes := map[string]int{
		"going away":      websocket.CloseGoingAway,
		"internal error":  websocket.CloseInternalServerErr,
		"service restart": websocket.CloseServiceRestart,
		"abnormal":        websocket.CloseAbnormalClosure,
	}
	for name, code := range codes {
		t.Run(name, func(t *testing.T) {
			tr, d, sched := newTestTransport(t)
			require.NoError(t, tr.SetEnabled(t.Context(), true))

			d.last().drop(&websocket.CloseError{Code: code})
			require.Eventually(t, tr.ReconnectPending, time.Second, 5*time.Millisecond)

			delay, ok := sched.NextDelay()
			require.True(t, ok)
			assert.Equal(t, time.Second, delay)

			sched.Advance(delay)
			assert.True(t, tr.Connected())
			assert.Equal(t, 2, d.Dials())
		})
	}
}

func TestSetEnabledFalse_ClosesAndClearsTimers(t *testing.T) {
	tr, d, sched := newTestTransport(t)
	require.NoError(t, tr.SetEnabled(t.Context(), true))

	d.setFail(true)
	d.last().drop(io.ErrUnexpectedEOF)
	require.Eventually(t, tr.ReconnectPending, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.SetEnabled(t.Context(), false))
	assert.False(t, tr.ReconnectPending())
	assert.Equal(t, 0, sched.Pending(), "disabling must cancel the reconnect timer")

	sched.Advance(time.Minute)
	assert.Equal(t, 1, d.Dials())
}

func TestSetEnabledFalse_ClosesLiveConnection(t *testing.T) {
	tr, d, _ := newTestTransport(t)
	require.NoError(t, tr.SetEnabled(t.Context(), true))
	conn := d.last()

	require.NoError(t, tr.SetEnabled(t.Context(), false))
	assert.False(t, tr.Connected())
	assert.True(t, conn.isClosed())
	assert.False(t, tr.Send(protocol.TypePing, nil))
}

func TestDisconnect_SafeWhenDisconnected(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	tr.Disconnect()
	tr.Disconnect()
	assert.False(t, tr.Connected())
}

func TestReadLoop_MalformedFrameDoesNotAffectOthers(t *testing.T) {
	tr, d, sched := newTestTransport(t)
	rec := &recordingDispatcher{}
	tr.SetDispatcher(rec)
	require.NoError(t, tr.SetEnabled(t.Context(), true))

	conn := d.last()
	conn.frames <- []byte(`{"type":"pong","data":{"timestamp":1}}`)
	conn.frames <- []byte(`{not json`)
	conn.frames <- []byte(`{"data":{}}`)
	conn.frames <- []byte(`{"type":"model_registered","data":{"model_id":"m1"}}`)

	require.Eventually(t, func() bool { return len(rec.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []protocol.Type{protocol.TypePong, protocol.TypeModelRegistered}, rec.types())
	assert.True(t, tr.Connected())
	assert.Equal(t, 0, sched.Pending())
}

func TestReadLoop_PublishesWithoutDispatcher(t *testing.T) {
	tr, d, _ := newTestTransport(t)

	got := make(chan *protocol.Envelope, 1)
	tr.On(EnvelopeTopic("custom_event"), func(ev Event) { got <- ev.Envelope })
	require.NoError(t, tr.SetEnabled(t.Context(), true))

	d.last().frames <- []byte(`{"type":"custom_event","data":{"x":1}}`)

	select {
	case env := <-got:
		assert.Equal(t, int64(1), env.Field("x").Int())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestOnOff(t *testing.T) {
	tr, _, _ := newTestTransport(t)
	topic := EnvelopeTopic("custom")
	var a, b int

	idA := tr.On(topic, func(Event) { a++ })
	tr.On(topic, func(Event) { b++ })
	assert.Equal(t, 2, tr.Subscribers(topic))

	tr.Publish(&protocol.Envelope{Type: "custom"})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	tr.Off(topic, idA)
	tr.Publish(&protocol.Envelope{Type: "custom"})
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	tr.Off(topic, "")
	tr.Publish(&protocol.Envelope{Type: "custom"})
	assert.Equal(t, 2, b)
	assert.Equal(t, 0, tr.Subscribers(topic))
}

func TestPing_SentOnInterval(t *testing.T) {
	d := &fakeDialer{}
	sched := timers.NewFake()
	tr := New(Options{URL: "ws://backend.test/ws", Dialer: d, Scheduler: sched, PingInterval: 25 * time.Second})
	defer tr.Disconnect()

	require.NoError(t, tr.SetEnabled(t.Context(), true))
	sched.Advance(50 * time.Second)

	written := d.last().Written()
	require.Len(t, written, 2)
	assert.JSONEq(t, `{"type":"ping","data":{}}`, string(written[0]))

	tr.Disconnect()
	assert.Equal(t, 0, sched.Pending(), "disconnect must cancel the ping timer")
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"http://localhost:8000", "/ws", "ws://localhost:8000/ws", false},
		{"https://api.example.com/", "ws", "wss://api.example.com/ws", false},
		{"http://host/prefix", "/ws", "ws://host/prefix/ws", false},
		{"ftp://host", "/ws", "", true},
	}
	for _, tt := range tests {
		got, err := WebsocketURL(tt.base, tt.path)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
