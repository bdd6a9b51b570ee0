// ABOUTME: User-visible notifications raised by the router and controller
// ABOUTME: Log, recording and de-duplicating Notifier implementations

package notify

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/coven-chorus/internal/dedupe"
)

// Level is the severity of a notification.
type Level string

// Levels
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a message meant for the person running the session.
type Notification struct {
	Level          Level
	Title          string
	Message        string
	ConversationID string
}

// Key identifies notifications that are duplicates of each other.
func (n Notification) Key() string {
	return strings.Join([]string{string(n.Level), n.ConversationID, n.Title, n.Message}, "\x00")
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

// Notify calls f.
func (f Func) Notify(n Notification) { f(n) }

// Nop discards notifications.
var Nop Notifier = Func(func(Notification) {})

// Log writes notifications to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier. Pass nil for the default logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Notify logs n at a level matching its severity.
func (l *Log) Notify(n Notification) {
	attrs := []any{"title", n.Title}
	if n.ConversationID != "" {
		attrs = append(attrs, "conversation_id", n.ConversationID)
	}
	switch n.Level {
	case LevelError:
		l.logger.Error(n.Message, attrs...)
	case LevelWarning:
		l.logger.Warn(n.Message, attrs...)
	default:
		l.logger.Info(n.Message, attrs...)
	}
}

// Deduped drops notifications identical to one delivered within the
// cache window.
type Deduped struct {
	next  Notifier
	cache *dedupe.Cache
}

// NewDeduped wraps next.
func NewDeduped(next Notifier, cache *dedupe.Cache) *Deduped {
	return &Deduped{next: next, cache: cache}
}

// Notify forwards n unless it is a recent duplicate.
func (d *Deduped) Notify(n Notification) {
	if d.cache.Seen(n.Key()) {
		return
	}
	d.next.Notify(n)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify delivers n to every notifier in order.
func (m Multi) Notify(n Notification) {
	for _, next := range m {
		next.Notify(n)
	}
}

// Recorder keeps every notification; used by tests and the CLI status view.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}
