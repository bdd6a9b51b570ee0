// ABOUTME: Router dispatches decoded envelopes to typed handlers by type tag
// ABOUTME: Handlers mutate the conversation store and defer turn decisions to the orchestrator

package router

import (
	"context"
	"log/slog"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/notify"
	"github.com/2389/coven-chorus/internal/protocol"
)

// Turns is the part of the orchestrator the router hands turn decisions to.
type Turns interface {
	HandleNextTurn(ctx context.Context, next protocol.NextTurn)
	EndTurn(conversationID string)
}

// Publisher forwards envelopes to topic subscribers. Implemented by
// transport.Transport.
type Publisher interface {
	Publish(env *protocol.Envelope)
}

// Options configures a Router.
type Options struct {
	Conversations *conversation.Store
	Turns         Turns
	Publisher     Publisher
	Notifier      notify.Notifier
	Logger        *slog.Logger
}

// Router is the protocol router.
type Router struct {
	convs     *conversation.Store
	turns     Turns
	publisher Publisher
	notifier  notify.Notifier
	logger    *slog.Logger
	handlers  map[protocol.Type]func(*protocol.Envelope) error
}

// New creates a Router.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop
	}
	r := &Router{
		convs:     opts.Conversations,
		turns:     opts.Turns,
		publisher: opts.Publisher,
		notifier:  notifier,
		logger:    logger.With("component", "router"),
	}
	r.handlers = map[protocol.Type]func(*protocol.Envelope) error{
		protocol.TypeMessageChunk:      r.handleChunk,
		protocol.TypeMessageComplete:   r.handleComplete,
		protocol.TypeError:             r.handleError,
		protocol.TypeMultiAgentStarted: r.handleStarted,
		protocol.TypeNextTurn:          r.handleNextTurn,
		protocol.TypeNoNextSpeaker:     r.handleNoNextSpeaker,
		protocol.TypePersonaNotFound:   r.handlePersonaNotFound,
		protocol.TypePersonaRegistered: r.handlePersonaRegistered,
		protocol.TypeModelRegistered:   r.handleModelRegistered,
		protocol.TypeGenerationStarted: r.handleGenerationStarted,
		protocol.TypeGenerationStopped: r.handleGenerationStopped,
		protocol.TypePong:              r.handlePong,
	}
	return r
}

// Handles reports whether typ has a built-in handler.
func (r *Router) Handles(typ protocol.Type) bool {
	_, ok := r.handlers[typ]
	return ok
}

// Dispatch handles one envelope. A handler failure is logged and never
// affects later envelopes. Only types without a built-in handler are
// forwarded to the publisher.
func (r *Router) Dispatch(env *protocol.Envelope) {
	if h, ok := r.handlers[env.Type]; ok {
		if err := h(env); err != nil {
			r.logger.Warn("envelope not applied", "type", env.Type, "error", err)
		}
		return
	}

	r.logger.Debug("forwarding unrecognized envelope", "type", env.Type)
	if r.publisher != nil {
		r.publisher.Publish(env)
	}
}
