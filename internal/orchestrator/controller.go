// ABOUTME: Controller owns turn requests, auto-mode pacing and turn timeouts
// ABOUTME: Sends turn-lifecycle commands through the transport and moves the store's turn status

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/metrics"
	"github.com/2389/coven-chorus/internal/notify"
	"github.com/2389/coven-chorus/internal/protocol"
	"github.com/2389/coven-chorus/internal/store"
	"github.com/2389/coven-chorus/internal/timers"
)

// Errors returned by Controller
var (
	ErrTurnInProgress  = errors.New("turn already in progress")
	ErrNotConnected    = errors.New("not connected to backend")
	ErrPersonaNotFound = errors.New("persona not found")
)

// Defaults
const (
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultAutoInterval    = 5 * time.Second
	DefaultTurnTimeout     = 2 * time.Minute
	DefaultContextMessages = 10
)

// Sender writes an envelope to the backend. Implemented by transport.Transport.
type Sender interface {
	Send(typ protocol.Type, data any) bool
}

// Catalog resolves personas and their models.
type Catalog interface {
	GetPersona(ctx context.Context, id string) (*store.Persona, error)
	GetModel(ctx context.Context, id string) (*store.ModelConfig, error)
}

// Options configures a Controller.
type Options struct {
	Sender        Sender
	Conversations *conversation.Store
	Catalog       Catalog
	Scheduler     timers.Scheduler
	Notifier      notify.Notifier
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	SettleDelay  time.Duration
	AutoInterval time.Duration

	// TurnTimeout bounds how long a conversation may stay generating.
	// Negative disables the timeout; zero uses DefaultTurnTimeout.
	TurnTimeout time.Duration

	// ContextMessages is how many trailing messages go into generate_message.
	ContextMessages int
}

// session is the controller's per-conversation bookkeeping.
type session struct {
	auto     bool
	interval time.Duration
	settle   timers.Timer
	tick     timers.Timer
	timeout  timers.Timer

	// turn increments on every request so stale timeouts can be ignored
	turn uint64

	// started is true once multi_agent_start or multi_agent_branch was
	// sent on the current connection
	started bool
}

func (s *session) stopAuto() {
	timers.Stop(s.settle)
	timers.Stop(s.tick)
	s.settle, s.tick = nil, nil
}

func (s *session) stopAll() {
	s.stopAuto()
	timers.Stop(s.timeout)
	s.timeout = nil
}

// Controller is the turn orchestration controller.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*session

	sender   Sender
	convs    *conversation.Store
	catalog  Catalog
	sched    timers.Scheduler
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	settleDelay  time.Duration
	autoInterval time.Duration
	turnTimeout  time.Duration
	contextSize  int
}

// New creates a Controller.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = timers.Real()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop
	}
	c := &Controller{
		sessions:     make(map[string]*session),
		sender:       opts.Sender,
		convs:        opts.Conversations,
		catalog:      opts.Catalog,
		sched:        sched,
		notifier:     notifier,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "orchestrator"),
		settleDelay:  opts.SettleDelay,
		autoInterval: opts.AutoInterval,
		turnTimeout:  opts.TurnTimeout,
		contextSize:  opts.ContextMessages,
	}
	if c.settleDelay <= 0 {
		c.settleDelay = DefaultSettleDelay
	}
	if c.autoInterval <= 0 {
		c.autoInterval = DefaultAutoInterval
	}
	if c.turnTimeout == 0 {
		c.turnTimeout = DefaultTurnTimeout
	}
	if c.contextSize <= 0 {
		c.contextSize = DefaultContextMessages
	}
	return c
}

func (c *Controller) sessionLocked(id string) *session {
	s, ok := c.sessions[id]
	if !ok {
		s = &session{}
		c.sessions[id] = s
	}
	return s
}

// RequestNextTurn asks the backend to pick the next speaker. It is refused
// unless the conversation is idle.
func (c *Controller) RequestNextTurn(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestLocked(ctx, conversationID)
}

func (c *Controller) requestLocked(_ context.Context, conversationID string) error {
	conv, err := c.convs.Get(conversationID)
	if err != nil {
		return err
	}

	switch conv.Status {
	case conversation.StatusIdle:
	case conversation.StatusGenerating:
		c.metrics.RecordTurnRequest("refused")
		return fmt.Errorf("%w: %s", ErrTurnInProgress, conversationID)
	default:
		c.metrics.RecordTurnRequest("refused")
		return fmt.Errorf("%w: %s -> %s", conversation.ErrInvalidTransition, conv.Status, conversation.StatusGenerating)
	}

	sess := c.sessionLocked(conversationID)
	if !sess.started {
		if !c.sender.Send(protocol.TypeMultiAgentStart, startCommand(conv)) {
			c.metrics.RecordTurnRequest("failed")
			return ErrNotConnected
		}
		sess.started = true
	}

	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusGenerating, ""); err != nil {
		return err
	}

	if !c.sender.Send(protocol.TypeNextTurn, protocol.NextTurnCommand{ConversationID: conversationID}) {
		if err := c.convs.SetTurnStatus(conversationID, conversation.StatusIdle, ""); err != nil {
			c.logger.Error("failed to revert turn status", "conversation_id", conversationID, "error", err)
		}
		c.metrics.RecordTurnRequest("failed")
		return ErrNotConnected
	}

	sess.turn++
	c.armTimeoutLocked(conversationID, sess)
	c.metrics.RecordTurnRequest("sent")
	c.logger.Debug("requested next turn", "conversation_id", conversationID, "turn", sess.turn)
	return nil
}

// armTimeoutLocked (re)starts the turn timeout for the current turn.
func (c *Controller) armTimeoutLocked(conversationID string, sess *session) {
	timers.Stop(sess.timeout)
	sess.timeout = nil
	if c.turnTimeout < 0 {
		return
	}
	turn := sess.turn
	sess.timeout = c.sched.AfterFunc(c.turnTimeout, func() {
		c.expireTurn(conversationID, turn)
	})
}

func (c *Controller) expireTurn(conversationID string, turn uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[conversationID]
	if !ok || sess.turn != turn {
		return
	}
	sess.timeout = nil

	status, _, err := c.convs.Status(conversationID)
	if err != nil || status != conversation.StatusGenerating {
		return
	}
	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusIdle, ""); err != nil {
		c.logger.Error("failed to expire turn", "conversation_id", conversationID, "error", err)
		return
	}
	c.metrics.RecordTurnTimeout()
	c.logger.Warn("turn timed out", "conversation_id", conversationID, "timeout", c.turnTimeout)
	c.notifier.Notify(notify.Notification{
		Level:          notify.LevelWarning,
		Title:          "Turn timed out",
		Message:        fmt.Sprintf("No reply after %s", c.turnTimeout),
		ConversationID: conversationID,
	})
}

// Pause suspends a conversation and its auto-mode tick. Auto-mode intent
// is kept for Resume.
func (c *Controller) Pause(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusPaused, ""); err != nil {
		return err
	}
	if sess, ok := c.sessions[conversationID]; ok {
		sess.stopAll()
	}
	c.logger.Info("conversation paused", "conversation_id", conversationID)
	return nil
}

// Resume returns a paused conversation to idle. With auto-mode intent the
// tick restarts and one turn is requested immediately.
func (c *Controller) Resume(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, _, err := c.convs.Status(conversationID)
	if err != nil {
		return err
	}
	if status != conversation.StatusPaused {
		return fmt.Errorf("%w: %s is not paused", conversation.ErrInvalidTransition, conversationID)
	}
	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusIdle, ""); err != nil {
		return err
	}
	c.logger.Info("conversation resumed", "conversation_id", conversationID)

	sess, ok := c.sessions[conversationID]
	if !ok || !sess.auto {
		return nil
	}
	c.scheduleTickLocked(conversationID, sess)
	return c.requestLocked(ctx, conversationID)
}

// Stop ends a conversation permanently, cancels auto-mode and asks the
// backend to stop any in-flight generation.
func (c *Controller) Stop(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.convs.Get(conversationID)
	if err != nil {
		return err
	}
	if conv.Status == conversation.StatusStopped {
		return nil
	}
	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusStopped, ""); err != nil {
		return err
	}
	if sess, ok := c.sessions[conversationID]; ok {
		sess.auto = false
		sess.stopAll()
	}

	cmd := protocol.StopCommand{ConversationID: conversationID, MessageID: generatingMessageID(conv)}
	if !c.sender.Send(protocol.TypeStopGeneration, cmd) {
		c.logger.Warn("stop_generation not delivered", "conversation_id", conversationID)
	}
	c.logger.Info("conversation stopped", "conversation_id", conversationID)
	return nil
}

// generatingMessageID returns the newest agent message still marked in
// progress, if any.
func generatingMessageID(conv *conversation.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.SenderKind == conversation.SenderAgent && m.Metadata.Generating() {
			return m.ID
		}
	}
	return ""
}

// StartAutoMode registers the participants with the backend and starts
// requesting turns every interval. A non-positive interval uses the default.
func (c *Controller) StartAutoMode(ctx context.Context, conversationID string, interval time.Duration) error {
	if interval <= 0 {
		interval = c.autoInterval
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.convs.Get(conversationID)
	if err != nil {
		return err
	}
	if conv.Status == conversation.StatusStopped {
		return fmt.Errorf("%w: conversation %s is stopped", conversation.ErrInvalidTransition, conversationID)
	}

	if err := c.registerParticipantsLocked(ctx, conv); err != nil {
		return err
	}

	sess := c.sessionLocked(conversationID)
	sess.stopAuto()
	sess.auto = true
	sess.interval = interval
	sess.settle = c.sched.AfterFunc(c.settleDelay, func() {
		c.autoTick(ctx, conversationID)
	})

	c.logger.Info("auto mode started",
		"conversation_id", conversationID,
		"interval", interval,
		"participants", len(conv.Participants))
	return nil
}

// RegisterParticipants sends register_persona for every participant of a
// conversation, and register_model once per distinct model. Participants
// missing from the catalog are skipped with a warning notification.
func (c *Controller) RegisterParticipants(ctx context.Context, conversationID string) error {
	conv, err := c.convs.Get(conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerParticipantsLocked(ctx, conv)
}

func (c *Controller) registerParticipantsLocked(ctx context.Context, conv *conversation.Conversation) error {
	models := make(map[string]bool)
	for _, id := range conv.Participants {
		p, err := c.catalog.GetPersona(ctx, id)
		if err != nil {
			c.notifier.Notify(notify.Notification{
				Level:          notify.LevelWarning,
				Title:          "Persona not found",
				Message:        fmt.Sprintf("Participant %s is not configured", id),
				ConversationID: conv.ID,
			})
			c.logger.Warn("participant persona missing", "persona_id", id, "error", err)
			continue
		}
		if !c.sender.Send(protocol.TypeRegisterPersona, protocol.RegisterPersonaCommand{Persona: personaPayload(p)}) {
			return ErrNotConnected
		}
		if p.ModelID == "" || models[p.ModelID] {
			continue
		}
		models[p.ModelID] = true
		m, err := c.catalog.GetModel(ctx, p.ModelID)
		if err != nil {
			c.logger.Debug("model not in catalog", "model_id", p.ModelID, "error", err)
			continue
		}
		if !c.sender.Send(protocol.TypeRegisterModel, protocol.RegisterModelCommand{Model: modelPayload(m)}) {
			return ErrNotConnected
		}
	}
	return nil
}

// autoTick runs on the settle and tick timers.
func (c *Controller) autoTick(ctx context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[conversationID]
	if !ok || !sess.auto {
		return
	}
	sess.settle = nil

	status, _, err := c.convs.Status(conversationID)
	if err != nil {
		sess.auto = false
		sess.stopAuto()
		return
	}
	switch status {
	case conversation.StatusPaused, conversation.StatusStopped:
		// Resume or a user message re-arms the tick.
		sess.tick = nil
		return
	}

	c.scheduleTickLocked(conversationID, sess)
	if status != conversation.StatusIdle {
		return
	}
	if err := c.requestLocked(ctx, conversationID); err != nil {
		c.logger.Warn("auto turn request failed", "conversation_id", conversationID, "error", err)
	}
}

func (c *Controller) scheduleTickLocked(conversationID string, sess *session) {
	timers.Stop(sess.tick)
	sess.tick = c.sched.AfterFunc(sess.interval, func() {
		c.autoTick(context.Background(), conversationID)
	})
}

// AddUserMessage appends a message from the user. A paused conversation
// returns to idle, and under auto-mode its suspended tick is re-armed.
func (c *Controller) AddUserMessage(conversationID, senderID, content string) (*conversation.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := c.convs.AppendMessage(conversationID, senderID, conversation.SenderUser, content)
	if err != nil {
		return nil, err
	}

	sess, ok := c.sessions[conversationID]
	if !ok || !sess.auto || sess.tick != nil || sess.settle != nil {
		return msg, nil
	}
	if status, _, err := c.convs.Status(conversationID); err == nil && status == conversation.StatusIdle {
		c.scheduleTickLocked(conversationID, sess)
		c.logger.Debug("auto mode tick re-armed by user message", "conversation_id", conversationID)
	}
	return msg, nil
}

// StopAutoMode cancels every timer of a conversation. The turn status is
// left unchanged.
func (c *Controller) StopAutoMode(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.sessions[conversationID]; ok {
		sess.auto = false
		sess.stopAll()
		c.logger.Info("auto mode stopped", "conversation_id", conversationID)
	}
}

// AutoMode reports whether auto-mode is on for a conversation.
func (c *Controller) AutoMode(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[conversationID]
	return ok && sess.auto
}

// HandleNextTurn answers the backend's speaker choice with generate_message.
// Turns announced for paused or stopped conversations are ignored.
func (c *Controller) HandleNextTurn(ctx context.Context, next protocol.NextTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := next.ConversationID
	conv, err := c.convs.Get(id)
	if err != nil {
		c.logger.Warn("next turn for unknown conversation", "conversation_id", id)
		return
	}
	switch conv.Status {
	case conversation.StatusPaused, conversation.StatusStopped:
		c.logger.Debug("ignoring next turn", "conversation_id", id, "status", conv.Status)
		return
	}

	// The backend may announce a turn the client did not request
	if err := c.convs.SetTurnStatus(id, conversation.StatusGenerating, next.NextSpeakerID); err != nil {
		c.logger.Error("failed to mark turn generating", "conversation_id", id, "error", err)
		return
	}
	sess := c.sessionLocked(id)
	if conv.Status == conversation.StatusIdle {
		sess.turn++
	}
	c.armTimeoutLocked(id, sess)

	persona, err := c.catalog.GetPersona(ctx, next.NextSpeakerID)
	if err != nil {
		name := next.NextSpeakerName
		if name == "" {
			name = next.NextSpeakerID
		}
		c.notifier.Notify(notify.Notification{
			Level:          notify.LevelError,
			Title:          "Persona not found",
			Message:        fmt.Sprintf("%s is not configured locally", name),
			ConversationID: id,
		})
		c.endTurnLocked(id)
		return
	}

	cmd := protocol.GenerateCommand{
		ConversationID: id,
		PersonaID:      persona.ID,
		Content:        c.contextFor(conv, next.Context),
		SystemPrompt:   persona.SystemPrompt,
		Parameters:     parametersPayload(persona.Parameters),
		ModelName:      persona.ModelID,
	}
	if m, err := c.catalog.GetModel(ctx, persona.ModelID); err == nil && m.Name != "" {
		cmd.ModelName = m.Name
	}

	if !c.sender.Send(protocol.TypeGenerateMessage, cmd) {
		c.logger.Warn("generate_message not delivered", "conversation_id", id)
		c.endTurnLocked(id)
		return
	}
	c.logger.Debug("generation requested", "conversation_id", id, "persona_id", persona.ID)
}

// EndTurn returns a generating conversation to idle without a message,
// e.g. when the backend has no speaker to offer.
func (c *Controller) EndTurn(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTurnLocked(conversationID)
}

func (c *Controller) endTurnLocked(conversationID string) {
	if sess, ok := c.sessions[conversationID]; ok {
		timers.Stop(sess.timeout)
		sess.timeout = nil
	}
	status, _, err := c.convs.Status(conversationID)
	if err != nil || status != conversation.StatusGenerating {
		return
	}
	if err := c.convs.SetTurnStatus(conversationID, conversation.StatusIdle, ""); err != nil {
		c.logger.Error("failed to end turn", "conversation_id", conversationID, "error", err)
	}
}

// Branch forks a conversation locally and announces the branch to the
// backend. The branch is returned even when the announcement fails; the
// first turn request will then send multi_agent_start instead.
func (c *Controller) Branch(_ context.Context, parentID, startFromMessageID, title string) (*conversation.Conversation, error) {
	branch, err := c.convs.CreateBranch(parentID, "", startFromMessageID, title)
	if err != nil {
		return nil, err
	}

	cmd := protocol.BranchCommand{
		ConversationID:  branch.ID,
		ParentID:        parentID,
		Participants:    branch.Participants,
		InitialMessages: make([]protocol.Message, 0, len(branch.Messages)),
	}
	for _, m := range branch.Messages {
		cmd.InitialMessages = append(cmd.InitialMessages, messagePayload(m))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender.Send(protocol.TypeMultiAgentBranch, cmd) {
		c.sessionLocked(branch.ID).started = true
	} else {
		c.logger.Warn("multi_agent_branch not delivered", "conversation_id", branch.ID)
	}
	return branch, nil
}

// OnConnected forgets which conversations were announced, since a new
// connection has no server-side state.
func (c *Controller) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		sess.started = false
	}
}

// Close cancels every timer.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		sess.auto = false
		sess.stopAll()
	}
}
