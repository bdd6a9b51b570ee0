// ABOUTME: One connected client: reads commands, answers them and streams generations
// ABOUTME: Generation runs per message on its own goroutine and can be stopped by id

package fakebackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-chorus/internal/protocol"
)

// chunkFrame is the top-level message_chunk shape the backend streams.
type chunkFrame struct {
	Type protocol.Type `json:"type"`
	protocol.MessageChunk
}

// completeFrame is the top-level message_complete shape.
type completeFrame struct {
	Type protocol.Type `json:"type"`
	protocol.MessageComplete
}

type dataFrame struct {
	Type protocol.Type `json:"type"`
	Data any           `json:"data"`
}

type errorData struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorDetails struct {
	Error          string `json:"error"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *slog.Logger

	writeMu sync.Mutex

	genMu       sync.Mutex
	generations map[string]context.CancelFunc
	wg          sync.WaitGroup
}

func newSession(id string, conn *websocket.Conn, s *Server) *session {
	return &session{
		id:          id,
		conn:        conn,
		server:      s,
		logger:      s.logger.With("client_id", id),
		generations: make(map[string]context.CancelFunc),
	}
}

func (c *session) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	defer c.conn.Close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read ended", "error", err)
			return
		}

		env, err := protocol.Decode(raw)
		if err != nil {
			c.sendError("Invalid JSON", nil)
			continue
		}
		if err := c.handle(ctx, env); err != nil {
			c.logger.Warn("command failed", "type", env.Type, "error", err)
			c.sendError("Internal server error", err.Error())
		}
	}
}

func (c *session) handle(ctx context.Context, env *protocol.Envelope) error {
	state := c.server.state

	switch env.Type {
	case protocol.TypeGenerateMessage:
		cmd, err := protocol.Payload[protocol.GenerateCommand](env)
		if err != nil {
			return err
		}
		c.startGeneration(ctx, cmd)

	case protocol.TypeStopGeneration:
		cmd, err := protocol.Payload[protocol.StopCommand](env)
		if err != nil {
			return err
		}
		if cmd.MessageID != "" {
			c.cancelGeneration(cmd.MessageID)
			c.send(protocol.TypeGenerationStopped, protocol.GenerationStopped{MessageID: cmd.MessageID})
		}

	case protocol.TypeMultiAgentStart:
		cmd, err := protocol.Payload[protocol.StartCommand](env)
		if err != nil {
			return err
		}
		if cmd.ConversationID == "" || len(cmd.Participants) == 0 {
			c.sendError("Missing conversation ID or participants", nil)
			return nil
		}
		state.Start(cmd.ConversationID, cmd.Participants, cmd.InitialMessage)
		c.send(protocol.TypeMultiAgentStarted, protocol.MultiAgentStarted{
			ConversationID: cmd.ConversationID,
			Participants:   cmd.Participants,
		})

	case protocol.TypeMultiAgentBranch:
		cmd, err := protocol.Payload[protocol.BranchCommand](env)
		if err != nil {
			return err
		}
		if cmd.ConversationID == "" || len(cmd.Participants) == 0 {
			c.sendError("Missing conversation ID or participants", nil)
			return nil
		}
		state.Branch(cmd.ConversationID, cmd.Participants, cmd.InitialMessages)
		c.send(protocol.TypeMultiAgentStarted, protocol.MultiAgentStarted{
			ConversationID: cmd.ConversationID,
			Participants:   cmd.Participants,
		})

	case protocol.TypeNextTurn:
		cmd, err := protocol.Payload[protocol.NextTurnCommand](env)
		if err != nil {
			return err
		}
		c.nextTurn(cmd.ConversationID)

	case protocol.TypeRegisterPersona:
		cmd, err := protocol.Payload[protocol.RegisterPersonaCommand](env)
		if err != nil {
			return err
		}
		if cmd.Persona.ID == "" {
			c.sendError("Missing persona data", nil)
			return nil
		}
		state.RegisterPersona(cmd.Persona)
		c.send(protocol.TypePersonaRegistered, protocol.PersonaRegistered{
			PersonaID:   cmd.Persona.ID,
			PersonaName: cmd.Persona.Name,
		})

	case protocol.TypeRegisterModel:
		cmd, err := protocol.Payload[protocol.RegisterModelCommand](env)
		if err != nil {
			return err
		}
		if cmd.Model.ID == "" {
			c.sendError("Missing model data", nil)
			return nil
		}
		state.RegisterModel(cmd.Model)
		c.send(protocol.TypeModelRegistered, protocol.ModelRegistered{
			ModelID:   cmd.Model.ID,
			ModelName: cmd.Model.Name,
		})

	case protocol.TypePing:
		c.send(protocol.TypePong, protocol.Pong{Timestamp: time.Now().UnixMilli()})

	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", env.Type), nil)
	}
	return nil
}

func (c *session) nextTurn(conversationID string) {
	state := c.server.state
	if conversationID == "" {
		c.sendError("Missing conversation ID", nil)
		return
	}

	speaker, err := state.NextSpeaker(conversationID)
	if errors.Is(err, ErrNoParticipants) {
		c.send(protocol.TypeNoNextSpeaker, protocol.NoNextSpeaker{
			ConversationID: conversationID,
			Message:        "No participants available for next turn",
		})
		return
	}

	persona, ok := state.Persona(speaker)
	if !ok {
		c.send(protocol.TypePersonaNotFound, protocol.PersonaNotFound{
			ConversationID: conversationID,
			NextSpeakerID:  speaker,
			Message:        fmt.Sprintf("Persona %s not found", speaker),
		})
		return
	}

	c.send(protocol.TypeNextTurn, protocol.NextTurn{
		ConversationID:  conversationID,
		NextSpeakerID:   speaker,
		NextSpeakerName: persona.Name,
		Context:         state.Context(conversationID),
	})
}

func (c *session) startGeneration(ctx context.Context, cmd protocol.GenerateCommand) {
	messageID := uuid.New().String()
	genCtx, cancel := context.WithCancel(ctx)

	c.genMu.Lock()
	c.generations[messageID] = cancel
	c.genMu.Unlock()

	c.send(protocol.TypeGenerationStarted, protocol.GenerationStarted{
		MessageID:      messageID,
		ConversationID: cmd.ConversationID,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finishGeneration(messageID)
		c.generate(genCtx, messageID, cmd)
	}()
}

func (c *session) generate(ctx context.Context, messageID string, cmd protocol.GenerateCommand) {
	started := time.Now()
	index := 0
	emit := func(chunk string) error {
		err := c.write(chunkFrame{
			Type: protocol.TypeMessageChunk,
			MessageChunk: protocol.MessageChunk{
				ConversationID: cmd.ConversationID,
				MessageID:      messageID,
				Chunk:          chunk,
				Index:          index,
			},
		})
		index++
		return err
	}

	content, err := c.server.generator.Generate(ctx, cmd, emit)
	if ctx.Err() != nil {
		c.logger.Info("generation cancelled", "message_id", messageID)
		return
	}
	if err != nil {
		c.logger.Error("generation failed", "message_id", messageID, "error", err)
		c.sendError("Failed to generate message", errorDetails{
			Error:          err.Error(),
			MessageID:      messageID,
			ConversationID: cmd.ConversationID,
		})
		return
	}

	msg := protocol.Message{
		ID:             messageID,
		ConversationID: cmd.ConversationID,
		SenderID:       cmd.PersonaID,
		SenderType:     "agent",
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
		Metadata: &protocol.Metadata{
			ModelCallDuration: time.Since(started).Seconds(),
			ModelTokensUsed:   len(strings.Fields(content)),
		},
	}
	c.server.state.AddMessage(msg)
	_ = c.write(completeFrame{
		Type:            protocol.TypeMessageComplete,
		MessageComplete: protocol.MessageComplete{Message: msg},
	})
}

func (c *session) cancelGeneration(messageID string) {
	c.genMu.Lock()
	cancel, ok := c.generations[messageID]
	c.genMu.Unlock()
	if ok {
		cancel()
	}
}

func (c *session) finishGeneration(messageID string) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	if cancel, ok := c.generations[messageID]; ok {
		cancel()
		delete(c.generations, messageID)
	}
}

func (c *session) cancelAll() {
	c.genMu.Lock()
	for _, cancel := range c.generations {
		cancel()
	}
	c.genMu.Unlock()
	c.wg.Wait()
}

func (c *session) send(typ protocol.Type, data any) {
	if err := c.write(dataFrame{Type: typ, Data: data}); err != nil {
		c.logger.Debug("send failed", "type", typ, "error", err)
	}
}

func (c *session) sendError(message string, details any) {
	c.send(protocol.TypeError, errorData{Message: message, Details: details})
}

func (c *session) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *session) close() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
