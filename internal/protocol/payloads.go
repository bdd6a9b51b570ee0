// ABOUTME: Typed payloads for every inbound and outbound envelope type
// ABOUTME: Field names follow the backend's mixed camelCase/snake_case wire conventions

package protocol

// Metadata is the optional metadata attached to a generated message.
type Metadata struct {
	ModelCallDuration float64 `json:"modelCallDuration,omitempty"`
	ModelTokensUsed   int     `json:"modelTokensUsed,omitempty"`
	Error             string  `json:"error,omitempty"`
	IsGenerating      *bool   `json:"isGenerating,omitempty"`
}

// Message is a message as it appears on the wire.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderType     string    `json:"senderType,omitempty"`
	Content        string    `json:"content"`
	Timestamp      int64     `json:"timestamp,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
}

// MessageChunk carries one streamed fragment of a message.
type MessageChunk struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Chunk          string `json:"chunk"`
	Index          int    `json:"index,omitempty"`
}

// MessageComplete carries the final content of a message.
type MessageComplete struct {
	Message Message `json:"message"`
}

// ErrorEvent is the flattened form of an error envelope. Details may arrive as
// an object keyed by messageId or id, or as a bare string.
type ErrorEvent struct {
	Message        string
	Detail         string
	MessageID      string
	ConversationID string
}

// DecodeError flattens an error envelope.
func DecodeError(env *Envelope) ErrorEvent {
	ev := ErrorEvent{Message: env.Field("message").String()}

	details := env.Field("details")
	if !details.IsObject() {
		ev.Detail = details.String()
		return ev
	}

	ev.Detail = details.Get("error").String()
	ev.MessageID = details.Get("messageId").String()
	if ev.MessageID == "" {
		ev.MessageID = details.Get("id").String()
	}
	ev.ConversationID = details.Get("conversationId").String()
	return ev
}

// MultiAgentStarted acknowledges multi_agent_start.
type MultiAgentStarted struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
}

// NextTurn announces which persona speaks next.
type NextTurn struct {
	ConversationID  string `json:"conversation_id"`
	NextSpeakerID   string `json:"next_speaker_id"`
	NextSpeakerName string `json:"next_speaker_name"`
	Context         string `json:"context"`
}

// NoNextSpeaker reports that the backend could not pick a speaker.
type NoNextSpeaker struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// PersonaNotFound reports that the chosen speaker is not registered.
type PersonaNotFound struct {
	ConversationID string `json:"conversation_id"`
	NextSpeakerID  string `json:"next_speaker_id"`
	Message        string `json:"message"`
}

// PersonaRegistered acknowledges register_persona.
type PersonaRegistered struct {
	PersonaID   string `json:"persona_id"`
	PersonaName string `json:"persona_name"`
}

// ModelRegistered acknowledges register_model.
type ModelRegistered struct {
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
}

// GenerationStarted announces the id the backend assigned to a new message.
type GenerationStarted struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// GenerationStopped acknowledges a cancelled generation.
type GenerationStopped struct {
	MessageID string `json:"message_id"`
}

// Pong answers ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Parameters are model generation parameters.
type Parameters struct {
	Temperature      float64  `json:"temperature"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Persona is the registration form of a persona.
type Persona struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Avatar            string      `json:"avatar,omitempty"`
	SystemPrompt      string      `json:"system_prompt"`
	ModelID           string      `json:"model_id"`
	Parameters        *Parameters `json:"parameters,omitempty"`
	ConversationStyle string      `json:"conversation_style,omitempty"`
	Created           int64       `json:"created"`
	Updated           int64       `json:"updated"`
}

// Model is the registration form of a model connection.
type Model struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Provider          string     `json:"provider"`
	BaseURL           string     `json:"base_url,omitempty"`
	APIKey            string     `json:"api_key,omitempty"`
	ContextWindowSize int        `json:"context_window_size"`
	DefaultParams     Parameters `json:"default_params"`
}

// StartCommand is multi_agent_start.
type StartCommand struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	InitialMessage *Message `json:"initial_message,omitempty"`
}

// BranchCommand is multi_agent_branch.
type BranchCommand struct {
	ConversationID  string    `json:"conversation_id"`
	ParentID        string    `json:"parent_id"`
	Participants    []string  `json:"participants"`
	InitialMessages []Message `json:"initial_messages"`
}

// RegisterPersonaCommand is register_persona.
type RegisterPersonaCommand struct {
	Persona Persona `json:"persona"`
}

// RegisterModelCommand is register_model.
type RegisterModelCommand struct {
	Model Model `json:"model"`
}

// GenerateCommand is generate_message.
type GenerateCommand struct {
	ConversationID string     `json:"conversation_id"`
	PersonaID      string     `json:"persona_id"`
	Content        string     `json:"content"`
	SystemPrompt   string     `json:"system_prompt"`
	Parameters     Parameters `json:"parameters"`
	ModelName      string     `json:"model_name,omitempty"`
}

// NextTurnCommand is the outbound multi_agent_next_turn.
type NextTurnCommand struct {
	ConversationID string `json:"conversation_id"`
}

// StopCommand is stop_generation.
type StopCommand struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}
