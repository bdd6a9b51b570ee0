// ABOUTME: Envelope type, type tags, and the encode/decode entry points for the wire protocol
// ABOUTME: Decode tolerates both {type,data} frames and the backend's top-level payload frames

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Type is an envelope type tag.
type Type string

// Inbound types.
const (
	TypeMessageChunk      Type = "message_chunk"
	TypeMessageComplete   Type = "message_complete"
	TypeError             Type = "error"
	TypeMultiAgentStarted Type = "multi_agent_started"
	TypeNextTurn          Type = "multi_agent_next_turn"
	TypeNoNextSpeaker     Type = "multi_agent_no_next_speaker"
	TypePersonaNotFound   Type = "multi_agent_persona_not_found"
	TypePersonaRegistered Type = "persona_registered"
	TypeModelRegistered   Type = "model_registered"
	TypeGenerationStarted Type = "generation_started"
	TypeGenerationStopped Type = "generation_stopped"
	TypePong              Type = "pong"
)

// Outbound types. multi_agent_next_turn is shared with the inbound set.
const (
	TypeMultiAgentStart  Type = "multi_agent_start"
	TypeMultiAgentBranch Type = "multi_agent_branch"
	TypeRegisterPersona  Type = "register_persona"
	TypeRegisterModel    Type = "register_model"
	TypeGenerateMessage  Type = "generate_message"
	TypeStopGeneration   Type = "stop_generation"
	TypePing             Type = "ping"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed envelope")

	// ErrMissingType is returned for frames without a type tag.
	ErrMissingType = errors.New("envelope missing type")
)

// Envelope is one protocol message.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses a raw frame. It never inspects store or connection state.
func Decode(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrMalformed
	}

	tag := root.Get("type")
	if tag.Type != gjson.String || tag.String() == "" {
		return nil, ErrMissingType
	}

	env := &Envelope{Type: Type(tag.String())}
	if data := root.Get("data"); data.IsObject() {
		env.Data = json.RawMessage(data.Raw)
	} else {
		env.Data = json.RawMessage(root.Raw)
	}
	return env, nil
}

// Encode marshals an outbound envelope. A nil payload is sent as an empty object.
func Encode(t Type, data any) ([]byte, error) {
	if data == nil {
		data = struct{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: payload})
}

// Payload unmarshals the envelope data into T.
func Payload[T any](env *Envelope) (T, error) {
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return out, nil
}

// Field returns a single payload value by gjson path, e.g. "details.messageId".
func (e *Envelope) Field(path string) gjson.Result {
	return gjson.GetBytes(e.Data, path)
}
