// ABOUTME: Key-value Store interface and the entity types persisted through it
// ABOUTME: Conversations, personas, models and the settings singleton are stored as JSON values

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Kind partitions the key space.
type Kind string

// Entity kinds
const (
	KindConversation Kind = "conversation"
	KindPersona      Kind = "persona"
	KindModel        Kind = "model"
	KindSettings     Kind = "settings"
)

// SettingsID is the key of the settings singleton.
const SettingsID = "settings"

// Store is the persistence collaborator. Values are opaque bytes; no
// multi-key transactions are assumed.
type Store interface {
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Put(ctx context.Context, kind Kind, id string, value []byte) error
	Delete(ctx context.Context, kind Kind, id string) error

	// List returns every value of a kind in first-insertion order.
	List(ctx context.Context, kind Kind) ([][]byte, error)

	// Close releases any resources held by the store
	Close() error
}

// Parameters are model generation parameters
type Parameters struct {
	Temperature      float64  `json:"temperature"`
	TopP             *float64 `json:"top_p,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// DefaultParameters matches the backend's defaults
func DefaultParameters() Parameters {
	return Parameters{Temperature: 0.7}
}

// Persona is a configured agent identity
type Persona struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Avatar            string     `json:"avatar,omitempty"`
	SystemPrompt      string     `json:"system_prompt"`
	ModelID           string     `json:"model_id"`
	Parameters        Parameters `json:"parameters"`
	ConversationStyle string     `json:"conversation_style,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ModelConfig is a connection to a model provider
type ModelConfig struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Provider          string     `json:"provider"`
	BaseURL           string     `json:"base_url,omitempty"`
	APIKey            string     `json:"api_key,omitempty"`
	ContextWindowSize int        `json:"context_window_size"`
	DefaultParams     Parameters `json:"default_params"`
}

// Settings is the singleton settings record
type Settings struct {
	BackendURL       string        `json:"backend_url,omitempty"`
	AutoModeInterval time.Duration `json:"auto_mode_interval,omitempty"`
	Theme            string        `json:"theme,omitempty"`
}
