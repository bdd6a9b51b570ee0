// ABOUTME: Catalog provides typed access to personas, models and settings on top of a Store
// ABOUTME: Values are JSON encoded; missing settings fall back to defaults

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntity is returned when an entity is missing required fields
var ErrInvalidEntity = errors.New("invalid entity")

// Catalog wraps a Store with typed helpers.
type Catalog struct {
	store Store
	now   func() time.Time
}

// NewCatalog creates a Catalog backed by s.
func NewCatalog(s Store) *Catalog {
	return &Catalog{store: s, now: time.Now}
}

// Store returns the underlying Store.
func (c *Catalog) Store() Store {
	return c.store
}

func getJSON[T any](ctx context.Context, s Store, kind Kind, id string) (*T, error) {
	raw, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", kind, id, err)
	}
	return &v, nil
}

func putJSON(ctx context.Context, s Store, kind Kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %s: %w", kind, id, err)
	}
	return s.Put(ctx, kind, id, raw)
}

func listJSON[T any](ctx context.Context, s Store, kind Kind) ([]*T, error) {
	values, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(values))
	for _, raw := range values {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// GetPersona returns the persona with the given ID.
func (c *Catalog) GetPersona(ctx context.Context, id string) (*Persona, error) {
	return getJSON[Persona](ctx, c.store, KindPersona, id)
}

// PutPersona creates or updates a persona. CreatedAt is preserved across
// updates; UpdatedAt is always refreshed.
func (c *Catalog) PutPersona(ctx context.Context, p *Persona) error {
	if p.ID == "" || p.Name == "" {
		return fmt.Errorf("%w: persona requires id and name", ErrInvalidEntity)
	}
	now := c.now().UTC()
	if existing, err := c.GetPersona(ctx, p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return putJSON(ctx, c.store, KindPersona, p.ID, p)
}

// ListPersonas returns all personas in creation order.
func (c *Catalog) ListPersonas(ctx context.Context) ([]*Persona, error) {
	return listJSON[Persona](ctx, c.store, KindPersona)
}

// DeletePersona removes a persona.
func (c *Catalog) DeletePersona(ctx context.Context, id string) error {
	return c.store.Delete(ctx, KindPersona, id)
}

// GetModel returns the model with the given ID.
func (c *Catalog) GetModel(ctx context.Context, id string) (*ModelConfig, error) {
	return getJSON[ModelConfig](ctx, c.store, KindModel, id)
}

// PutModel creates or updates a model config.
func (c *Catalog) PutModel(ctx context.Context, m *ModelConfig) error {
	if m.ID == "" || m.Provider == "" {
		return fmt.Errorf("%w: model requires id and provider", ErrInvalidEntity)
	}
	return putJSON(ctx, c.store, KindModel, m.ID, m)
}

// ListModels returns all models in creation order.
func (c *Catalog) ListModels(ctx context.Context) ([]*ModelConfig, error) {
	return listJSON[ModelConfig](ctx, c.store, KindModel)
}

// DeleteModel removes a model config.
func (c *Catalog) DeleteModel(ctx context.Context, id string) error {
	return c.store.Delete(ctx, KindModel, id)
}

// Settings returns the stored settings, or the zero value when none exist.
func (c *Catalog) Settings(ctx context.Context) (*Settings, error) {
	s, err := getJSON[Settings](ctx, c.store, KindSettings, SettingsID)
	if errors.Is(err, ErrNotFound) {
		return &Settings{}, nil
	}
	return s, err
}

// PutSettings replaces the settings singleton.
func (c *Catalog) PutSettings(ctx context.Context, s *Settings) error {
	return putJSON(ctx, c.store, KindSettings, SettingsID, s)
}
