// ABOUTME: Tests for the typed Catalog helpers
// ABOUTME: Covers persona timestamps, validation and settings defaults

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_PersonaRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewMockStore())

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return first }

	p := &Persona{ID: "skeptic", Name: "Skeptic", SystemPrompt: "Doubt everything.", ModelID: "gpt", Parameters: DefaultParameters()}
	require.NoError(t, c.PutPersona(ctx, p))

	later := first.Add(time.Hour)
	c.now = func() time.Time { return later }
	require.NoError(t, c.PutPersona(ctx, &Persona{ID: "skeptic", Name: "Skeptic II"}))

	got, err := c.GetPersona(ctx, "skeptic")
	require.NoError(t, err)
	assert.Equal(t, "Skeptic II", got.Name)
	assert.True(t, got.CreatedAt.Equal(first), "created_at should survive updates")
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestCatalog_PutPersonaRequiresIDAndName(t *testing.T) {
	c := NewCatalog(NewMockStore())
	err := c.PutPersona(context.Background(), &Persona{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestCatalog_ListModelsInOrder(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewMockStore())

	require.NoError(t, c.PutModel(ctx, &ModelConfig{ID: "b", Name: "B", Provider: "openai"}))
	require.NoError(t, c.PutModel(ctx, &ModelConfig{ID: "a", Name: "A", Provider: "anthropic"}))

	models, err := c.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "b", models[0].ID)
	assert.Equal(t, "a", models[1].ID)

	err = c.PutModel(ctx, &ModelConfig{ID: "c"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestCatalog_SettingsDefault(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(NewMockStore())

	s, err := c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{}, *s)

	require.NoError(t, c.PutSettings(ctx, &Settings{BackendURL: "http://localhost:3000", AutoModeInterval: 5 * time.Second}))
	s, err = c.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", s.BackendURL)
	assert.Equal(t, 5*time.Second, s.AutoModeInterval)
}
