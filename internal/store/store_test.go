// ABOUTME: Behavioral tests shared by every Store implementation
// ABOUTME: Runs the same cases against SQLiteStore and MockStore

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chorus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func implementations(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestStore(t),
		"mock":   NewMockStore(),
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, KindPersona, "p1", []byte(`{"id":"p1"}`)))

			got, err := s.Get(ctx, KindPersona, "p1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"p1"}`, string(got))

			// Same id under another kind is a different key
			_, err = s.Get(ctx, KindModel, "p1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PutOverwritesInPlace(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, KindConversation, "a", []byte(`1`)))
			require.NoError(t, s.Put(ctx, KindConversation, "b", []byte(`2`)))
			require.NoError(t, s.Put(ctx, KindConversation, "a", []byte(`3`)))

			values, err := s.List(ctx, KindConversation)
			require.NoError(t, err)
			require.Len(t, values, 2)
			assert.Equal(t, "3", string(values[0]))
			assert.Equal(t, "2", string(values[1]))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, KindModel, "m1", []byte(`{}`)))
			require.NoError(t, s.Delete(ctx, KindModel, "m1"))

			_, err := s.Get(ctx, KindModel, "m1")
			assert.ErrorIs(t, err, ErrNotFound)

			err = s.Delete(ctx, KindModel, "m1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListEmpty(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			values, err := s.List(context.Background(), KindSettings)
			require.NoError(t, err)
			assert.Empty(t, values)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chorus.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, KindConversation, "c1", []byte(`{"id":"c1"}`)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, KindConversation, "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1"}`, string(got))
}
