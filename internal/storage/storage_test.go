package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), "test-secret")
	require.NoError(t, err)
	return s
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(t.TempDir(), "")
	assert.Error(t, err)
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	in := testRecord{Name: "alpha", Count: 3}
	require.NoError(t, s.Put(ctx, []string{"records", "alpha"}, in))

	var out testRecord
	require.NoError(t, s.Get(ctx, []string{"records", "alpha"}, &out))
	assert.Equal(t, in, out)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStorage(t)

	var out testRecord
	err := s.Get(context.Background(), []string{"missing"}, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPut_EncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "test-secret")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"rec"}, testRecord{Name: "supersecret"}))

	raw, err := os.ReadFile(filepath.Join(dir, "rec.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "supersecret")

	// The envelope itself is JSON with a version tag.
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.EqualValues(t, 1, env["v"])
}

func TestGet_WrongSecretFails(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir, "secret-one")
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, []string{"rec"}, testRecord{Name: "x"}))

	s2, err := New(dir, "secret-two")
	require.NoError(t, err)

	var out testRecord
	err = s2.Get(ctx, []string{"rec"}, &out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"rec"}, testRecord{}))
	assert.True(t, s.Exists(ctx, []string{"rec"}))

	require.NoError(t, s.Delete(ctx, []string{"rec"}))
	assert.False(t, s.Exists(ctx, []string{"rec"}))

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, []string{"rec"}))
}

func TestList(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"recs", "a"}, testRecord{}))
	require.NoError(t, s.Put(ctx, []string{"recs", "b"}, testRecord{}))

	items, err := s.List(ctx, []string{"recs"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, items)

	empty, err := s.List(ctx, []string{"nothing"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSalt_StableAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := New(dir, "secret")
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, []string{"rec"}, testRecord{Name: "persist"}))

	// Re-opening with the same secret must derive the same key.
	s2, err := New(dir, "secret")
	require.NoError(t, err)

	var out testRecord
	require.NoError(t, s2.Get(ctx, []string{"rec"}, &out))
	assert.Equal(t, "persist", out.Name)
}
