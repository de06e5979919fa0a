package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	p, err := OpenPersister(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx := context.Background()

	_, ok, err := p.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh database has no state")

	s := New()
	s.SetAPIKey("sk-local")
	s.CreateBranch(RootNodeID, "foo", "", "")

	require.NoError(t, p.Save(ctx, s.Snapshot()))

	loaded, ok, err := p.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sk-local", loaded.APIKey)
	require.Len(t, loaded.Sessions, 1)
	assert.Len(t, loaded.Sessions[0].Nodes, 2)
}

func TestPersisterOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	p, err := OpenPersister(path)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx := context.Background()

	require.NoError(t, p.Save(ctx, State{ModelID: "first"}))
	require.NoError(t, p.Save(ctx, State{ModelID: "second"}))

	loaded, ok, err := p.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", loaded.ModelID)
}
