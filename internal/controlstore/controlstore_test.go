package controlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store/sqlite"
)

func TestControlStore(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "c.sqlite"), zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	s := New(repo, zap.NewNop())

	var v map[string]int
	found, err := s.GetJSON(ctx, "missing", &v)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetJSON(ctx, "k", map[string]int{"a": 1}))
	require.NoError(t, s.SetJSON(ctx, "k", map[string]int{"a": 2}))

	found, err = s.GetJSON(ctx, "k", &v)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, v["a"])

	require.NoError(t, repo.Settings().Set(ctx, "bad", "{not json"))
	found, err = s.GetJSON(ctx, "bad", &v)
	require.NoError(t, err)
	assert.False(t, found)
}
