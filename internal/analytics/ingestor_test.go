package analytics

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/store/model"
	"github.com/nulzo/model-gateway/internal/store/sqlite"
)

func TestIngestor_FlushesOnStop(t *testing.T) {
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "a.sqlite"), zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())

	now := time.Now().UnixMilli()
	for i, status := range []string{"ok", "error", "ok"} {
		ing.Record(&model.TraceEvent{
			TraceID:    "t",
			EventKind:  "chat",
			ProviderID: sql.NullString{String: "p1", Valid: true},
			ModelID:    sql.NullString{String: "m1", Valid: true},
			Status:     status,
			LatencyMS:  int64(10 * (i + 1)),
			TS:         now,
		})
	}
	ing.Stop()
	ing.Record(&model.TraceEvent{TraceID: "late"})

	svc := NewService(repo)
	events, err := svc.RecentTraces(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	stats, err := svc.ProviderStats(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "p1", stats[0].ProviderID)
	assert.Equal(t, 3, stats[0].TotalAttempts)
	assert.Equal(t, 2, stats[0].Successes)
	assert.Equal(t, 1, stats[0].Failures)
	assert.InDelta(t, 20.0, stats[0].AverageLatency, 0.001)
}

func TestIngestor_KeepsWritingAfterContextCancel(t *testing.T) {
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "a.sqlite"), zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(ctx)
	cancel()

	now := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		ing.Record(&model.TraceEvent{
			TraceID:    "draining",
			EventKind:  "chat",
			ProviderID: sql.NullString{String: "p1", Valid: true},
			Status:     "ok",
			TS:         now,
		})
	}
	ing.Stop()

	events, err := NewService(repo).RecentTraces(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
