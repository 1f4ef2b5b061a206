package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAndRecordDedupesWithinRetention(t *testing.T) {
	j, err := Open("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	seen, err := j.CheckAndRecord(ctx, KindToolResponse, "r1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = j.CheckAndRecord(ctx, KindToolResponse, "r1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestDifferentKindsAreIndependent(t *testing.T) {
	j, err := Open("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, KindToolResponse, "x"))

	seenAgent, err := j.Seen(ctx, KindAgentReply, "x")
	require.NoError(t, err)
	require.False(t, seenAgent)

	seenTool, err := j.Seen(ctx, KindToolResponse, "x")
	require.NoError(t, err)
	require.True(t, seenTool)
}

func TestPruneRemovesExpiredEntries(t *testing.T) {
	j, err := Open("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, KindToolResponse, "old"))

	// Force an already-expired row by writing directly with a stale timestamp.
	_, err = j.db.ExecContext(ctx, `UPDATE served SET created_at = ? WHERE request_id = ?`,
		time.Now().Add(-48*time.Hour).Unix(), "old")
	require.NoError(t, err)

	n, err := j.Prune(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	seen, err := j.Seen(ctx, KindToolResponse, "old")
	require.NoError(t, err)
	require.False(t, seen)
}
