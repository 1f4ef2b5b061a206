package toolrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcrt-dev/rcrt/internal/dedup"
)

func newTestJournal(t *testing.T) *dedup.Journal {
	t.Helper()
	j, err := dedup.Open("", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}
