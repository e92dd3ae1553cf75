package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, code := range []string{"x := 1", "x", "x += 1"} {
		require.NoError(t, s.Record(ctx, Entry{N: i + 1, Code: code, Status: "ok"}))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Code)
	assert.Equal(t, "x += 1", got[1].Code)
	assert.Equal(t, 3, got[1].N)
	assert.Equal(t, s.Session(), got[1].Session)
	assert.False(t, got[1].CreatedAt.IsZero())
}

func TestRecentOnlyCurrentSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(ctx, Entry{N: 1, Code: "old", Status: "ok"}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.Session(), second.Session())

	got, err := second.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionIsUUID(t *testing.T) {
	s := openStore(t)
	_, err := uuid.Parse(s.Session())
	assert.NoError(t, err)
}

func TestRecentZeroLimit(t *testing.T) {
	s := openStore(t)
	got, err := s.Recent(context.Background(), 0)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCloseTwice(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestRecordRedactsShellCells(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, Entry{N: 1, Code: "%sh curl -H $API_TOKEN $HOME/x", Status: "ok"}))

	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "%sh curl -H $REDACTED $HOME/x", got[0].Code)
}
