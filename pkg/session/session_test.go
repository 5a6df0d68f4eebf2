package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutTake(t *testing.T) {
	s, err := NewMemoryStore(time.Minute, 100)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 42, Pending{Action: AwaitComment, TaskID: "t1"}))

	p, ok, err := s.Take(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, AwaitComment, p.Action)
	assert.Equal(t, "t1", p.TaskID)
	assert.False(t, p.CreatedAt.IsZero())

	_, ok, err = s.Take(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "take consumes the entry")
}

func TestPutReplacesPending(t *testing.T) {
	s, err := NewMemoryStore(0, 0)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, Pending{Action: AwaitComment, TaskID: "t1"}))
	require.NoError(t, s.Put(ctx, 1, Pending{Action: AwaitCancelReason, TaskID: "t2"}))

	p, ok, _ := s.Take(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, AwaitCancelReason, p.Action)
	assert.Equal(t, "t2", p.TaskID)
}

func TestClear(t *testing.T) {
	s, err := NewMemoryStore(time.Minute, 10)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 7, Pending{Action: AwaitComment, TaskID: "t1"}))
	require.NoError(t, s.Clear(ctx, 7))
	_, ok, _ := s.Take(ctx, 7)
	assert.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	s, err := NewMemoryStore(time.Second, 10)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 9, Pending{Action: AwaitComment, TaskID: "t1"}))
	time.Sleep(2500 * time.Millisecond)
	_, ok, _ := s.Take(ctx, 9)
	assert.False(t, ok)
}
