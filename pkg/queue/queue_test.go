package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codearena/backend/internal/testutil"
)

func TestQueueLifecycle(t *testing.T) {
	q := NewQueue(testutil.Redis(t), nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, JobTypeParticipantJoined, "room-1", map[string]string{"user_id": "alice"}))
	require.NoError(t, q.Enqueue(ctx, JobTypeRoomDeleted, "room-1", map[string]string{}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, JobTypeParticipantJoined, first.Type)
	var p map[string]string
	require.NoError(t, first.Decode(&p))
	assert.Equal(t, "alice", p["user_id"])

	require.NoError(t, q.DeadLetter(ctx, first, errors.New("db down")))
	pending, dead, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(1), dead)

	jobs, total, err := q.DeadLetters(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "db down", jobs[0].Error)
	assert.Equal(t, 1, jobs[0].Attempt)

	moved, err := q.Replay(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobTypeRoomDeleted, second.Type)
	replayed, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
}
