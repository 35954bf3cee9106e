package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/queue"
)

// memQueue is an in-memory JobSource and enqueuer.
type memQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
	dead []*queue.Job
}

func (m *memQueue) Enqueue(_ context.Context, jobType queue.JobType, roomID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, &queue.Job{ID: string(jobType) + "-" + roomID, Type: jobType, RoomID: roomID, Payload: body})
	return nil
}

func (m *memQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, ctx.Err()
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

func (m *memQueue) DeadLetter(_ context.Context, job *queue.Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Error = cause.Error()
	m.dead = append(m.dead, job)
	return nil
}

func (m *memQueue) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type fakeRooms struct {
	seats   map[string]bool
	deleted []string
	failAdd error
}

func (f *fakeRooms) AddParticipant(_ context.Context, roomID, userID string, _ time.Time) error {
	if f.failAdd != nil {
		return f.failAdd
	}
	f.seats[roomID+"/"+userID] = true
	return nil
}

func (f *fakeRooms) RemoveParticipant(_ context.Context, roomID, userID string) error {
	delete(f.seats, roomID+"/"+userID)
	return nil
}

func (f *fakeRooms) Delete(_ context.Context, roomID string) (bool, error) {
	f.deleted = append(f.deleted, roomID)
	return true, nil
}

type fakeGames struct {
	games    []models.Game
	subs     []models.Submission
	applied  map[string]bool
	outcomes int
}

func (f *fakeGames) Create(_ context.Context, g models.Game) error {
	f.games = append(f.games, g)
	return nil
}

func (f *fakeGames) AddSubmission(_ context.Context, s models.Submission) error {
	f.subs = append(f.subs, s)
	return nil
}

func (f *fakeGames) ApplyOutcome(_ context.Context, o models.GameOutcome) ([]models.UserStats, bool, error) {
	if f.applied[o.GameID] {
		return nil, false, nil
	}
	f.applied[o.GameID] = true
	f.outcomes++
	stats := []models.UserStats{}
	for _, u := range o.Participants {
		st := models.UserStats{UserID: u, GamesPlayed: 1}
		if u == o.WinnerUserID {
			st.GamesWon, st.TotalScore = 1, o.WinnerScore
		}
		stats = append(stats, st)
	}
	return stats, true, nil
}

type fakeScores struct{ updates [][]models.UserStats }

func (f *fakeScores) Update(_ context.Context, stats []models.UserStats) error {
	f.updates = append(f.updates, stats)
	return nil
}

type fakeArchive struct{ rooms []string }

func (f *fakeArchive) DeleteRoomArchive(_ context.Context, roomID string) (int, error) {
	f.rooms = append(f.rooms, roomID)
	return 2, nil
}

func newFixture() (*memQueue, *fakeRooms, *fakeGames, *fakeScores, *fakeArchive, *Processor) {
	q := &memQueue{}
	rooms := &fakeRooms{seats: map[string]bool{}}
	games := &fakeGames{applied: map[string]bool{}}
	scores := &fakeScores{}
	archive := &fakeArchive{}
	return q, rooms, games, scores, archive, NewProcessor(rooms, games, scores, archive, q, nil)
}

func drain(t *testing.T, q *memQueue, p *Processor) {
	t.Helper()
	ctx := context.Background()
	for q.pending() > 0 {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		p.handle(ctx, job)
	}
}

func TestRecorderToProcessor(t *testing.T) {
	q, rooms, games, scores, archive, p := newFixture()
	rec := NewQueueRecorder(q)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, rec.RecordParticipantJoined(ctx, "room-1", "alice", now))
	require.NoError(t, rec.RecordParticipantJoined(ctx, "room-1", "bob", now))
	require.NoError(t, rec.RecordGameStarted(ctx, models.Game{ID: "game-1", RoomID: "room-1", Status: models.SessionRunning}))
	require.NoError(t, rec.RecordSubmission(ctx, models.Submission{GameID: "game-1", RoomID: "room-1", UserID: "bob", Seq: 1, IsCorrect: true, Score: 80}))
	outcome := models.GameOutcome{GameID: "game-1", RoomID: "room-1", Reason: models.EndWinner, WinnerUserID: "bob", WinnerScore: 80, Participants: []string{"alice", "bob"}}
	require.NoError(t, rec.RecordOutcome(ctx, outcome))
	require.NoError(t, rec.RecordParticipantLeft(ctx, "room-1", "alice"))
	drain(t, q, p)

	assert.Equal(t, map[string]bool{"room-1/bob": true}, rooms.seats)
	require.Len(t, games.games, 1)
	assert.Equal(t, "game-1", games.games[0].ID)
	require.Len(t, games.subs, 1)
	assert.Equal(t, "bob", games.subs[0].UserID)
	require.Len(t, scores.updates, 1)
	assert.Len(t, scores.updates[0], 2)
	assert.Empty(t, q.dead)

	t.Run("replayed outcome is applied once", func(t *testing.T) {
		require.NoError(t, rec.RecordOutcome(ctx, outcome))
		drain(t, q, p)
		assert.Equal(t, 1, games.outcomes)
		assert.Len(t, scores.updates, 1)
	})

	t.Run("room deletion clears the archive", func(t *testing.T) {
		require.NoError(t, rec.RecordRoomDeleted(ctx, "room-1"))
		drain(t, q, p)
		assert.Equal(t, []string{"room-1"}, rooms.deleted)
		assert.Equal(t, []string{"room-1"}, archive.rooms)
	})
}

func TestOutcomeWithoutParticipantsIsApplied(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	q := &memQueue{}
	games := &fakeGames{applied: map[string]bool{}}
	scores := &fakeScores{}
	p := NewProcessor(&fakeRooms{seats: map[string]bool{}}, games, scores, nil, q, zap.New(core))

	outcome := models.GameOutcome{GameID: "game-2", RoomID: "room-1", Reason: models.EndManual}
	require.NoError(t, p.applyOutcome(context.Background(), outcome))
	require.NoError(t, p.applyOutcome(context.Background(), outcome))

	assert.Equal(t, 1, games.outcomes)
	assert.Empty(t, scores.updates)
	assert.Equal(t, 1, logs.FilterMessage("game outcome applied").Len())
	assert.Equal(t, 1, logs.FilterMessage("outcome already applied").Len())
}

func TestFailedJobIsDeadLettered(t *testing.T) {
	q, rooms, _, _, _, p := newFixture()
	rooms.failAdd = errors.New("connection refused")
	rec := NewQueueRecorder(q)

	require.NoError(t, rec.RecordParticipantJoined(context.Background(), "room-1", "alice", time.Now()))
	drain(t, q, p)

	require.Len(t, q.dead, 1)
	assert.Equal(t, queue.JobTypeParticipantJoined, q.dead[0].Type)
	assert.Contains(t, q.dead[0].Error, "connection refused")
	assert.Equal(t, 0, q.pending())
}

func TestUnknownJobType(t *testing.T) {
	_, _, _, _, _, p := newFixture()
	err := p.Process(context.Background(), &queue.Job{Type: "bogus", Payload: json.RawMessage(`{}`)})
	assert.ErrorContains(t, err, "unknown job type")
}

func TestRunStopsOnCancel(t *testing.T) {
	q, _, _, _, _, p := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 0, q.pending())
}
