package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

type published struct {
	roomID  string
	event   string
	payload any
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []published
	sends   []published
	dropped []string
	closed  map[string]bool
}

func (f *fakeBroadcaster) Publish(roomID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{roomID: roomID, event: event, payload: payload})
}

func (f *fakeBroadcaster) Send(connID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, published{roomID: connID, event: event, payload: payload})
}

func (f *fakeBroadcaster) Subscribe(connID, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed[connID]
}

func (f *fakeBroadcaster) Unsubscribe(string, string) {}

func (f *fakeBroadcaster) closeConn(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == nil {
		f.closed = map[string]bool{}
	}
	f.closed[connID] = true
}

func (f *fakeBroadcaster) DropRoom(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, roomID)
}

func (f *fakeBroadcaster) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeBroadcaster) count(event string) int {
	n := 0
	for _, e := range f.published() {
		if e.event == event {
			n++
		}
	}
	return n
}

type fakeLoader struct {
	calls   atomic.Int32
	delay   time.Duration
	missing bool
	err     error
}

func (f *fakeLoader) LoadRoom(_ context.Context, roomID string) (*models.RoomRecord, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.missing {
		return nil, nil
	}
	return &models.RoomRecord{ID: roomID, Capacity: 16, Status: models.RoomWaiting, CreatedBy: "host"}, nil
}

type fakeChallenges struct{}

func (fakeChallenges) Generate(context.Context, string) models.Challenge {
	return models.Challenge{Title: "Two Sum Problem"}
}

type fakeRecorder struct {
	mu       sync.Mutex
	kinds    []string
	outcomes []models.GameOutcome
}

func (f *fakeRecorder) add(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}

func (f *fakeRecorder) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kinds...)
}

func (f *fakeRecorder) RecordParticipantJoined(context.Context, string, string, time.Time) error {
	f.add("joined")
	return nil
}

func (f *fakeRecorder) RecordParticipantLeft(context.Context, string, string) error {
	f.add("left")
	return nil
}

func (f *fakeRecorder) RecordGameStarted(context.Context, models.Game) error {
	f.add("started")
	return nil
}

func (f *fakeRecorder) RecordSubmission(context.Context, models.Submission) error {
	f.add("submission")
	return nil
}

func (f *fakeRecorder) RecordOutcome(_ context.Context, o models.GameOutcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	f.mu.Unlock()
	f.add("outcome")
	return nil
}

func (f *fakeRecorder) RecordRoomDeleted(context.Context, string) error {
	f.add("deleted")
	return errors.New("db unavailable")
}

func newTestDispatcher(t *testing.T, loader RoomLoader, opts Options) (*Dispatcher, *fakeBroadcaster, *fakeRecorder) {
	t.Helper()
	b := &fakeBroadcaster{}
	rec := &fakeRecorder{}
	d := NewDispatcher(loader, b, fakeChallenges{}, rec, opts, zap.NewNop())
	t.Cleanup(d.Close)
	return d, b, rec
}

func joinPlayers(t *testing.T, d *Dispatcher, roomID string, n int) []string {
	t.Helper()
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf("user-%d", i)
		rep, err := d.Join(context.Background(), roomID, users[i], "conn-"+users[i])
		require.NoError(t, err)
		require.Equal(t, Joined, rep.Outcome)
	}
	return users
}

func TestConcurrentCorrectSubmissionsHaveOneWinner(t *testing.T) {
	d, b, rec := newTestDispatcher(t, &fakeLoader{}, Options{})
	ctx := context.Background()
	users := joinPlayers(t, d, "room-1", 8)

	start, err := d.StartGame(ctx, StartRequest{RoomID: "room-1", UserID: "host", DurationSeconds: 120})
	require.NoError(t, err)
	require.Equal(t, Accepted, start.Outcome)

	var wg sync.WaitGroup
	var won atomic.Int32
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			rep, err := d.SubmitResult(ctx, SubmitRequest{RoomID: "room-1", GameID: start.GameID, UserID: userID, IsCorrect: true, Score: 90})
			assert.NoError(t, err)
			if rep.Outcome == Won {
				won.Add(1)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, 1, b.count(MsgGameEnded))

	snap, err := d.Snapshot(ctx, "room-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Game)
	require.NotNil(t, snap.Game.WinnerUserID)
	assert.Equal(t, models.RoomFinished, snap.Status)
	assert.Equal(t, 8, snap.Game.Submissions)

	d.Close()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.outcomes, 1)
	outcome := rec.outcomes[0]
	assert.Equal(t, *snap.Game.WinnerUserID, outcome.WinnerUserID)
	require.NotEmpty(t, outcome.Submissions)
	assert.Equal(t, 1, outcome.Submissions[0].Seq)
	assert.Equal(t, outcome.WinnerUserID, outcome.Submissions[0].UserID)
}

func TestConcurrentStartsAcceptOne(t *testing.T) {
	d, b, _ := newTestDispatcher(t, &fakeLoader{}, Options{})
	ctx := context.Background()
	joinPlayers(t, d, "room-1", 2)

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := d.StartGame(ctx, StartRequest{RoomID: "room-1", UserID: "host"})
			assert.NoError(t, err)
			switch rep.Outcome {
			case Accepted:
				accepted.Add(1)
			case AlreadyRunning:
			default:
				t.Errorf("unexpected outcome %s", rep.Outcome)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, b.count(MsgGameStarted))
}

func TestStartByNonCreatorIsForbidden(t *testing.T) {
	d, b, _ := newTestDispatcher(t, &fakeLoader{}, Options{})
	joinPlayers(t, d, "room-1", 1)

	rep, err := d.StartGame(context.Background(), StartRequest{RoomID: "room-1", UserID: "user-0"})
	require.NoError(t, err)
	assert.Equal(t, Forbidden, rep.Outcome)
	assert.Zero(t, b.count(MsgGameStarted))
}

func TestCountdownEndsWithoutGhostTicks(t *testing.T) {
	d, b, _ := newTestDispatcher(t, &fakeLoader{}, Options{TickInterval: 10 * time.Millisecond})
	joinPlayers(t, d, "room-1", 1)

	rep, err := d.StartGame(context.Background(), StartRequest{RoomID: "room-1", UserID: "host", DurationSeconds: 5})
	require.NoError(t, err)
	require.Equal(t, Accepted, rep.Outcome)

	require.Eventually(t, func() bool { return b.count(MsgGameEnded) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	var lefts []int
	endedAt := -1
	events := b.published()
	for i, e := range events {
		switch e.event {
		case MsgGameTimer:
			assert.Equal(t, -1, endedAt, "game-timer after game-ended")
			lefts = append(lefts, e.payload.(GameTimerPayload).TimeLeft)
		case MsgGameEnded:
			endedAt = i
			p := e.payload.(GameEndedPayload)
			assert.Equal(t, models.EndTimeout, p.Reason)
			assert.Nil(t, p.WinnerUserID)
		}
	}
	assert.Equal(t, []int{5, 4, 3, 2, 1, 0}, lefts)
	assert.Equal(t, 1, b.count(MsgGameEnded))
}

func TestDeleteWhileRunningTombstonesRoom(t *testing.T) {
	d, b, rec := newTestDispatcher(t, &fakeLoader{}, Options{TickInterval: 10 * time.Millisecond})
	ctx := context.Background()
	joinPlayers(t, d, "room-1", 1)

	_, err := d.StartGame(ctx, StartRequest{RoomID: "room-1", UserID: "host", DurationSeconds: 60})
	require.NoError(t, err)

	rep, err := d.DeleteRoom(ctx, "room-1", "host")
	require.NoError(t, err)
	assert.Equal(t, Deleted, rep.Outcome)
	assert.Zero(t, d.LiveRooms())

	_, err = d.Join(ctx, "room-1", "late", "conn-late")
	assert.ErrorIs(t, err, ErrRoomDeleted)

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, b.count(MsgGameEnded))
	assert.Equal(t, 1, b.count(MsgRoomDeleted))
	b.mu.Lock()
	assert.Equal(t, []string{"room-1"}, b.dropped)
	b.mu.Unlock()

	// Recorder failures are logged and do not block shutdown.
	d.Close()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"joined", "started", "deleted"}, rec.kinds)
}

func TestConcurrentFirstTouchLoadsOnce(t *testing.T) {
	loader := &fakeLoader{delay: 20 * time.Millisecond}
	d, _, _ := newTestDispatcher(t, loader, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Snapshot(context.Background(), "room-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 1, d.LiveRooms())
}

func TestIdleRoomIsEvictedAndReloaded(t *testing.T) {
	loader := &fakeLoader{}
	d, _, _ := newTestDispatcher(t, loader, Options{IdleEviction: 30 * time.Millisecond})
	ctx := context.Background()

	// Joined over HTTP, so nobody holds a connection.
	_, err := d.Join(ctx, "room-1", "alice", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.LiveRooms() == 0 }, time.Second, 5*time.Millisecond)

	snap, err := d.Snapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "room-1", snap.RoomID)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestJoinFromClosedConnectionKeepsSeatOnly(t *testing.T) {
	d, b, _ := newTestDispatcher(t, &fakeLoader{}, Options{IdleEviction: 30 * time.Millisecond})
	ctx := context.Background()
	b.closeConn("conn-ghost")

	rep, err := d.Join(ctx, "room-1", "ghost", "conn-ghost")
	require.NoError(t, err)
	assert.Equal(t, Joined, rep.Outcome)
	require.Len(t, rep.Snapshot.Participants, 1)
	assert.False(t, rep.Snapshot.Participants[0].Connected)
	assert.Equal(t, 1, b.count(MsgPlayerLeft))

	require.Eventually(t, func() bool { return d.LiveRooms() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConnectedRoomIsNotEvicted(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeLoader{}, Options{IdleEviction: 20 * time.Millisecond})
	joinPlayers(t, d, "room-1", 1)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, d.LiveRooms())
}

func TestUnknownRoom(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeLoader{missing: true}, Options{})

	_, err := d.Join(context.Background(), "nope", "alice", "c1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Zero(t, d.LiveRooms())
}

func TestLoaderFailureFallsBackToDefaults(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeLoader{err: errors.New("connection refused")}, Options{DefaultCapacity: 3})

	snap, err := d.Snapshot(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Capacity)
	assert.Equal(t, models.RoomWaiting, snap.Status)
}

func TestLoaderFailureRefusesManagement(t *testing.T) {
	d, _, rec := newTestDispatcher(t, &fakeLoader{err: errors.New("connection refused")}, Options{})
	ctx := context.Background()

	rep, err := d.Join(ctx, "room-1", "mallory", "c1")
	require.NoError(t, err)
	require.Equal(t, Joined, rep.Outcome)

	snap, err := d.Snapshot(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Empty(t, snap.CreatedBy)

	rep, err = d.StartGame(ctx, StartRequest{RoomID: "room-1", UserID: "mallory"})
	require.NoError(t, err)
	assert.Equal(t, Forbidden, rep.Outcome)

	rep, err = d.EndGame(ctx, "room-1", "", "mallory")
	require.NoError(t, err)
	assert.Equal(t, Forbidden, rep.Outcome)

	rep, err = d.DeleteRoom(ctx, "room-1", "mallory")
	require.NoError(t, err)
	assert.Equal(t, Forbidden, rep.Outcome)

	d.Close()
	assert.Equal(t, []string{"joined"}, rec.recorded())
}

func TestDisconnectDoesNotLoadRoom(t *testing.T) {
	loader := &fakeLoader{}
	d, _, _ := newTestDispatcher(t, loader, Options{})

	d.Disconnect(context.Background(), "room-1", "alice", "c1")
	assert.Zero(t, loader.calls.Load())
	assert.Zero(t, d.LiveRooms())
}

func TestClosedDispatcherRejectsEvents(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeLoader{}, Options{})
	joinPlayers(t, d, "room-1", 1)

	d.Close()
	_, err := d.Join(context.Background(), "room-1", "bob", "c2")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNormalize(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil, Options{DefaultDuration: 300, MaxDuration: 600, DefaultDifficulty: "medium"})

	assert.Equal(t, 300, d.NormalizeDuration(0))
	assert.Equal(t, 45, d.NormalizeDuration(45))
	assert.Equal(t, 600, d.NormalizeDuration(9000))

	assert.Equal(t, "hard", d.NormalizeDifficulty(" HARD "))
	assert.Equal(t, "medium", d.NormalizeDifficulty("impossible"))
}
