package arena

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/backend/internal/models"
)

const (
	maxDispatchAttempts = 3
	recordTimeout       = 5 * time.Second
)

// Options configures the dispatcher.
type Options struct {
	TickInterval      time.Duration
	IdleEviction      time.Duration
	InboxSize         int
	RecordBuffer      int
	DefaultCapacity   int
	DefaultDuration   int
	MaxDuration       int
	DefaultDifficulty string
}

func (o *Options) withDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.RecordBuffer <= 0 {
		o.RecordBuffer = 1024
	}
	if o.DefaultCapacity <= 0 {
		o.DefaultCapacity = 8
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = defaultDurationSeconds
	}
	if o.MaxDuration < o.DefaultDuration {
		o.MaxDuration = o.DefaultDuration
	}
	if o.DefaultDifficulty == "" {
		o.DefaultDifficulty = "medium"
	}
}

// StartRequest asks for a new round in a room.
type StartRequest struct {
	RoomID          string
	UserID          string
	DurationSeconds int
	Difficulty      string
}

// SubmitRequest carries an already evaluated submission.
type SubmitRequest struct {
	RoomID      string
	GameID      string
	UserID      string
	IsCorrect   bool
	Score       int
	SubmittedAt time.Time

	SubmissionID string
	Feedback     string
	Language     string
	CodeKey      string
}

// Dispatcher is the single entry point for room events. Each room is served
// by its own actor; different rooms proceed in parallel.
type Dispatcher struct {
	dir         *Directory
	broadcaster Broadcaster
	challenges  ChallengeSource
	recorder    Recorder
	opts        Options
	logger      *zap.Logger
	clock       func() time.Time

	records    chan Record
	recordDone chan struct{}
	closeOnce  sync.Once
}

// NewDispatcher creates a dispatcher and starts its persistence pipeline.
// recorder may be nil, in which case committed transitions are not persisted.
func NewDispatcher(loader RoomLoader, broadcaster Broadcaster, challenges ChallengeSource, recorder Recorder, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.withDefaults()
	d := &Dispatcher{
		broadcaster: broadcaster,
		challenges:  challenges,
		recorder:    recorder,
		opts:        opts,
		logger:      logger,
		clock:       time.Now,
		records:     make(chan Record, opts.RecordBuffer),
		recordDone:  make(chan struct{}),
	}
	d.dir = newDirectory(loader, opts.DefaultCapacity, d.spawn, logger)
	go d.runRecorder()
	return d
}

func (d *Dispatcher) spawn(state *RoomState) *roomActor {
	return &roomActor{
		roomID:      state.ID,
		state:       state,
		inbox:       make(chan command, d.opts.InboxSize),
		done:        make(chan struct{}),
		quit:        make(chan struct{}),
		broadcaster: d.broadcaster,
		records:     d.enqueueRecord,
		onExit:      d.dir.remove,
		interval:    d.opts.TickInterval,
		idleAfter:   d.opts.IdleEviction,
		clock:       d.clock,
		logger:      d.logger,
	}
}

// apply routes ev to the room's actor, retrying once the actor has been
// evicted between lookup and delivery.
func (d *Dispatcher) apply(ctx context.Context, roomID string, ev Event) (Reply, error) {
	var lastErr error
	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		a, err := d.dir.getOrCreate(ctx, roomID)
		if err != nil {
			return Reply{}, err
		}
		rep, err := a.do(ctx, ev)
		if errors.Is(err, errActorStopped) {
			lastErr = err
			continue
		}
		return rep, err
	}
	return Reply{}, lastErr
}

// Join seats userID in the room and subscribes connID (if any) to its events.
func (d *Dispatcher) Join(ctx context.Context, roomID, userID, connID string) (Reply, error) {
	return d.apply(ctx, roomID, Event{Kind: EventJoin, UserID: userID, ConnID: connID})
}

// Leave removes userID's seat.
func (d *Dispatcher) Leave(ctx context.Context, roomID, userID, connID string) (Reply, error) {
	return d.apply(ctx, roomID, Event{Kind: EventLeave, UserID: userID, ConnID: connID})
}

// Disconnect marks userID's connection absent without removing the seat.
// Rooms that are not live are not loaded for this.
func (d *Dispatcher) Disconnect(ctx context.Context, roomID, userID, connID string) {
	a, err := d.dir.lookup(roomID)
	if err != nil || a == nil {
		return
	}
	if _, err := a.do(ctx, Event{Kind: EventDisconnect, UserID: userID, ConnID: connID}); err != nil && !errors.Is(err, errActorStopped) {
		d.logger.Debug("disconnect not applied", zap.String("room_id", roomID), zap.Error(err))
	}
}

// StartGame runs tryStart for the room. The challenge is generated before the
// event reaches the room, so the room is never blocked on the generator.
func (d *Dispatcher) StartGame(ctx context.Context, req StartRequest) (Reply, error) {
	snap, err := d.Snapshot(ctx, req.RoomID)
	if err != nil {
		return Reply{}, err
	}
	if outcome := precheckStart(snap, req.UserID); outcome != "" {
		d.logger.Debug("start skipped", zap.String("room_id", req.RoomID), zap.String("outcome", string(outcome)))
		rep := Reply{Outcome: outcome, Snapshot: snap}
		if snap.Game != nil {
			rep.GameID = snap.Game.GameID
		}
		return rep, nil
	}

	difficulty := d.NormalizeDifficulty(req.Difficulty)
	challenge := d.challenges.Generate(ctx, difficulty)
	return d.apply(ctx, req.RoomID, Event{
		Kind:            EventStart,
		UserID:          req.UserID,
		DurationSeconds: d.NormalizeDuration(req.DurationSeconds),
		Difficulty:      difficulty,
		Challenge:       challenge,
	})
}

// precheckStart mirrors tryStart's guards on a snapshot. It only short-circuits;
// the authoritative decision is made by the room's actor.
func precheckStart(snap RoomSnapshot, userID string) Outcome {
	if !snap.CanManage(userID) {
		return Forbidden
	}
	if snap.Game != nil && snap.Game.Status == models.SessionRunning {
		return AlreadyRunning
	}
	if snap.Status != models.RoomWaiting || len(snap.Participants) == 0 {
		return RoomNotEligible
	}
	return ""
}

// SubmitResult applies an evaluated submission to the room's running round.
func (d *Dispatcher) SubmitResult(ctx context.Context, req SubmitRequest) (Reply, error) {
	return d.apply(ctx, req.RoomID, Event{
		Kind:   EventSubmit,
		UserID: req.UserID,
		GameID: req.GameID,
		Submission: models.Submission{
			ID:          req.SubmissionID,
			IsCorrect:   req.IsCorrect,
			Score:       req.Score,
			Feedback:    req.Feedback,
			Language:    req.Language,
			CodeKey:     req.CodeKey,
			SubmittedAt: req.SubmittedAt,
		},
	})
}

// EndGame ends the running round manually.
func (d *Dispatcher) EndGame(ctx context.Context, roomID, gameID, userID string) (Reply, error) {
	return d.apply(ctx, roomID, Event{Kind: EventEnd, UserID: userID, GameID: gameID})
}

// DeleteRoom evicts the room, cancelling any running round, and tells subscribers.
func (d *Dispatcher) DeleteRoom(ctx context.Context, roomID, userID string) (Reply, error) {
	return d.apply(ctx, roomID, Event{Kind: EventDelete, UserID: userID})
}

// Snapshot returns the room's current state as seen by its actor.
func (d *Dispatcher) Snapshot(ctx context.Context, roomID string) (RoomSnapshot, error) {
	rep, err := d.apply(ctx, roomID, Event{Kind: EventInspect})
	if err != nil {
		return RoomSnapshot{}, err
	}
	return rep.Snapshot, nil
}

// LiveRooms returns the number of rooms held in memory.
func (d *Dispatcher) LiveRooms() int {
	return d.dir.Len()
}

// NormalizeDuration applies the default and the configured maximum.
func (d *Dispatcher) NormalizeDuration(seconds int) int {
	if seconds <= 0 {
		return d.opts.DefaultDuration
	}
	if seconds > d.opts.MaxDuration {
		return d.opts.MaxDuration
	}
	return seconds
}

// NormalizeDifficulty maps unknown values to the configured default.
func (d *Dispatcher) NormalizeDifficulty(difficulty string) string {
	switch v := strings.ToLower(strings.TrimSpace(difficulty)); v {
	case "easy", "medium", "hard":
		return v
	}
	return d.opts.DefaultDifficulty
}

// Close stops every room actor and flushes pending persistence records.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.dir.close()
		close(d.records)
		<-d.recordDone
		d.logger.Info("dispatcher stopped")
	})
}

func (d *Dispatcher) enqueueRecord(rec Record) {
	if d.recorder == nil {
		return
	}
	select {
	case d.records <- rec:
	default:
		d.logger.Error("record pipeline full, dropping record",
			zap.String("room_id", rec.RoomID),
			zap.Int("kind", int(rec.Kind)),
		)
	}
}

// runRecorder applies records in commit order, one at a time.
func (d *Dispatcher) runRecorder() {
	defer close(d.recordDone)
	for rec := range d.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := d.persist(ctx, rec); err != nil {
			d.logger.Error("record outcome failed",
				zap.String("room_id", rec.RoomID),
				zap.Int("kind", int(rec.Kind)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (d *Dispatcher) persist(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case RecordJoined:
		return d.recorder.RecordParticipantJoined(ctx, rec.RoomID, rec.UserID, rec.At)
	case RecordLeft:
		return d.recorder.RecordParticipantLeft(ctx, rec.RoomID, rec.UserID)
	case RecordStarted:
		return d.recorder.RecordGameStarted(ctx, *rec.Game)
	case RecordSubmission:
		return d.recorder.RecordSubmission(ctx, *rec.Submission)
	case RecordOutcome:
		return d.recorder.RecordOutcome(ctx, *rec.Outcome)
	case RecordRoomDeleted:
		return d.recorder.RecordRoomDeleted(ctx, rec.RoomID)
	}
	return nil
}
