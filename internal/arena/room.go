package arena

import (
	"time"

	"github.com/codearena/backend/internal/models"
)

const defaultDurationSeconds = 300

// access decides who besides internal callers may start, end or delete a round.
type access int

const (
	// accessOwner admits only the room's creator.
	accessOwner access = iota
	// accessOpen admits anyone; used when no room store is configured.
	accessOpen
	// accessDegraded admits no one: the room record could not be read, so the
	// creator is unknown.
	accessDegraded
)

func (a access) admits(createdBy, userID string) bool {
	switch {
	case userID == "":
		return true
	case a == accessOpen:
		return true
	case a == accessDegraded:
		return false
	default:
		return createdBy != "" && createdBy == userID
	}
}

// RoomState is the in-memory state of one room: its participants and current session.
// All mutation goes through Apply, which is called only from the room's actor.
type RoomState struct {
	ID        string
	CreatedBy string
	Capacity  int
	Status    models.RoomStatus
	Session   *Session

	participants map[string]*models.Participant
	order        []string
	deleted      bool
	access       access
}

// NewRoomState builds a room from its persisted record.
func NewRoomState(rec models.RoomRecord) *RoomState {
	r := &RoomState{
		ID:           rec.ID,
		CreatedBy:    rec.CreatedBy,
		Capacity:     rec.Capacity,
		Status:       rec.Status,
		participants: make(map[string]*models.Participant),
	}
	if r.Status == "" {
		r.Status = models.RoomWaiting
	}
	// A room persisted as active has lost its countdown with the previous process.
	if r.Status == models.RoomActive {
		r.Status = models.RoomFinished
	}
	for _, p := range rec.Participants {
		if _, ok := r.participants[p.UserID]; ok {
			continue
		}
		cp := p
		cp.ConnectionID = ""
		r.participants[p.UserID] = &cp
		r.order = append(r.order, p.UserID)
	}
	return r
}

// Apply runs one event through the room's state machine and returns the outcome
// plus the ordered effects and persistence records it produced.
func (r *RoomState) Apply(ev Event, now time.Time) Result {
	if r.deleted {
		return Result{Outcome: Ignored}
	}
	switch ev.Kind {
	case EventJoin:
		return r.join(ev, now)
	case EventLeave:
		return r.leave(ev, now)
	case EventDisconnect:
		return r.disconnect(ev)
	case EventStart:
		return r.tryStart(ev, now)
	case EventTick:
		return r.tick(ev, now)
	case EventSubmit:
		return r.submitResult(ev, now)
	case EventEnd:
		return r.manualEnd(ev, now)
	case EventDelete:
		return r.delete(ev, now)
	case EventInspect:
		return Result{Outcome: Inspected, GameID: r.gameID()}
	}
	return Result{Outcome: Ignored}
}

func (r *RoomState) join(ev Event, now time.Time) Result {
	var res Result
	if p, ok := r.participants[ev.UserID]; ok {
		if ev.ConnID == "" || p.ConnectionID == ev.ConnID {
			res.Outcome = AlreadyJoined
			res.subscribe(ev.ConnID)
			res.send(ev.ConnID, MsgRoomJoined, r.joinedPayload(ev.UserID))
			return res
		}
		// Reconnect to the same seat from a new connection.
		p.ConnectionID = ev.ConnID
		res.Outcome = Joined
		res.subscribe(ev.ConnID)
		res.send(ev.ConnID, MsgRoomJoined, r.joinedPayload(ev.UserID))
		res.broadcast(MsgPlayerJoined, PlayerPayload{RoomID: r.ID, UserID: ev.UserID})
		return res
	}
	if r.Status != models.RoomWaiting {
		res.Outcome = RoomNotEligible
		res.send(ev.ConnID, MsgJoinRejected, JoinRejectedPayload{RoomID: r.ID, Reason: "room is not accepting players"})
		return res
	}
	if r.Capacity > 0 && len(r.participants) >= r.Capacity {
		res.Outcome = RoomFull
		res.send(ev.ConnID, MsgJoinRejected, JoinRejectedPayload{RoomID: r.ID, Reason: "room is full"})
		return res
	}
	r.participants[ev.UserID] = &models.Participant{UserID: ev.UserID, ConnectionID: ev.ConnID, JoinedAt: now}
	r.order = append(r.order, ev.UserID)
	res.Outcome = Joined
	res.subscribe(ev.ConnID)
	res.send(ev.ConnID, MsgRoomJoined, r.joinedPayload(ev.UserID))
	res.broadcast(MsgPlayerJoined, PlayerPayload{RoomID: r.ID, UserID: ev.UserID})
	res.record(Record{Kind: RecordJoined, RoomID: r.ID, UserID: ev.UserID, At: now})
	return res
}

func (r *RoomState) leave(ev Event, now time.Time) Result {
	var res Result
	p, ok := r.participants[ev.UserID]
	if !ok {
		res.Outcome = NotParticipant
		res.unsubscribe(ev.ConnID)
		return res
	}
	delete(r.participants, ev.UserID)
	for i, id := range r.order {
		if id == ev.UserID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	res.Outcome = Left
	res.broadcast(MsgPlayerLeft, PlayerPayload{RoomID: r.ID, UserID: ev.UserID, Reason: "leave"})
	res.unsubscribe(p.ConnectionID)
	if ev.ConnID != p.ConnectionID {
		res.unsubscribe(ev.ConnID)
	}
	res.record(Record{Kind: RecordLeft, RoomID: r.ID, UserID: ev.UserID, At: now})
	return res
}

// disconnect only clears connection presence; the seat is kept for reconnection.
func (r *RoomState) disconnect(ev Event) Result {
	p, ok := r.participants[ev.UserID]
	if !ok || p.ConnectionID == "" || p.ConnectionID != ev.ConnID {
		return Result{Outcome: Ignored}
	}
	p.ConnectionID = ""
	res := Result{Outcome: Disconnected}
	res.broadcast(MsgPlayerLeft, PlayerPayload{RoomID: r.ID, UserID: ev.UserID, Reason: "disconnect"})
	return res
}

// tryStart is the single atomic check-and-set for starting a round.
func (r *RoomState) tryStart(ev Event, now time.Time) Result {
	if !r.authorized(ev.UserID) {
		return Result{Outcome: Forbidden}
	}
	if r.Session.Running() {
		return Result{Outcome: AlreadyRunning, GameID: r.Session.ID}
	}
	if r.Status != models.RoomWaiting || len(r.participants) == 0 {
		return Result{Outcome: RoomNotEligible}
	}
	duration := ev.DurationSeconds
	if duration <= 0 {
		duration = defaultDurationSeconds
	}
	s := newSession(r.ID, duration, ev.Difficulty, ev.Challenge)
	s.start(now)
	r.Session = s
	r.Status = models.RoomActive

	res := Result{Outcome: Accepted, GameID: s.ID}
	res.broadcast(MsgGameStarted, GameStartedPayload{
		GameID:          s.ID,
		Challenge:       s.Challenge,
		Difficulty:      s.Difficulty,
		DurationSeconds: s.DurationSeconds,
		StartedAt:       s.StartedAt,
	})
	res.broadcast(MsgGameTimer, GameTimerPayload{GameID: s.ID, TimeLeft: s.TimeLeft})
	g := s.game()
	res.record(Record{Kind: RecordStarted, RoomID: r.ID, At: now, Game: &g})
	return res
}

func (r *RoomState) tick(ev Event, now time.Time) Result {
	s := r.Session
	if !s.Running() || s.ID != ev.GameID {
		return Result{Outcome: Ignored}
	}
	left, expired := s.tick()
	res := Result{Outcome: Ticked, GameID: s.ID}
	res.broadcast(MsgGameTimer, GameTimerPayload{GameID: s.ID, TimeLeft: left})
	if expired && r.endSession(models.EndTimeout, "", 0, now, &res) {
		res.Outcome = TimedOut
	}
	return res
}

func (r *RoomState) submitResult(ev Event, now time.Time) Result {
	s := r.Session
	if s == nil {
		return Result{Outcome: NoSession}
	}
	if ev.GameID != "" && ev.GameID != s.ID {
		return Result{Outcome: AlreadyEnded, GameID: s.ID}
	}
	if _, ok := r.participants[ev.UserID]; !ok {
		return Result{Outcome: NotParticipant, GameID: s.ID}
	}
	sub := ev.Submission
	sub.UserID = ev.UserID
	// The ledger is an audit trail: late submissions are kept but change nothing.
	entry := s.append(sub, now)

	res := Result{Outcome: Recorded, GameID: s.ID}
	res.record(Record{Kind: RecordSubmission, RoomID: r.ID, UserID: entry.UserID, At: now, Submission: &entry})
	if !s.Running() {
		res.Outcome = AlreadyEnded
		return res
	}
	res.broadcast(MsgSubmissionUpdate, SubmissionUpdatePayload{
		GameID:    s.ID,
		UserID:    entry.UserID,
		Result:    SubmissionResult{IsCorrect: entry.IsCorrect, Score: entry.Score},
		Timestamp: entry.SubmittedAt,
	})
	if entry.IsCorrect && r.endSession(models.EndWinner, entry.UserID, entry.Score, now, &res) {
		res.Outcome = Won
	}
	return res
}

func (r *RoomState) manualEnd(ev Event, now time.Time) Result {
	if !r.authorized(ev.UserID) {
		return Result{Outcome: Forbidden}
	}
	s := r.Session
	if s == nil {
		return Result{Outcome: NoSession}
	}
	if ev.GameID != "" && ev.GameID != s.ID {
		return Result{Outcome: AlreadyEnded, GameID: s.ID}
	}
	res := Result{Outcome: Ended, GameID: s.ID}
	if !r.endSession(models.EndManual, "", 0, now, &res) {
		res.Outcome = AlreadyEnded
	}
	return res
}

// endSession performs the terminal transition at most once per session.
func (r *RoomState) endSession(reason models.EndReason, winner string, score int, now time.Time, res *Result) bool {
	s := r.Session
	if s == nil || !s.end(reason, winner, now) {
		return false
	}
	r.Status = models.RoomFinished

	var winnerPtr *string
	if winner != "" {
		w := winner
		winnerPtr = &w
	}
	res.broadcast(MsgGameEnded, GameEndedPayload{GameID: s.ID, Reason: reason, WinnerUserID: winnerPtr})
	res.record(Record{Kind: RecordOutcome, RoomID: r.ID, At: now, Outcome: &models.GameOutcome{
		GameID:       s.ID,
		RoomID:       r.ID,
		Reason:       reason,
		WinnerUserID: winner,
		WinnerScore:  score,
		Participants: r.participantIDs(),
		EndedAt:      now,
		Submissions:  s.Ledger(),
		Game:         s.game(),
	}})
	return true
}

func (r *RoomState) delete(ev Event, now time.Time) Result {
	if !r.authorized(ev.UserID) {
		return Result{Outcome: Forbidden}
	}
	res := Result{Outcome: Deleted, GameID: r.gameID()}
	if r.Session.Running() {
		// Stops the countdown; the room and its games are removed from persistence.
		r.Session.end(models.EndManual, "", now)
	}
	r.deleted = true
	r.Status = models.RoomFinished
	res.broadcast(MsgRoomDeleted, RoomDeletedPayload{RoomID: r.ID})
	res.Effects = append(res.Effects, Effect{Kind: EffectDropRoom})
	res.record(Record{Kind: RecordRoomDeleted, RoomID: r.ID, At: now})
	return res
}

// authorized reports whether userID may start, end or delete. Internal callers pass "".
func (r *RoomState) authorized(userID string) bool {
	return r.access.admits(r.CreatedBy, userID)
}

// Degraded reports whether the room runs on fallback state after a failed load.
func (r *RoomState) Degraded() bool { return r.access == accessDegraded }

func (r *RoomState) gameID() string {
	if r.Session == nil {
		return ""
	}
	return r.Session.ID
}

func (r *RoomState) participantIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *RoomState) joinedPayload(userID string) RoomJoinedPayload {
	snap := r.Snapshot()
	return RoomJoinedPayload{
		RoomID:       r.ID,
		UserID:       userID,
		Status:       snap.Status,
		Capacity:     snap.Capacity,
		Participants: snap.Participants,
		Game:         snap.Game,
	}
}

// Deleted reports whether the room received a delete event.
func (r *RoomState) Deleted() bool { return r.deleted }

// Participant returns a copy of userID's seat.
func (r *RoomState) Participant(userID string) (models.Participant, bool) {
	p, ok := r.participants[userID]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// Connected reports whether any participant currently holds a connection.
func (r *RoomState) Connected() bool {
	for _, p := range r.participants {
		if p.ConnectionID != "" {
			return true
		}
	}
	return false
}

// Snapshot returns a read-only copy of the room.
func (r *RoomState) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		RoomID:       r.ID,
		CreatedBy:    r.CreatedBy,
		Capacity:     r.Capacity,
		Status:       r.Status,
		Degraded:     r.access == accessDegraded,
		Participants: make([]ParticipantView, 0, len(r.order)),
		access:       r.access,
	}
	for _, id := range r.order {
		p := r.participants[id]
		snap.Participants = append(snap.Participants, ParticipantView{
			UserID:    p.UserID,
			Connected: p.ConnectionID != "",
			JoinedAt:  p.JoinedAt,
		})
	}
	if r.Session != nil {
		snap.Game = r.Session.view()
	}
	return snap
}

// RoomSnapshot is a point-in-time copy of a room, safe to share across goroutines.
type RoomSnapshot struct {
	RoomID       string            `json:"roomId"`
	CreatedBy    string            `json:"createdBy"`
	Capacity     int               `json:"capacity"`
	Status       models.RoomStatus `json:"status"`
	Degraded     bool              `json:"degraded,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Game         *GameView         `json:"game,omitempty"`

	access access
}

// CanManage reports whether userID may start, end or delete rounds in the room.
func (s RoomSnapshot) CanManage(userID string) bool {
	return s.access.admits(s.CreatedBy, userID)
}

// ParticipantView is a participant as seen by clients.
type ParticipantView struct {
	UserID    string    `json:"userId"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// HasParticipant reports whether userID holds a seat in the snapshot.
func (s RoomSnapshot) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
