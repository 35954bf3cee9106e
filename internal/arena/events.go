package arena

import (
	"time"

	"github.com/codearena/backend/internal/models"
)

// EventKind enumerates the inbound events applied at a room's serialization point.
type EventKind int

const (
	EventJoin EventKind = iota + 1
	EventLeave
	EventDisconnect
	EventStart
	EventTick
	EventSubmit
	EventEnd
	EventDelete
	EventInspect
)

func (k EventKind) String() string {
	switch k {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventDisconnect:
		return "disconnect"
	case EventStart:
		return "start"
	case EventTick:
		return "tick"
	case EventSubmit:
		return "submit"
	case EventEnd:
		return "end"
	case EventDelete:
		return "delete"
	case EventInspect:
		return "inspect"
	}
	return "unknown"
}

// Event is one inbound event for a room. Only the fields relevant to Kind are read.
type Event struct {
	Kind   EventKind
	UserID string
	ConnID string
	GameID string

	DurationSeconds int
	Difficulty      string
	Challenge       models.Challenge

	Submission models.Submission
}

// Outcome is the explicit result of applying an event.
type Outcome string

const (
	Accepted        Outcome = "accepted"
	AlreadyRunning  Outcome = "already_running"
	RoomNotEligible Outcome = "room_not_eligible"
	AlreadyEnded    Outcome = "already_ended"
	NoSession       Outcome = "no_session"
	Forbidden       Outcome = "forbidden"

	Joined         Outcome = "joined"
	AlreadyJoined  Outcome = "already_joined"
	RoomFull       Outcome = "room_full"
	Left           Outcome = "left"
	NotParticipant Outcome = "not_participant"
	Disconnected   Outcome = "disconnected"

	Recorded Outcome = "recorded"
	Won      Outcome = "winner"
	Ticked   Outcome = "ticked"
	TimedOut Outcome = "timed_out"
	Ended    Outcome = "ended"
	Deleted  Outcome = "deleted"

	Inspected Outcome = "inspected"
	Ignored   Outcome = "ignored"
)

// Rejected reports whether the outcome refused the event.
func (o Outcome) Rejected() bool {
	switch o {
	case AlreadyRunning, RoomNotEligible, AlreadyEnded, NoSession, Forbidden,
		AlreadyJoined, RoomFull, NotParticipant, Ignored:
		return true
	}
	return false
}

// Outbound wire events.
const (
	MsgRoomJoined       = "room-joined"
	MsgPlayerJoined     = "player-joined"
	MsgPlayerLeft       = "player-left"
	MsgJoinRejected     = "join-rejected"
	MsgGameStarted      = "game-started"
	MsgGameTimer        = "game-timer"
	MsgSubmissionUpdate = "submission-update"
	MsgGameEnded        = "game-ended"
	MsgRoomDeleted      = "room-deleted"
)

// EffectKind enumerates what the actor must do after a transition, in order.
type EffectKind int

const (
	EffectBroadcast EffectKind = iota + 1
	EffectSend
	EffectSubscribe
	EffectUnsubscribe
	EffectDropRoom
)

// Effect is one ordered side effect of a transition.
type Effect struct {
	Kind    EffectKind
	ConnID  string
	Event   string
	Payload any
}

// RecordKind enumerates persistence records produced by transitions.
type RecordKind int

const (
	RecordJoined RecordKind = iota + 1
	RecordLeft
	RecordStarted
	RecordSubmission
	RecordOutcome
	RecordRoomDeleted
)

// Record is handed to the persistence pipeline after a transition commits.
type Record struct {
	Kind       RecordKind
	RoomID     string
	UserID     string
	At         time.Time
	Game       *models.Game
	Submission *models.Submission
	Outcome    *models.GameOutcome
}

// Result is the outcome of RoomState.Apply plus everything the caller must emit.
type Result struct {
	Outcome Outcome
	GameID  string
	Effects []Effect
	Records []Record
}

func (r *Result) broadcast(event string, payload any) {
	r.Effects = append(r.Effects, Effect{Kind: EffectBroadcast, Event: event, Payload: payload})
}

func (r *Result) send(connID, event string, payload any) {
	if connID == "" {
		return
	}
	r.Effects = append(r.Effects, Effect{Kind: EffectSend, ConnID: connID, Event: event, Payload: payload})
}

func (r *Result) subscribe(connID string) {
	if connID == "" {
		return
	}
	r.Effects = append(r.Effects, Effect{Kind: EffectSubscribe, ConnID: connID})
}

func (r *Result) unsubscribe(connID string) {
	if connID == "" {
		return
	}
	r.Effects = append(r.Effects, Effect{Kind: EffectUnsubscribe, ConnID: connID})
}

func (r *Result) record(rec Record) {
	r.Records = append(r.Records, rec)
}

// Wire payloads.

type RoomJoinedPayload struct {
	RoomID       string            `json:"roomId"`
	UserID       string            `json:"userId"`
	Status       models.RoomStatus `json:"status"`
	Capacity     int               `json:"capacity"`
	Participants []ParticipantView `json:"participants"`
	Game         *GameView         `json:"game,omitempty"`
}

type PlayerPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type JoinRejectedPayload struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type GameStartedPayload struct {
	GameID          string           `json:"gameId"`
	Challenge       models.Challenge `json:"challenge"`
	Difficulty      string           `json:"difficulty"`
	DurationSeconds int              `json:"durationSeconds"`
	StartedAt       time.Time        `json:"startedAt"`
}

type GameTimerPayload struct {
	GameID   string `json:"gameId"`
	TimeLeft int    `json:"timeLeft"`
}

type SubmissionResult struct {
	IsCorrect bool `json:"isCorrect"`
	Score     int  `json:"score"`
}

type SubmissionUpdatePayload struct {
	GameID    string           `json:"gameId"`
	UserID    string           `json:"userId"`
	Result    SubmissionResult `json:"result"`
	Timestamp time.Time        `json:"timestamp"`
}

type GameEndedPayload struct {
	GameID       string           `json:"gameId"`
	Reason       models.EndReason `json:"reason"`
	WinnerUserID *string          `json:"winnerUserId"`
}

type RoomDeletedPayload struct {
	RoomID string `json:"roomId"`
}
