package arena

import (
	"time"

	"github.com/google/uuid"

	"github.com/codearena/backend/internal/models"
)

// Session is one round's state machine: pending -> running -> ended.
// It is owned by its room's actor and never touched from another goroutine.
type Session struct {
	ID              string
	RoomID          string
	Status          models.SessionStatus
	EndedReason     models.EndReason
	Difficulty      string
	Challenge       models.Challenge
	DurationSeconds int
	TimeLeft        int
	StartedAt       time.Time
	EndedAt         time.Time
	WinnerUserID    string

	ledger []models.Submission
}

func newSession(roomID string, durationSeconds int, difficulty string, challenge models.Challenge) *Session {
	return &Session{
		ID:              uuid.NewString(),
		RoomID:          roomID,
		Status:          models.SessionPending,
		EndedReason:     models.EndNone,
		Difficulty:      difficulty,
		Challenge:       challenge,
		DurationSeconds: durationSeconds,
	}
}

// Running reports whether the countdown is live.
func (s *Session) Running() bool {
	return s != nil && s.Status == models.SessionRunning
}

func (s *Session) start(now time.Time) bool {
	if s.Status != models.SessionPending {
		return false
	}
	s.Status = models.SessionRunning
	s.StartedAt = now
	s.TimeLeft = s.DurationSeconds
	return true
}

// tick consumes one second of the countdown.
func (s *Session) tick() (timeLeft int, expired bool) {
	if !s.Running() {
		return s.TimeLeft, false
	}
	if s.TimeLeft > 0 {
		s.TimeLeft--
	}
	return s.TimeLeft, s.TimeLeft == 0
}

func (s *Session) append(sub models.Submission, now time.Time) models.Submission {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = now
	}
	sub.GameID = s.ID
	sub.RoomID = s.RoomID
	sub.Seq = len(s.ledger) + 1
	sub.AppliedAt = now
	s.ledger = append(s.ledger, sub)
	return sub
}

// end is idempotent and reports whether this call caused the transition.
// Reason and winner are immutable afterwards.
func (s *Session) end(reason models.EndReason, winner string, now time.Time) bool {
	if s.Status == models.SessionEnded {
		return false
	}
	s.Status = models.SessionEnded
	s.EndedReason = reason
	s.WinnerUserID = winner
	s.EndedAt = now
	return true
}

// Ledger returns a copy of the submission ledger in application order.
func (s *Session) Ledger() []models.Submission {
	out := make([]models.Submission, len(s.ledger))
	copy(out, s.ledger)
	return out
}

func (s *Session) game() models.Game {
	g := models.Game{
		ID:              s.ID,
		RoomID:          s.RoomID,
		Status:          s.Status,
		EndedReason:     s.EndedReason,
		Difficulty:      s.Difficulty,
		DurationSeconds: s.DurationSeconds,
		Challenge:       s.Challenge,
		StartedAt:       s.StartedAt,
	}
	if s.WinnerUserID != "" {
		w := s.WinnerUserID
		g.WinnerUserID = &w
	}
	if !s.EndedAt.IsZero() {
		e := s.EndedAt
		g.EndedAt = &e
	}
	return g
}

func (s *Session) view() *GameView {
	v := &GameView{
		GameID:          s.ID,
		Status:          s.Status,
		EndedReason:     s.EndedReason,
		Difficulty:      s.Difficulty,
		Challenge:       s.Challenge,
		DurationSeconds: s.DurationSeconds,
		TimeLeft:        s.TimeLeft,
		StartedAt:       s.StartedAt,
		Submissions:     len(s.ledger),
	}
	if s.WinnerUserID != "" {
		w := s.WinnerUserID
		v.WinnerUserID = &w
	}
	return v
}

// GameView is a read-only copy of a session for snapshots and room-joined payloads.
type GameView struct {
	GameID          string               `json:"gameId"`
	Status          models.SessionStatus `json:"status"`
	EndedReason     models.EndReason     `json:"endedReason"`
	Difficulty      string               `json:"difficulty"`
	Challenge       models.Challenge     `json:"challenge"`
	DurationSeconds int                  `json:"durationSeconds"`
	TimeLeft        int                  `json:"timeLeft"`
	StartedAt       time.Time            `json:"startedAt"`
	WinnerUserID    *string              `json:"winnerUserId"`
	Submissions     int                  `json:"submissions"`
}
