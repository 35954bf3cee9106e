// Package submissions accepts code for the running round, has it evaluated and
// applies the verdict to the room.
package submissions

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/arena"
	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/response"
	"github.com/codearena/backend/pkg/storage"
)

const (
	evaluateTimeout = 30 * time.Second
	archiveTimeout  = 10 * time.Second
)

// Coordinator is the part of the dispatcher submissions use.
type Coordinator interface {
	Snapshot(ctx context.Context, roomID string) (arena.RoomSnapshot, error)
	SubmitResult(ctx context.Context, req arena.SubmitRequest) (arena.Reply, error)
}

// Evaluator judges code against a challenge. It never fails.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, challenge models.Challenge) models.Evaluation
}

// Archive stores submitted code and signs download URLs.
type Archive interface {
	ArchiveSubmission(ctx context.Context, key, code string) error
	PresignSubmission(ctx context.Context, key string) (string, error)
}

// Ledger reads persisted submissions.
type Ledger interface {
	SubmissionByID(ctx context.Context, submissionID string) (*models.Submission, error)
}

// RoomReader reads persisted rooms.
type RoomReader interface {
	GetByID(ctx context.Context, roomID string) (*models.Room, error)
}

// SubmitRequest is the body for POST /rooms/:id/submissions.
type SubmitRequest struct {
	GameID   string `json:"gameId"`
	Code     string `json:"code" binding:"required"`
	Language string `json:"language"`
}

// Handler handles submission endpoints.
type Handler struct {
	rooms     Coordinator
	evaluator Evaluator
	archive   Archive
	ledger    Ledger
	roomRepo  RoomReader
	logger    *zap.Logger
	clock     func() time.Time
}

// NewHandler creates a submissions handler. archive may be nil to disable archiving.
func NewHandler(rooms Coordinator, evaluator Evaluator, archive Archive, ledger Ledger, roomRepo RoomReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		rooms:     rooms,
		evaluator: evaluator,
		archive:   archive,
		ledger:    ledger,
		roomRepo:  roomRepo,
		logger:    logger,
		clock:     time.Now,
	}
}

// Submit handles POST /rooms/:id/submissions.
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		response.BadRequest(c, "code is required")
		return
	}
	if len(req.Code) > storage.MaxSubmissionSize {
		response.BadRequest(c, "code is too large")
		return
	}
	roomID := c.Param("id")
	userID := middleware.UserID(c)
	submittedAt := h.clock()

	snap, err := h.rooms.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		status, code := arena.ErrorStatus(err)
		response.Fail(c, status, code, "room unavailable")
		return
	}
	if !snap.HasParticipant(userID) {
		response.Fail(c, arena.NotParticipant.HTTPStatus(), string(arena.NotParticipant), "join the room first")
		return
	}
	game := snap.Game
	if game == nil {
		response.Fail(c, arena.NoSession.HTTPStatus(), string(arena.NoSession), "no game in this room")
		return
	}
	if req.GameID == "" {
		req.GameID = game.GameID
	}
	if req.GameID != game.GameID || game.Status != models.SessionRunning {
		response.Fail(c, arena.AlreadyEnded.HTTPStatus(), string(arena.AlreadyEnded), "game already ended")
		return
	}

	evalCtx, cancel := context.WithTimeout(c.Request.Context(), evaluateTimeout)
	eval := h.evaluator.Evaluate(evalCtx, req.Code, game.Challenge)
	cancel()

	submissionID := uuid.NewString()
	codeKey := h.archiveCode(c.Request.Context(), roomID, req.GameID, submissionID, req.Language, req.Code)

	rep, err := h.rooms.SubmitResult(c.Request.Context(), arena.SubmitRequest{
		RoomID:       roomID,
		GameID:       req.GameID,
		UserID:       userID,
		IsCorrect:    eval.IsCorrect,
		Score:        eval.Score,
		SubmittedAt:  submittedAt,
		SubmissionID: submissionID,
		Feedback:     eval.Feedback,
		Language:     req.Language,
		CodeKey:      codeKey,
	})
	if err != nil {
		status, code := arena.ErrorStatus(err)
		h.logger.Warn("submit result failed", zap.String("room_id", roomID), zap.Error(err))
		response.Fail(c, status, code, "submission not applied")
		return
	}
	h.logger.Info("submission evaluated",
		zap.String("room_id", roomID),
		zap.String("game_id", req.GameID),
		zap.String("user_id", userID),
		zap.Bool("correct", eval.IsCorrect),
		zap.Int("score", eval.Score),
		zap.String("outcome", string(rep.Outcome)),
	)
	response.OK(c, gin.H{
		"submissionId": submissionID,
		"gameId":       req.GameID,
		"evaluation":   eval,
		"outcome":      rep.Outcome,
		"winner":       rep.Outcome == arena.Won,
	})
}

// archiveCode stores the code and returns its key, or "" when archiving is
// disabled or failed. A failed upload does not fail the submission.
func (h *Handler) archiveCode(ctx context.Context, roomID, gameID, submissionID, language, code string) string {
	if h.archive == nil {
		return ""
	}
	key := storage.SubmissionKey(roomID, gameID, submissionID, language)
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()
	if err := h.archive.ArchiveSubmission(ctx, key, code); err != nil {
		h.logger.Warn("archive submission failed", zap.String("submission_id", submissionID), zap.Error(err))
		return ""
	}
	return key
}

// Code handles GET /submissions/:id/code: a pre-signed URL for the archived
// source, visible to the submitter and the room creator.
func (h *Handler) Code(c *gin.Context) {
	if h.archive == nil {
		response.NotFound(c, "submission archiving is disabled")
		return
	}
	sub, err := h.ledger.SubmissionByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("get submission failed", zap.Error(err))
		response.Internal(c, "failed to load submission")
		return
	}
	if sub == nil || sub.CodeKey == "" {
		response.NotFound(c, "submission not found")
		return
	}
	userID := middleware.UserID(c)
	if sub.UserID != userID && middleware.UserRole(c) != string(models.RoleAdmin) {
		rm, err := h.roomRepo.GetByID(c.Request.Context(), sub.RoomID)
		if err != nil || rm == nil || rm.CreatedBy != userID {
			response.Forbidden(c, "not allowed to view this submission")
			return
		}
	}
	url, err := h.archive.PresignSubmission(c.Request.Context(), sub.CodeKey)
	if err != nil {
		h.logger.Error("presign submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
		response.Internal(c, "failed to sign url")
		return
	}
	response.OK(c, gin.H{"url": url, "key": sub.CodeKey})
}
