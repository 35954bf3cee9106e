package games

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/arena"
	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/pkg/response"
)

// startTimeout covers challenge generation, which may call the model API.
const startTimeout = 30 * time.Second

// Coordinator is the part of the dispatcher the game endpoints use.
type Coordinator interface {
	StartGame(ctx context.Context, req arena.StartRequest) (arena.Reply, error)
	EndGame(ctx context.Context, roomID, gameID, userID string) (arena.Reply, error)
}

// StartRequest is the body for POST /rooms/:id/games.
type StartRequest struct {
	DurationSeconds int    `json:"durationSeconds"`
	Difficulty      string `json:"difficulty"`
}

// Handler handles game HTTP endpoints.
type Handler struct {
	repo   *Repository
	rooms  Coordinator
	logger *zap.Logger
}

// NewHandler creates a games handler.
func NewHandler(repo *Repository, rooms Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, rooms: rooms, logger: logger}
}

// Start handles POST /rooms/:id/games (creator only).
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.DurationSeconds < 0 {
		response.BadRequest(c, "durationSeconds must not be negative")
		return
	}
	roomID := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), startTimeout)
	defer cancel()

	rep, err := h.rooms.StartGame(ctx, arena.StartRequest{
		RoomID:          roomID,
		UserID:          middleware.UserID(c),
		DurationSeconds: req.DurationSeconds,
		Difficulty:      req.Difficulty,
	})
	if err != nil {
		status, code := arena.ErrorStatus(err)
		h.logger.Warn("start game failed", zap.String("room_id", roomID), zap.Error(err))
		response.Fail(c, status, code, "could not start game")
		return
	}
	if rep.Outcome != arena.Accepted {
		response.Fail(c, rep.Outcome.HTTPStatus(), string(rep.Outcome), "game not started")
		return
	}
	response.Created(c, gin.H{"gameId": rep.GameID, "room": rep.Snapshot})
}

// End handles POST /rooms/:id/games/:gameId/end (creator only).
func (h *Handler) End(c *gin.Context) {
	roomID := c.Param("id")
	rep, err := h.rooms.EndGame(c.Request.Context(), roomID, c.Param("gameId"), middleware.UserID(c))
	if err != nil {
		status, code := arena.ErrorStatus(err)
		response.Fail(c, status, code, "could not end game")
		return
	}
	if rep.Outcome != arena.Ended {
		response.Fail(c, rep.Outcome.HTTPStatus(), string(rep.Outcome), "game not ended")
		return
	}
	response.OK(c, gin.H{"gameId": rep.GameID, "room": rep.Snapshot})
}

// Get handles GET /games/:id: the game row with its submission ledger.
func (h *Handler) Get(c *gin.Context) {
	detail, err := h.repo.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("get game failed", zap.String("game_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to load game")
		return
	}
	if detail == nil {
		response.NotFound(c, "game not found")
		return
	}
	response.OK(c, detail)
}
