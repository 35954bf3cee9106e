// Package admin exposes operator endpoints for the record pipeline.
package admin

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/pkg/queue"
	"github.com/codearena/backend/pkg/response"
)

// DeadLetters is the queue surface the admin endpoints use.
type DeadLetters interface {
	DeadLetters(ctx context.Context, offset, limit int64) ([]queue.Job, int64, error)
	Replay(ctx context.Context, n int) (int, error)
	Depth(ctx context.Context) (pending, dead int64, err error)
}

// LiveStats reports in-memory coordinator state.
type LiveStats interface {
	LiveRooms() int
}

// ReplayRequest is the body for POST /admin/dead-letters/replay.
type ReplayRequest struct {
	Count int `json:"count"`
}

// Handler handles admin endpoints. Routes are guarded by RequireRole(admin).
type Handler struct {
	jobs   DeadLetters
	live   LiveStats
	logger *zap.Logger
}

// NewHandler creates an admin handler.
func NewHandler(jobs DeadLetters, live LiveStats, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jobs: jobs, live: live, logger: logger}
}

// ListDeadLetters handles GET /admin/dead-letters?offset=&limit=.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	jobs, total, err := h.jobs.DeadLetters(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("list dead letters failed", zap.Error(err))
		response.Internal(c, "failed to list dead letters")
		return
	}
	response.OK(c, gin.H{"jobs": jobs, "total": total})
}

// Replay handles POST /admin/dead-letters/replay. Jobs are requeued oldest first.
func (h *Handler) Replay(c *gin.Context) {
	var req ReplayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.Count <= 0 {
		req.Count = 100
	}
	moved, err := h.jobs.Replay(c.Request.Context(), req.Count)
	if err != nil {
		h.logger.Error("replay dead letters failed", zap.Int("moved", moved), zap.Error(err))
		response.Internal(c, "replay failed")
		return
	}
	h.logger.Info("dead letters replayed by admin", zap.String("user_id", middleware.UserID(c)), zap.Int("jobs", moved))
	response.OK(c, gin.H{"replayed": moved})
}

// Stats handles GET /admin/stats.
func (h *Handler) Stats(c *gin.Context) {
	pending, dead, err := h.jobs.Depth(c.Request.Context())
	if err != nil {
		h.logger.Warn("queue depth failed", zap.Error(err))
	}
	out := gin.H{"pendingRecords": pending, "deadLetters": dead}
	if h.live != nil {
		out["liveRooms"] = h.live.LiveRooms()
	}
	response.OK(c, out)
}
