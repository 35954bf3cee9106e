package leaderboard

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/pkg/response"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Handler serves leaderboard endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a leaderboard handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Top handles GET /leaderboard?limit=.
func (h *Handler) Top(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	entries, err := h.svc.Top(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard read failed", zap.Error(err))
		response.Internal(c, "failed to load leaderboard")
		return
	}
	response.OK(c, entries)
}

// Me handles GET /leaderboard/me.
func (h *Handler) Me(c *gin.Context) {
	userID := middleware.UserID(c)
	stats, err := h.svc.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("user stats read failed", zap.String("user_id", userID), zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	rank, err := h.svc.Rank(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("leaderboard rank read failed", zap.String("user_id", userID), zap.Error(err))
	}
	response.OK(c, gin.H{"stats": stats, "rank": rank})
}
