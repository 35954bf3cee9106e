package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codearena/backend/pkg/response"
)

// Context keys set by the JWT middleware. Mirrored here to avoid an import cycle.
const (
	contextUserID   = "user_id"
	contextUserRole = "user_role"
	contextUserName = "user_name"
)

// TokenResponse is the body returned by POST /auth/refresh.
type TokenResponse struct {
	Token string   `json:"token"`
	User  Identity `json:"user"`
}

// Identity is the caller as seen by the arena.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
}

// Handler handles auth HTTP endpoints. Users live in the identity provider;
// the arena only reads and re-signs their claims.
type Handler struct {
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{jwt: jwt, logger: logger}
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	response.OK(c, identity(c))
}

// Refresh handles POST /auth/refresh: a fresh token for the same identity,
// so long sessions keep their WebSocket credentials valid.
func (h *Handler) Refresh(c *gin.Context) {
	id := identity(c)
	token, err := h.jwt.Generate(id.UserID, id.Name, id.Role)
	if err != nil {
		h.logger.Error("sign token failed", zap.String("user_id", id.UserID), zap.Error(err))
		response.Internal(c, "failed to sign token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: id})
}

func identity(c *gin.Context) Identity {
	return Identity{
		UserID: c.GetString(contextUserID),
		Name:   c.GetString(contextUserName),
		Role:   c.GetString(contextUserRole),
	}
}
