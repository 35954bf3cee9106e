package rooms

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/arena"
	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/response"
	"github.com/codearena/backend/pkg/utils"
)

const (
	maxCapacity  = 50
	maxListLimit = 100
)

// Coordinator is the part of the dispatcher the room endpoints use.
type Coordinator interface {
	Join(ctx context.Context, roomID, userID, connID string) (arena.Reply, error)
	Leave(ctx context.Context, roomID, userID, connID string) (arena.Reply, error)
	DeleteRoom(ctx context.Context, roomID, userID string) (arena.Reply, error)
	Snapshot(ctx context.Context, roomID string) (arena.RoomSnapshot, error)
}

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Name        string `json:"name" binding:"required,max=120"`
	Description string `json:"description"`
	MaxPlayers  int    `json:"maxPlayers"`
	IsPrivate   bool   `json:"isPrivate"`
	Password    string `json:"password"`
}

// JoinRequest is the body for POST /rooms/:id/join.
type JoinRequest struct {
	Password string `json:"password"`
}

// JoinByCodeRequest is the body for POST /rooms/join-by-code.
type JoinByCodeRequest struct {
	Code     string `json:"code" binding:"required,len=6"`
	Password string `json:"password"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	repo            *Repository
	rooms           Coordinator
	defaultCapacity int
	logger          *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(repo *Repository, rooms Coordinator, defaultCapacity int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, rooms: rooms, defaultCapacity: defaultCapacity, logger: logger}
}

// Create handles POST /rooms. The creator takes the first seat.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = h.defaultCapacity
	}
	if req.MaxPlayers < 1 || req.MaxPlayers > maxCapacity {
		response.BadRequest(c, "maxPlayers must be between 1 and "+strconv.Itoa(maxCapacity))
		return
	}
	userID := middleware.UserID(c)
	rm := &models.Room{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		MaxPlayers:  req.MaxPlayers,
		CreatedBy:   userID,
	}
	if req.Password != "" {
		hash, err := utils.HashPassword(req.Password)
		if err != nil {
			response.Internal(c, "failed to hash password")
			return
		}
		rm.PasswordHash = hash
	}
	if err := h.repo.Create(c.Request.Context(), rm); err != nil {
		h.logger.Error("create room failed", zap.String("user_id", userID), zap.Error(err))
		response.Internal(c, "failed to create room")
		return
	}
	h.logger.Info("room created", zap.String("room_id", rm.ID), zap.String("join_code", rm.JoinCode), zap.String("user_id", userID))

	if _, err := h.rooms.Join(c.Request.Context(), rm.ID, userID, ""); err != nil {
		h.logger.Warn("creator seat failed", zap.String("room_id", rm.ID), zap.Error(err))
	}
	response.Created(c, rm)
}

// List handles GET /rooms?status=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > maxListLimit {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	status := models.RoomStatus(c.Query("status"))
	switch status {
	case "", models.RoomWaiting, models.RoomActive, models.RoomFinished:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	list, err := h.repo.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("list rooms failed", zap.Error(err))
		response.Internal(c, "failed to list rooms")
		return
	}
	if list == nil {
		list = []models.Room{}
	}
	response.OK(c, list)
}

// Get handles GET /rooms/:id: the persisted room plus its live state.
func (h *Handler) Get(c *gin.Context) {
	rm, ok := h.room(c)
	if !ok {
		return
	}
	snap, err := h.rooms.Snapshot(c.Request.Context(), rm.ID)
	if err != nil {
		h.dispatchError(c, rm.ID, err)
		return
	}
	response.OK(c, gin.H{"room": rm, "live": snap})
}

// Status handles GET /rooms/:id/status.
func (h *Handler) Status(c *gin.Context) {
	snap, err := h.rooms.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.dispatchError(c, c.Param("id"), err)
		return
	}
	out := gin.H{
		"roomId":      snap.RoomID,
		"status":      snap.Status,
		"playerCount": len(snap.Participants),
		"capacity":    snap.Capacity,
		"activeGame":  nil,
	}
	if snap.Game != nil && snap.Game.Status == models.SessionRunning {
		out["activeGame"] = snap.Game
	}
	response.OK(c, out)
}

// Join handles POST /rooms/:id/join.
func (h *Handler) Join(c *gin.Context) {
	rm, ok := h.room(c)
	if !ok {
		return
	}
	var req JoinRequest
	_ = c.ShouldBindJSON(&req)
	if !passwordMatches(rm, req.Password) {
		response.Forbidden(c, "invalid room password")
		return
	}
	h.join(c, rm.ID)
}

// JoinByCode handles POST /rooms/join-by-code.
func (h *Handler) JoinByCode(c *gin.Context) {
	var req JoinByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rm, err := h.repo.GetByJoinCode(c.Request.Context(), strings.ToUpper(req.Code))
	if err != nil {
		h.logger.Error("lookup join code failed", zap.Error(err))
		response.Internal(c, "failed to look up room")
		return
	}
	if rm == nil {
		response.NotFound(c, "room not found")
		return
	}
	if !passwordMatches(rm, req.Password) {
		response.Forbidden(c, "invalid room password")
		return
	}
	h.join(c, rm.ID)
}

func (h *Handler) join(c *gin.Context, roomID string) {
	rep, err := h.rooms.Join(c.Request.Context(), roomID, middleware.UserID(c), "")
	if err != nil {
		h.dispatchError(c, roomID, err)
		return
	}
	if rep.Outcome != arena.Joined && rep.Outcome != arena.AlreadyJoined {
		response.Fail(c, rep.Outcome.HTTPStatus(), string(rep.Outcome), "cannot join room")
		return
	}
	response.OK(c, gin.H{"roomId": roomID, "outcome": rep.Outcome, "room": rep.Snapshot})
}

// Leave handles POST /rooms/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	roomID := c.Param("id")
	rep, err := h.rooms.Leave(c.Request.Context(), roomID, middleware.UserID(c), "")
	if err != nil {
		h.dispatchError(c, roomID, err)
		return
	}
	if rep.Outcome.Rejected() {
		response.Fail(c, rep.Outcome.HTTPStatus(), string(rep.Outcome), "not in room")
		return
	}
	response.OK(c, gin.H{"roomId": roomID, "outcome": rep.Outcome})
}

// Delete handles DELETE /rooms/:id (creator only).
func (h *Handler) Delete(c *gin.Context) {
	roomID := c.Param("id")
	rep, err := h.rooms.DeleteRoom(c.Request.Context(), roomID, middleware.UserID(c))
	if err != nil {
		h.dispatchError(c, roomID, err)
		return
	}
	if rep.Outcome == arena.Forbidden {
		response.Forbidden(c, "only the room creator can delete the room")
		return
	}
	if _, err := h.repo.Delete(c.Request.Context(), roomID); err != nil {
		// The record worker deletes it again from the room_deleted job.
		h.logger.Warn("delete room row failed", zap.String("room_id", roomID), zap.Error(err))
	}
	h.logger.Info("room deleted", zap.String("room_id", roomID), zap.String("user_id", middleware.UserID(c)))
	response.NoContent(c)
}

func (h *Handler) room(c *gin.Context) (*models.Room, bool) {
	rm, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("get room failed", zap.String("room_id", c.Param("id")), zap.Error(err))
		response.Internal(c, "failed to load room")
		return nil, false
	}
	if rm == nil {
		response.NotFound(c, "room not found")
		return nil, false
	}
	return rm, true
}

func (h *Handler) dispatchError(c *gin.Context, roomID string, err error) {
	status, code := arena.ErrorStatus(err)
	if status == http.StatusServiceUnavailable {
		h.logger.Warn("room dispatch failed", zap.String("room_id", roomID), zap.Error(err))
	}
	msg := strings.ReplaceAll(code, "_", " ")
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "room is busy, try again"
	}
	response.Fail(c, status, code, msg)
}

func passwordMatches(rm *models.Room, password string) bool {
	if rm.PasswordHash == "" {
		return true
	}
	return utils.CheckPassword(password, rm.PasswordHash)
}
