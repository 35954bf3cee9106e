package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	mirrorBuffer  = 1024
	mirrorTimeout = 2 * time.Second
)

// RoomPublisher mirrors room events to other instances (spectator feeds).
type RoomPublisher interface {
	PublishRoomEvent(ctx context.Context, roomID, event string, payload []byte) error
}

type mirrored struct {
	roomID string
	event  string
	data   []byte
}

// Hub delivers room events to the connections in the registry. It satisfies
// arena.Broadcaster: every method is non-blocking.
type Hub struct {
	registry *Registry
	mirror   RoomPublisher
	mirrorCh chan mirrored
	logger   *zap.Logger
}

// NewHub creates a hub. mirror may be nil; then events stay local.
func NewHub(registry *Registry, mirror RoomPublisher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		registry: registry,
		mirror:   mirror,
		logger:   logger,
	}
	if mirror != nil {
		h.mirrorCh = make(chan mirrored, mirrorBuffer)
	}
	return h
}

// Registry returns the connection registry the hub delivers through.
func (h *Hub) Registry() *Registry { return h.registry }

// Publish sends event to every connection subscribed to roomID at call time
// and queues it for the Redis mirror. Callers publish a room's events from
// one goroutine, so each subscriber sees them in publish order.
func (h *Hub) Publish(roomID, event string, payload any) {
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	for _, c := range h.registry.Subscribers(roomID) {
		if !c.deliver(msg) {
			h.logger.Warn("client buffer full, dropping event",
				zap.String("room_id", roomID),
				zap.String("client_id", c.ID),
				zap.String("event", event),
			)
		}
	}
	if h.mirrorCh == nil {
		return
	}
	select {
	case h.mirrorCh <- mirrored{roomID: roomID, event: event, data: data}:
	default:
		h.logger.Warn("mirror buffer full, dropping event", zap.String("room_id", roomID), zap.String("event", event))
	}
}

// Send delivers event to a single connection.
func (h *Hub) Send(connID, event string, payload any) {
	c, ok := h.registry.Client(connID)
	if !ok {
		return
	}
	data, ok := h.encode(event, payload)
	if !ok {
		return
	}
	if !c.deliver(WSMessage{Event: event, Data: data}) {
		h.logger.Warn("client buffer full, dropping event", zap.String("client_id", connID), zap.String("event", event))
	}
}

// Subscribe moves connID into roomID's audience. It returns false when the
// connection has already gone away.
func (h *Hub) Subscribe(connID, roomID string) bool {
	prev, res := h.registry.Subscribe(connID, roomID)
	switch res {
	case UnknownConnection:
		h.logger.Debug("subscribe for closed connection", zap.String("client_id", connID), zap.String("room_id", roomID))
		return false
	case AlreadySubscribed:
		h.logger.Debug("connection already subscribed", zap.String("client_id", connID), zap.String("room_id", roomID))
	case Subscribed:
		if prev != "" {
			h.logger.Debug("connection switched rooms", zap.String("client_id", connID), zap.String("from", prev), zap.String("to", roomID))
		}
	}
	return true
}

// Unsubscribe removes connID from roomID's audience if it is still there.
func (h *Hub) Unsubscribe(connID, roomID string) {
	h.registry.Unsubscribe(connID, roomID)
}

// DropRoom removes every subscription to roomID.
func (h *Hub) DropRoom(roomID string) {
	ids := h.registry.DropRoom(roomID)
	h.logger.Debug("room subscriptions dropped", zap.String("room_id", roomID), zap.Int("connections", len(ids)))
}

// Run forwards mirrored events to Redis in publish order until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.mirrorCh == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.mirrorCh:
			pubCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			if err := h.mirror.PublishRoomEvent(pubCtx, m.roomID, m.event, m.data); err != nil {
				h.logger.Warn("mirror publish failed", zap.String("room_id", m.roomID), zap.String("event", m.event), zap.Error(err))
			}
			cancel()
		}
	}
}

func (h *Hub) encode(event string, payload any) (json.RawMessage, bool) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, true
	case []byte:
		return v, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("event encode failed", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}
