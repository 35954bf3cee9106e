package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	spectatorBuffer    = 64
	spectatorHeartbeat = 20 * time.Second
)

// RoomSubscriber streams a room's mirrored events.
type RoomSubscriber interface {
	SubscribeRoom(ctx context.Context, roomID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// ServeEvents handles GET /rooms/:id/events, a read-only SSE feed of the
// room's events as mirrored through Redis. Slow spectators lose events.
func ServeEvents(sub RoomSubscriber, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("id")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room id required"})
			return
		}
		if sub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed unavailable"})
			return
		}

		events := make(chan WSMessage, spectatorBuffer)
		cancel, err := sub.SubscribeRoom(c.Request.Context(), roomID, func(event string, payload []byte) {
			select {
			case events <- WSMessage{Event: event, Data: json.RawMessage(payload)}:
			default:
			}
		})
		if err != nil {
			logger.Warn("spectator subscribe failed", zap.String("room_id", roomID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed unavailable"})
			return
		}
		defer cancel()

		// The server write timeout would otherwise end the stream.
		if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
			logger.Debug("spectator stream keeps server write deadline", zap.Error(err))
		}
		heartbeat := time.NewTicker(spectatorHeartbeat)
		defer heartbeat.Stop()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-heartbeat.C:
				c.SSEvent("ping", time.Now().UnixMilli())
				return true
			case msg := <-events:
				c.SSEvent(msg.Event, msg.Data)
				return true
			}
		})
	}
}
