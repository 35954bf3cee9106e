package realtime

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/testutil"
)

type sseFrame struct {
	event string
	data  string
}

// readFrames reads n non-heartbeat frames from an SSE body.
func readFrames(t *testing.T, r *bufio.Reader, n int) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	for len(frames) < n {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			cur.data = strings.TrimPrefix(line, "data:")
		case line == "" && cur.event != "":
			if cur.event != "ping" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	return frames
}

func newEventsServer(sub RoomSubscriber) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/rooms/:id/events", ServeEvents(sub, zap.NewNop()))
	return httptest.NewServer(r)
}

func TestServeEventsStreamsMirroredEventsInOrder(t *testing.T) {
	rdb := testutil.Redis(t)
	pubsub := NewRedisPubSub(rdb, zap.NewNop())
	srv := newEventsServer(pubsub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/rooms/room-1/events", nil)
		resp, err := http.DefaultClient.Do(req)
		done <- result{resp, err}
	}()

	// Headers are flushed with the first frame, so wait for the subscription instead.
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, roomChannel("room-1")).Result()
		return err == nil && n[roomChannel("room-1")] == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, pubsub.PublishRoomEvent(ctx, "room-2", "game-started", []byte(`{"gameId":"other"}`)))
	require.NoError(t, pubsub.PublishRoomEvent(ctx, "room-1", "game-started", []byte(`{"gameId":"g1"}`)))
	require.NoError(t, pubsub.PublishRoomEvent(ctx, "room-1", "game-timer", []byte(`{"gameId":"g1","timeLeft":59}`)))
	require.NoError(t, pubsub.PublishRoomEvent(ctx, "room-1", "game-ended", []byte(`{"gameId":"g1","reason":"manual"}`)))

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		t.Fatal("no response from event stream")
	}
	require.NoError(t, res.err)
	defer res.resp.Body.Close()
	assert.Equal(t, http.StatusOK, res.resp.StatusCode)
	assert.Contains(t, res.resp.Header.Get("Content-Type"), "text/event-stream")

	frames := readFrames(t, bufio.NewReader(res.resp.Body), 3)
	assert.Equal(t, []sseFrame{
		{event: "game-started", data: `{"gameId":"g1"}`},
		{event: "game-timer", data: `{"gameId":"g1","timeLeft":59}`},
		{event: "game-ended", data: `{"gameId":"g1","reason":"manual"}`},
	}, frames)
}

type failingSubscriber struct{}

func (failingSubscriber) SubscribeRoom(context.Context, string, func(string, []byte)) (func(), error) {
	return nil, errors.New("redis down")
}

func TestServeEventsUnavailable(t *testing.T) {
	for name, sub := range map[string]RoomSubscriber{"no subscriber": nil, "subscribe fails": failingSubscriber{}} {
		t.Run(name, func(t *testing.T) {
			srv := newEventsServer(sub)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/rooms/room-1/events")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}
}
