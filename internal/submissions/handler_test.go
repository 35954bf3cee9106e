package submissions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/arena"
	"github.com/codearena/backend/internal/middleware"
	"github.com/codearena/backend/internal/models"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, string, any) {}
func (nopBroadcaster) Send(string, string, any) {}
func (nopBroadcaster) Subscribe(string, string) bool { return true }
func (nopBroadcaster) Unsubscribe(string, string) {}
func (nopBroadcaster) DropRoom(string) {}

type staticChallenges struct{}

func (staticChallenges) Generate(context.Context, string) models.Challenge {
	return models.Challenge{Title: "Two Sum Problem"}
}

// keywordEvaluator accepts code containing "solve".
type keywordEvaluator struct{}

func (keywordEvaluator) Evaluate(_ context.Context, code string, ch models.Challenge) models.Evaluation {
	if strings.Contains(code, "solve") {
		return models.Evaluation{IsCorrect: true, Score: 90, Feedback: "ok: " + ch.Title}
	}
	return models.Evaluation{IsCorrect: false, Score: 10, Feedback: "wrong"}
}

type memArchive struct {
	mu   sync.Mutex
	keys []string
}

func (m *memArchive) ArchiveSubmission(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func (m *memArchive) PresignSubmission(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

type memLedger map[string]*models.Submission

func (m memLedger) SubmissionByID(_ context.Context, id string) (*models.Submission, error) {
	return m[id], nil
}

type memRooms map[string]*models.Room

func (m memRooms) GetByID(_ context.Context, id string) (*models.Room, error) {
	return m[id], nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func newEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-Test-User"))
		c.Set(middleware.ContextUserRole, "player")
	})
	r.POST("/rooms/:id/submissions", h.Submit)
	r.GET("/submissions/:id/code", h.Code)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestSubmit(t *testing.T) {
	d := arena.NewDispatcher(nil, nopBroadcaster{}, staticChallenges{}, nil, arena.Options{TickInterval: time.Hour}, zap.NewNop())
	t.Cleanup(d.Close)
	ctx := context.Background()
	for _, u := range []string{"alice", "bob"} {
		_, err := d.Join(ctx, "room-1", u, "")
		require.NoError(t, err)
	}
	_, err := d.Join(ctx, "room-idle", "alice", "")
	require.NoError(t, err)
	started, err := d.StartGame(ctx, arena.StartRequest{RoomID: "room-1", UserID: "alice", DurationSeconds: 60})
	require.NoError(t, err)
	require.Equal(t, arena.Accepted, started.Outcome)

	archive := &memArchive{}
	r := newEngine(NewHandler(d, keywordEvaluator{}, archive, memLedger{}, memRooms{}, nil))

	t.Run("incorrect submission is recorded", func(t *testing.T) {
		status, env := do(t, r, http.MethodPost, "/rooms/room-1/submissions", "bob", SubmitRequest{Code: "return 0", Language: "python"})
		require.Equal(t, http.StatusOK, status)
		var data struct {
			Outcome    string            `json:"outcome"`
			Winner     bool              `json:"winner"`
			GameID     string            `json:"gameId"`
			Evaluation models.Evaluation `json:"evaluation"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, string(arena.Recorded), data.Outcome)
		assert.False(t, data.Winner)
		assert.Equal(t, started.GameID, data.GameID)
		assert.Equal(t, 10, data.Evaluation.Score)
		require.Len(t, archive.keys, 1)
		assert.True(t, strings.HasPrefix(archive.keys[0], "submissions/room-1/"+started.GameID+"/"))
		assert.True(t, strings.HasSuffix(archive.keys[0], ".py"))
	})

	t.Run("outsider is refused", func(t *testing.T) {
		status, env := do(t, r, http.MethodPost, "/rooms/room-1/submissions", "carol", SubmitRequest{Code: "solve()"})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, string(arena.NotParticipant), env.Code)
	})

	t.Run("room without a game", func(t *testing.T) {
		status, env := do(t, r, http.MethodPost, "/rooms/room-idle/submissions", "alice", SubmitRequest{Code: "solve()"})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, string(arena.NoSession), env.Code)
	})

	t.Run("correct submission wins", func(t *testing.T) {
		status, env := do(t, r, http.MethodPost, "/rooms/room-1/submissions", "alice", SubmitRequest{GameID: started.GameID, Code: "solve()"})
		require.Equal(t, http.StatusOK, status)
		var data struct {
			Outcome string `json:"outcome"`
			Winner  bool   `json:"winner"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, string(arena.Won), data.Outcome)
		assert.True(t, data.Winner)

		snap, err := d.Snapshot(ctx, "room-1")
		require.NoError(t, err)
		require.NotNil(t, snap.Game.WinnerUserID)
		assert.Equal(t, "alice", *snap.Game.WinnerUserID)
	})

	t.Run("submission after the end is refused", func(t *testing.T) {
		status, env := do(t, r, http.MethodPost, "/rooms/room-1/submissions", "bob", SubmitRequest{Code: "solve()"})
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, string(arena.AlreadyEnded), env.Code)
	})

	t.Run("empty code", func(t *testing.T) {
		status, _ := do(t, r, http.MethodPost, "/rooms/room-1/submissions", "bob", SubmitRequest{Code: "   "})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestCode(t *testing.T) {
	ledger := memLedger{
		"sub-1": {ID: "sub-1", RoomID: "room-1", UserID: "bob", CodeKey: "submissions/room-1/g/sub-1.py"},
		"sub-2": {ID: "sub-2", RoomID: "room-1", UserID: "bob"},
	}
	rooms := memRooms{"room-1": {ID: "room-1", CreatedBy: "alice"}}
	r := newEngine(NewHandler(nil, keywordEvaluator{}, &memArchive{}, ledger, rooms, nil))

	tests := []struct {
		name   string
		id     string
		user   string
		status int
	}{
		{"submitter", "sub-1", "bob", http.StatusOK},
		{"room creator", "sub-1", "alice", http.StatusOK},
		{"other player", "sub-1", "carol", http.StatusForbidden},
		{"not archived", "sub-2", "bob", http.StatusNotFound},
		{"unknown", "sub-9", "bob", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, r, http.MethodGet, "/submissions/"+tt.id+"/code", tt.user, nil)
			assert.Equal(t, tt.status, status)
			if tt.status == http.StatusOK {
				assert.Contains(t, string(env.Data), "https://signed.example/submissions/room-1/g/sub-1.py")
			}
		})
	}

	t.Run("archiving disabled", func(t *testing.T) {
		r := newEngine(NewHandler(nil, keywordEvaluator{}, nil, ledger, rooms, nil))
		status, _ := do(t, r, http.MethodGet, "/submissions/sub-1/code", "bob", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}
