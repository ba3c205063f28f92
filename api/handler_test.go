package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"downly/config"
	"downly/task"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPipeline completes every job immediately.
type mockPipeline struct {
	store *task.Store

	mu   sync.Mutex
	jobs []task.Job
}

func (m *mockPipeline) Run(ctx context.Context, job task.Job) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	m.store.Put(job.ID, task.Status{
		State:       task.StateCompleted,
		Progress:    100,
		Message:     "Ready for download",
		DownloadURL: "/downloads/" + job.ID + "." + job.Format,
	})
}

func (m *mockPipeline) lastJob() (task.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return task.Job{}, false
	}
	return m.jobs[len(m.jobs)-1], true
}

func setupTestRouter() (*gin.Engine, *task.Store, *mockPipeline) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxWorkers:   2,
		ProcessedDir: "./processed",
		AllowOrigin:  "http://localhost:3000",
	}
	store := task.NewStore()
	p := &mockPipeline{store: store}
	mgr := task.NewManager(cfg, store, p)
	mgr.Start(context.Background())
	return SetupRouter(mgr, cfg), store, p
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleProcessVideo(t *testing.T) {
	router, store, _ := setupTestRouter()

	w := postJSON(router, "/video/process",
		`{"url": "https://example.com/watch?v=x", "format": "mp4", "quality": "high"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])
	assert.Equal(t, "pending", resp["status"])

	_, found := store.Get(resp["task_id"])
	assert.True(t, found)
}

func TestHandleProcessVideo_Validation(t *testing.T) {
	router, _, _ := setupTestRouter()

	t.Run("missing url", func(t *testing.T) {
		w := postJSON(router, "/video/process", `{"format": "mp4", "quality": "high"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed url", func(t *testing.T) {
		w := postJSON(router, "/video/process", `{"url": "not a url", "format": "mp4", "quality": "high"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing format", func(t *testing.T) {
		w := postJSON(router, "/video/process", `{"url": "https://example.com/v", "quality": "high"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleProcessAudio_FormatCoercion(t *testing.T) {
	router, _, p := setupTestRouter()

	w := postJSON(router, "/audio/process",
		`{"url": "https://example.com/a", "format": "flac", "quality": "best"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		_, ok := p.lastJob()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	job, _ := p.lastJob()
	assert.Equal(t, task.KindAudio, job.Kind)
	assert.Equal(t, "mp3", job.Format, "unsupported audio formats coerce to mp3")
}

func TestHandleGetTaskStatus(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := postJSON(router, "/video/process",
		`{"url": "https://example.com/v", "format": "mp4", "quality": "medium"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	taskID := created["task_id"]

	// The mock pipeline completes jobs immediately; poll until terminal.
	var st task.Status
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/task/"+taskID, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		return st.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, task.StateCompleted, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, "/downloads/"+taskID+".mp4", st.DownloadURL)
	assert.Empty(t, st.Error)

	t.Run("unknown id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/task/nonexistent", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORSMiddleware(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/video/process", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
