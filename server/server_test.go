package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamscribe/pipeline"
	"streamscribe/task"
)

// stubRunner stands in for the pipeline orchestrator: it registers the
// task, runs the injected body, and cleans up like the real one.
type stubRunner struct {
	manager *task.Manager
	body    func(req pipeline.Request, q *task.Queue, flag *task.CancelFlag)
}

func (r *stubRunner) Run(_ context.Context, req pipeline.Request) {
	q, flag := r.manager.Register(req.TaskID)
	if r.body != nil {
		r.body(req, q, flag)
	}
	r.manager.Cleanup(req.TaskID)
}

func newTestService(t *testing.T, body func(req pipeline.Request, q *task.Queue, flag *task.CancelFlag)) (*Service, *task.Manager) {
	t.Helper()
	manager := task.NewManager()
	runner := &stubRunner{manager: manager, body: body}
	svc := New(Config{WorkDir: t.TempDir()}, manager, runner)
	return svc, manager
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "input.mp4")
	require.NoError(t, err)
	_, err = part.Write([]byte("not really a video"))
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService(t, nil)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTranscribeStreamsRecordsAsNDJSON(t *testing.T) {
	svc, _ := newTestService(t, func(_ pipeline.Request, q *task.Queue, flag *task.CancelFlag) {
		for i := 0; i < 3; i++ {
			q.Put(task.RecordMessage(task.Record{Index: i, Start: float64(i), End: float64(i + 1), Text: "t"}), flag)
		}
	})

	body, contentType := multipartBody(t, map[string]string{"translate": "false"})
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get("task_id"))
	assert.NoError(t, err, "task_id header should be a UUID")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &payload))
		assert.Equal(t, float64(i), payload["segment_index"])
		assert.NotContains(t, payload, "status")
	}
}

func TestTranscribeStoresUpload(t *testing.T) {
	got := make(chan pipeline.Request, 1)
	svc, _ := newTestService(t, func(req pipeline.Request, _ *task.Queue, _ *task.CancelFlag) {
		got <- req
	})

	body, contentType := multipartBody(t, map[string]string{"translate": "true", "model": "base"})
	req := httptest.NewRequest("POST", "/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	svc.Router().ServeHTTP(httptest.NewRecorder(), req)

	select {
	case r := <-got:
		assert.True(t, r.Translate)
		assert.Equal(t, "base", r.Model)
		assert.FileExists(t, r.VideoPath)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never started")
	}
}

func TestTranscribeRejectsMissingFile(t *testing.T) {
	svc, _ := newTestService(t, nil)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("translate", "false"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/transcribe", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Client cancels after the first record: it sees that record, one
// cancelled status line, and then the stream closes.
func TestCancelMidStreamEmitsStatusLine(t *testing.T) {
	svc, _ := newTestService(t, func(_ pipeline.Request, q *task.Queue, flag *task.CancelFlag) {
		q.Put(task.RecordMessage(task.Record{Index: 0, Text: "first"}), flag)
		deadline := time.Now().Add(5 * time.Second)
		for !flag.IsSet() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		// Leave the registry entry in place long enough for the stream
		// boundary to observe the cancellation flag.
		time.Sleep(500 * time.Millisecond)
	})
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body, contentType := multipartBody(t, nil)
	resp, err := http.Post(srv.URL+"/transcribe", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	taskID := resp.Header.Get("task_id")
	require.NotEmpty(t, taskID)

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan(), "expected first record")
	var first map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &first))
	assert.Equal(t, float64(0), first["segment_index"])

	cancelResp, err := http.Post(srv.URL+"/cancel/"+taskID, "application/json", nil)
	require.NoError(t, err)
	cancelResp.Body.Close()
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)

	require.True(t, scanner.Scan(), "expected terminal status line")
	var status task.Status
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &status))
	assert.Equal(t, task.StatusCancelled, status.Status)

	assert.False(t, scanner.Scan(), "stream should close after the status line")
}

func TestCancelUnknownTaskReturns404(t *testing.T) {
	svc, _ := newTestService(t, nil)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/cancel/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupIsIdempotent(t *testing.T) {
	svc, manager := newTestService(t, nil)
	manager.Register("task-1")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/cleanup/task-1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	_, _, found := manager.Lookup("task-1")
	assert.False(t, found)
}

func TestTasksListing(t *testing.T) {
	svc, manager := newTestService(t, nil)
	manager.Register("task-a")

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var infos []task.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "task-a", infos[0].ID)
}

func TestAuthTokenGuardsAPIRoutes(t *testing.T) {
	manager := task.NewManager()
	svc := New(Config{WorkDir: t.TempDir(), Token: "secret"}, manager, &stubRunner{manager: manager})

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Liveness stays open.
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketDeliversRecordsThenCloses(t *testing.T) {
	svc, manager := newTestService(t, nil)
	taskID := uuid.New().String()
	queue, _ := manager.Register(taskID)
	queue.TryPut(task.RecordMessage(task.Record{Index: 0, Text: "a"}))
	queue.TryPut(task.RecordMessage(task.Record{Index: 1, Text: "b"}))
	queue.TryPut(task.EndMessage())

	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + taskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		var rec task.Record
		require.NoError(t, conn.ReadJSON(&rec))
		assert.Equal(t, i, rec.Index)
	}

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure),
		"expected normal close, got %v", err)
}

func TestWebSocketUnknownTaskRejected(t *testing.T) {
	svc, _ := newTestService(t, nil)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/ws/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
