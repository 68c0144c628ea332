// Package server exposes the transcription pipeline over HTTP: a multipart
// upload endpoint that streams newline-delimited JSON results, cancellation
// and cleanup endpoints, a task listing, and a websocket delivery surface
// for tasks submitted outside a request.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"streamscribe/pipeline"
	"streamscribe/segment"
	"streamscribe/task"
)

const maxUploadMemory = 32 << 20

// Runner starts one task's pipeline. Satisfied by pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request)
}

// Config for the HTTP service.
type Config struct {
	// HTTP server address
	HTTPAddr string

	// WorkDir holds per-task scratch directories
	WorkDir string

	// Certificate files for TLS; plain HTTP when unset
	CertFile string
	KeyFile  string

	// Token enables bearer-token auth on the API routes when non-empty
	Token string

	// DefaultModel is used when an upload names none
	DefaultModel string
}

// Service is the HTTP-facing boundary of the pipeline.
type Service struct {
	config   Config
	tasks    *task.Manager
	runner   Runner
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates the service.
func New(cfg Config, tasks *task.Manager, runner Runner) *Service {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "streamscribe")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "small"
	}

	return &Service{
		config: cfg,
		tasks:  tasks,
		runner: runner,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // TODO: Implement proper origin checking
			},
		},
	}
}

// Router builds the HTTP routes. Exposed for tests.
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/transcribe", s.auth(s.handleTranscribe)).Methods("POST")
	router.HandleFunc("/cancel/{task_id}", s.auth(s.handleCancel)).Methods("POST")
	router.HandleFunc("/cleanup/{task_id}", s.auth(s.handleCleanup)).Methods("DELETE")
	router.HandleFunc("/tasks", s.auth(s.handleTasks)).Methods("GET")
	router.HandleFunc("/ws/{task_id}", s.handleTaskSocket)

	return router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.config.WorkDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	s.server = &http.Server{
		Addr:    s.config.HTTPAddr,
		Handler: s.Router(),
	}

	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.config.HTTPAddr)
	<-ctx.Done()
	return s.server.Shutdown(context.Background())
}

// auth wraps a handler with static bearer-token checking when configured.
func (s *Service) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.config.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.config.Token {
			slog.Warn("Rejected request with invalid token", "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTranscribe accepts a video upload, starts its pipeline, and streams
// results back as newline-delimited JSON until the task reaches a terminal
// state or the client goes away.
func (s *Service) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing video file"})
		return
	}
	defer file.Close()

	translateEnabled, _ := strconv.ParseBool(r.FormValue("translate"))
	modelName := r.FormValue("model")
	if modelName == "" {
		modelName = s.config.DefaultModel
	}

	segCfg := segment.Config{}
	if v := r.FormValue("min_silence_duration"); v != "" {
		segCfg.MinSilence, _ = strconv.ParseFloat(v, 64)
	}
	if v := r.FormValue("silence_threshold"); v != "" {
		segCfg.ThresholdDB, _ = strconv.ParseFloat(v, 64)
	}

	taskID := uuid.New().String()
	scratch := filepath.Join(s.config.WorkDir, taskID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to allocate scratch space"})
		return
	}

	videoPath := filepath.Join(scratch, "input_video.mp4")
	out, err := os.Create(videoPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
		return
	}
	out.Close()

	queue, _ := s.tasks.Register(taskID)
	slog.Info("Accepted transcription task",
		"taskID", taskID,
		"model", modelName,
		"translate", translateEnabled)

	// The pipeline's lifetime is governed by the cancellation flag, not the
	// request context: a dropped connection cancels through the flag.
	go s.runner.Run(context.Background(), pipeline.Request{
		TaskID:     taskID,
		VideoPath:  videoPath,
		Scratch:    scratch,
		Model:      modelName,
		Translate:  translateEnabled,
		Segmenting: segCfg,
	})

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("task_id", taskID)
	w.WriteHeader(http.StatusOK)

	s.streamTask(w, r, taskID, queue)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	if !s.tasks.Cancel(taskID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("task %s not found", taskID)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("task %s cancellation initiated", taskID)})
}

// handleCleanup forces cancellation and removes all server-side state for
// the task. Safe to call any number of times.
func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	s.tasks.Cancel(taskID)

	scratch := filepath.Join(s.config.WorkDir, taskID)
	if err := os.RemoveAll(scratch); err != nil {
		slog.Error("Failed to remove scratch directory", "error", err, "path", scratch)
	}
	s.tasks.Cleanup(taskID)

	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("task %s cleaned up", taskID)})
}

func (s *Service) handleTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.Tasks())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
