package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"streamscribe/pipeline"
	"streamscribe/segment"
	"streamscribe/task"
)

// settlePoll is how often a newly created file is re-checked for a stable
// size before it is handed to the pipeline.
const settlePoll = 500 * time.Millisecond

var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".mp3":  true,
	".wav":  true,
}

// Runner starts the processing pipeline for one request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request)
}

type Config struct {
	// IngestDir is watched for new media files.
	IngestDir string

	// WorkDir holds per-task scratch directories.
	WorkDir string

	// Model is the transcription model applied to ingested files.
	Model string

	// Translate enables the translation stage for ingested files.
	Translate bool
}

// Watcher turns media files dropped into the ingest directory into
// transcription tasks. Results are consumed over the task's websocket
// stream; the task ID is logged and visible in the task listing.
type Watcher struct {
	config  Config
	tasks   *task.Manager
	runner  Runner
	watcher *fsnotify.Watcher
}

func New(cfg Config, tasks *task.Manager, runner Runner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		config:  cfg,
		tasks:   tasks,
		runner:  runner,
		watcher: fsw,
	}, nil
}

// Run watches the ingest directory until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := os.MkdirAll(w.config.IngestDir, 0o755); err != nil {
		return fmt.Errorf("failed to create ingest directory: %w", err)
	}
	if err := w.watcher.Add(w.config.IngestDir); err != nil {
		return fmt.Errorf("failed to watch ingest directory: %w", err)
	}

	slog.Info("Started watching ingest directory", "path", w.config.IngestDir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if err := w.handleEvent(ctx, event); err != nil {
				slog.Error("Failed to handle file system event",
					"error", err,
					"event", event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) error {
	if !event.Op.Has(fsnotify.Create) {
		return nil
	}
	if strings.HasSuffix(event.Name, ".tmp") || !isMediaFile(event.Name) {
		return nil
	}
	if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
		return nil
	}

	if err := w.waitForSettle(ctx, event.Name); err != nil {
		return err
	}
	return w.ingest(ctx, event.Name)
}

// waitForSettle blocks until two consecutive size checks agree, so files
// still being copied in are not picked up half-written.
func (w *Watcher) waitForSettle(ctx context.Context, path string) error {
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat ingested file: %w", err)
		}
		if info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) error {
	taskID := uuid.New().String()
	scratch := filepath.Join(w.config.WorkDir, taskID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("failed to allocate scratch space: %w", err)
	}

	w.tasks.Register(taskID)
	slog.Info("Ingested media file",
		"taskID", taskID,
		"file", filepath.Base(path),
		"model", w.config.Model,
		"translate", w.config.Translate)

	go w.runner.Run(ctx, pipeline.Request{
		TaskID:     taskID,
		VideoPath:  path,
		Scratch:    scratch,
		Model:      w.config.Model,
		Translate:  w.config.Translate,
		Segmenting: segment.Config{},
	})
	return nil
}

func isMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}
