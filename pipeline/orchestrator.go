// Package pipeline drives one transcription task end to end: audio
// preparation, model acquisition, the producer/consumer stage threads, and
// finalization of the client queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"streamscribe/audio"
	"streamscribe/model"
	"streamscribe/segment"
	"streamscribe/task"
	"streamscribe/transcribe"
	"streamscribe/translate"
)

// interQueueSize bounds the transcription-to-translation hand-off queue.
const interQueueSize = 50

// Request describes one task to run.
type Request struct {
	TaskID    string
	VideoPath string

	// Scratch is the task's temporary directory. It is removed when the
	// pipeline finishes, whatever the outcome.
	Scratch string

	// Model is a model size name or file path.
	Model string

	// Translate enables the translation stage.
	Translate bool

	// Segmenting overrides silence-detection tuning; zero values use
	// defaults.
	Segmenting segment.Config
}

// TranscriberFactory builds a transcriber bound to an acquired model handle.
type TranscriberFactory func(h *model.Handle) transcribe.Transcriber

// Config wires the orchestrator's collaborators.
type Config struct {
	Manager     *task.Manager
	Models      *model.Cache
	ModelDir    string
	Transcriber TranscriberFactory
	Translator  translate.Translator
}

// Orchestrator runs tasks. Media and filesystem externals are injectable
// for tests.
type Orchestrator struct {
	manager        *task.Manager
	models         *model.Cache
	modelDir       string
	newTranscriber TranscriberFactory
	translator     translate.Translator

	extractAudio  func(ctx context.Context, videoPath, outPath string) error
	cutSegment    func(ctx context.Context, inputPath, outPath string, start, end float64) error
	probeDuration func(ctx context.Context, path string) (float64, error)
	decodeSamples func(path string) ([]float64, int, error)
	removeAll     func(path string) error
}

// New constructs an orchestrator with OS-backed media dependencies.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		manager:        cfg.Manager,
		models:         cfg.Models,
		modelDir:       cfg.ModelDir,
		newTranscriber: cfg.Transcriber,
		translator:     cfg.Translator,
		extractAudio:   audio.ExtractWAV,
		cutSegment:     audio.CutSegment,
		probeDuration:  audio.Duration,
		decodeSamples:  audio.DecodeSamples,
		removeAll:      os.RemoveAll,
	}
}

// Run drives one task to its terminal state. It never returns an error and
// never panics the caller: every failure is converted into a status record
// on the task's queue. Intended to run on its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, req Request) {
	queue, cancel := o.manager.Register(req.TaskID)
	log := slog.With("taskID", req.TaskID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Pipeline panicked", "panic", r)
			queue.TryPut(task.StatusMessage(task.StatusError, "internal pipeline failure"))
			queue.TryPut(task.EndMessage())
		}

		if req.Scratch != "" {
			if err := o.removeAll(req.Scratch); err != nil {
				// Cleanup failures are logged, never surfaced to the client.
				log.Error("Failed to remove scratch directory",
					"error", err,
					"path", req.Scratch)
			}
		}
		o.manager.Cleanup(req.TaskID)
		log.Info("Task finished")
	}()

	rawAudioPath := filepath.Join(req.Scratch, "raw_audio.wav")
	if err := o.extractAudio(ctx, req.VideoPath, rawAudioPath); err != nil {
		log.Error("Audio extraction failed", "error", err)
		o.finalize(queue, cancel, fmt.Errorf("audio extraction failed: %w", err))
		return
	}
	if cancel.IsSet() {
		o.finalize(queue, cancel, nil)
		return
	}

	handle, err := o.models.Acquire(model.Config{Name: req.Model, Dir: o.modelDir})
	if err != nil {
		log.Error("Model acquisition failed", "error", err, "model", req.Model)
		o.finalize(queue, cancel, fmt.Errorf("model %q unavailable: %w", req.Model, err))
		return
	}
	defer o.models.Release(handle)
	if cancel.IsSet() {
		o.finalize(queue, cancel, nil)
		return
	}

	duration, err := o.probeDuration(ctx, req.VideoPath)
	if err != nil {
		log.Error("Duration probe failed", "error", err)
		o.finalize(queue, cancel, fmt.Errorf("unreadable media: %w", err))
		return
	}
	samples, sampleRate, err := o.decodeSamples(rawAudioPath)
	if err != nil {
		log.Error("Audio decode failed", "error", err)
		o.finalize(queue, cancel, fmt.Errorf("unreadable audio: %w", err))
		return
	}

	jobs := segment.New(req.Segmenting).Jobs(samples, sampleRate, duration)
	log.Info("Audio segmented", "jobs", len(jobs), "duration", duration)
	if cancel.IsSet() {
		o.finalize(queue, cancel, nil)
		return
	}

	transcriber := o.newTranscriber(handle)

	var wg sync.WaitGroup
	if req.Translate && o.translator != nil {
		intermediate := task.NewQueue(interQueueSize)
		wg.Add(2)
		go func() {
			defer wg.Done()
			o.runProducer(ctx, jobs, rawAudioPath, req.Scratch, transcriber, intermediate, cancel, log)
		}()
		go func() {
			defer wg.Done()
			o.runTranslator(ctx, intermediate, queue, cancel, log)
		}()
	} else {
		if req.Translate {
			log.Warn("Translation requested but no translator is configured")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runProducer(ctx, jobs, rawAudioPath, req.Scratch, transcriber, queue, cancel, log)
		}()
	}
	wg.Wait()

	// The stage threads have already pushed the end marker; the streaming
	// side reports cancellation from the flag, so this status is only a
	// backstop for drains that outrun it.
	if cancel.IsSet() {
		queue.TryPut(task.StatusMessage(task.StatusCancelled, "Task cancelled by user"))
	}
}

// finalize reports a terminal outcome for failures that happen before the
// stage threads start, then pushes the end marker.
func (o *Orchestrator) finalize(queue *task.Queue, cancel *task.CancelFlag, err error) {
	switch {
	case cancel.IsSet():
		queue.TryPut(task.StatusMessage(task.StatusCancelled, "Task cancelled"))
	case err != nil:
		queue.TryPut(task.StatusMessage(task.StatusError, err.Error()))
	}
	queue.TryPut(task.EndMessage())
}
