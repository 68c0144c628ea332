package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"streamscribe/segment"
	"streamscribe/task"
	"streamscribe/transcribe"
)

// runProducer turns segment jobs into transcript records on the output
// queue, tagging them with a strictly increasing sequence index. It checks
// the cancellation flag before every emit, converts an inference failure
// into one error status, and always pushes the end marker as its final act.
func (o *Orchestrator) runProducer(
	ctx context.Context,
	jobs []segment.Job,
	audioPath, scratch string,
	transcriber transcribe.Transcriber,
	out *task.Queue,
	cancel *task.CancelFlag,
	log *slog.Logger,
) {
	defer func() {
		out.Put(task.EndMessage(), cancel)
		log.Debug("Transcription producer finished")
	}()

	index := 0
	for _, job := range jobs {
		if cancel.IsSet() {
			log.Info("Transcription producer observed cancellation")
			return
		}

		segPath := filepath.Join(scratch, fmt.Sprintf("segment_%d_audio.wav", job.Index))
		if err := o.cutSegment(ctx, audioPath, segPath, job.Start, job.End); err != nil {
			log.Error("Failed to cut audio segment", "error", err, "segment", job.Index)
			out.Put(task.StatusMessage(task.StatusError, fmt.Sprintf("audio segmentation failed: %v", err)), cancel)
			return
		}

		segments, err := transcriber.Transcribe(ctx, segPath)
		if removeErr := o.removeAll(segPath); removeErr != nil {
			log.Error("Failed to remove segment audio", "error", removeErr, "path", segPath)
		}
		if err != nil {
			log.Error("Transcription failed", "error", err, "segment", job.Index)
			out.Put(task.StatusMessage(task.StatusError, fmt.Sprintf("transcription failed: %v", err)), cancel)
			return
		}

		for _, s := range segments {
			if cancel.IsSet() {
				log.Info("Transcription producer observed cancellation")
				return
			}

			// Segment times are relative to the cut audio; shift into media
			// time and clamp to the job's range.
			start := math.Max(s.Start+job.Start, job.Start)
			end := math.Min(s.End+job.Start, job.End)
			if start >= end {
				continue
			}

			rec := task.Record{Index: index, Start: start, End: end, Text: s.Text}
			if !out.Put(task.RecordMessage(rec), cancel) {
				return
			}
			log.Debug("Produced transcript record",
				"segmentIndex", rec.Index,
				"start", rec.Start,
				"end", rec.End)
			index++
		}
	}
}
