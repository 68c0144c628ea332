package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"streamscribe/task"
)

// streamPollTimeout bounds how long the boundary waits for a queue message
// before re-checking cancellation and client liveness.
const streamPollTimeout = 100 * time.Millisecond

// streamTask drains the task's client queue into the response body, one
// JSON object per line. Exactly one terminal outcome is observable: the
// stream ends naturally on the end marker, or after a single status line.
// Teardown of any kind propagates backward as cancellation.
func (s *Service) streamTask(w http.ResponseWriter, r *http.Request, taskID string, queue *task.Queue) {
	defer func() {
		// Covers natural end, client disconnect, and write failures alike;
		// Cancel is idempotent and a no-op once the task is gone.
		s.tasks.Cancel(taskID)
		slog.Debug("Stream ended", "taskID", taskID)
	}()

	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for {
		if s.tasks.IsCancelled(taskID) {
			if err := enc.Encode(task.Status{Status: task.StatusCancelled, Message: "Task cancelled by user"}); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			return
		}

		select {
		case <-r.Context().Done():
			slog.Info("Client disconnected mid-stream", "taskID", taskID)
			return
		default:
		}

		msg, ok := queue.Get(streamPollTimeout)
		if !ok {
			continue
		}

		switch msg.Kind {
		case task.KindEnd:
			return
		case task.KindStatus:
			if err := enc.Encode(msg.Status); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			return
		default:
			if err := enc.Encode(msg.Record); err != nil {
				slog.Error("Failed to write record to stream", "error", err, "taskID", taskID)
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}
