package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"streamscribe/task"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// handleTaskSocket serves one task's result stream over a websocket. This
// is the delivery surface for tasks submitted outside an HTTP request, such
// as watch-folder ingests; each task's queue supports a single consumer.
func (s *Service) handleTaskSocket(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	if _, err := uuid.Parse(taskID); err != nil {
		http.Error(w, "Invalid task ID", http.StatusBadRequest)
		return
	}

	queue, _, ok := s.tasks.Lookup(taskID)
	if !ok {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "taskID", taskID)
		return
	}

	go s.socketReadPump(conn, taskID)
	s.socketWritePump(conn, taskID, queue)
}

// socketReadPump discards client frames and turns connection loss into task
// cancellation.
func (s *Service) socketReadPump(conn *websocket.Conn, taskID string) {
	defer s.tasks.Cancel(taskID)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "error", err, "taskID", taskID)
			}
			return
		}
	}
}

// socketWritePump mirrors the NDJSON streaming contract over the socket:
// result payloads as JSON text messages, at most one terminal status, then
// a close frame.
func (s *Service) socketWritePump(conn *websocket.Conn, taskID string, queue *task.Queue) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		s.tasks.Cancel(taskID)
	}()

	for {
		if s.tasks.IsCancelled(taskID) {
			s.socketWriteJSON(conn, taskID, task.Status{Status: task.StatusCancelled, Message: "Task cancelled by user"})
			s.socketClose(conn)
			return
		}

		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		default:
		}

		msg, ok := queue.Get(streamPollTimeout)
		if !ok {
			continue
		}

		switch msg.Kind {
		case task.KindEnd:
			s.socketClose(conn)
			return
		case task.KindStatus:
			s.socketWriteJSON(conn, taskID, msg.Status)
			s.socketClose(conn)
			return
		default:
			if !s.socketWriteJSON(conn, taskID, msg.Record) {
				return
			}
		}
	}
}

func (s *Service) socketWriteJSON(conn *websocket.Conn, taskID string, v any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		slog.Debug("WebSocket write failed", "error", err, "taskID", taskID)
		return false
	}
	return true
}

func (s *Service) socketClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
