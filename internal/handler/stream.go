package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

// DefaultHeartbeat is the interval between keep-alive events on idle streams.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service   *service.DemoService
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.DemoService, log *logger.Logger, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		service:   svc,
		logger:    log,
		heartbeat: heartbeat,
	}
}

// Stream handles GET /api/v1/demos/{id}/stream
// Every widget state change is sent as a snapshot event. A slow client skips
// intermediate snapshots but always ends on the latest one.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	snapshots, cancel, err := h.service.Subscribe(ctx, id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementStreamConnections("sse")
	defer metrics.DecrementStreamConnections("sse")

	log := h.logger.WithSession(id)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": id,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case snap, open := <-snapshots:
			if !open {
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "session_closed",
					Message: "demo session was deleted",
				})
				return
			}
			if err := sendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				log.Warn("failed to write snapshot", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
