package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
	"github.com/capitalize-ai/chat-demo/pkg/metrics"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 4 << 10
)

var errUnknownAction = errors.New("unknown action")

// WSMessage is a server to client websocket frame.
type WSMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Snapshot  *model.Snapshot   `json:"snapshot,omitempty"`
	Error     *model.ErrorEvent `json:"error,omitempty"`
}

// WSCommand is a client to server websocket frame.
type WSCommand struct {
	Action string `json:"action"`
}

// WSHandler streams snapshots over a websocket and accepts start and stop
// commands from the widget.
type WSHandler struct {
	service  *service.DemoService
	logger   *logger.Logger
	upgrader websocket.Upgrader
	ping     time.Duration
}

// NewWSHandler creates a new websocket handler. Origins are matched against
// the same patterns as CORS; a request without an Origin header is allowed.
func NewWSHandler(svc *service.DemoService, log *logger.Logger, allowedOrigins []string, ping time.Duration) *WSHandler {
	if ping <= 0 {
		ping = DefaultHeartbeat
	}
	return &WSHandler{
		service: svc,
		logger:  log,
		ping:    ping,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowedOrigins)
			},
		},
	}
}

// Serve handles GET /api/v1/demos/{id}/ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe, err := h.service.Subscribe(ctx, id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.IncrementStreamConnections("ws")
	defer metrics.DecrementStreamConnections("ws")

	log := h.logger.WithSession(id)
	replies := make(chan WSMessage, 4)
	go h.readLoop(ctx, cancel, conn, id, replies, log)

	if err := h.write(conn, WSMessage{Type: "connected", SessionID: id}); err != nil {
		return
	}

	ping := time.NewTicker(h.ping)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, open := <-snapshots:
			if !open {
				h.write(conn, WSMessage{Type: "error", Error: &model.ErrorEvent{
					Code:    "session_closed",
					Message: "demo session was deleted",
				}})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if err := h.write(conn, WSMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}

		case msg := <-replies:
			if err := h.write(conn, msg); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readLoop applies client commands until the connection fails. Only the
// Serve loop writes to conn.
func (h *WSHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, id string, replies chan<- WSMessage, log *logger.Logger) {
	defer cancel()

	pongWait := 2 * h.ping
	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var err error
		switch cmd.Action {
		case "start":
			_, err = h.service.Start(ctx, id)
		case "stop":
			_, err = h.service.Stop(ctx, id)
		default:
			err = errUnknownAction
		}
		if err == nil {
			continue
		}

		select {
		case replies <- WSMessage{Type: "error", Error: &model.ErrorEvent{Code: "command_failed", Message: err.Error()}}:
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, msg WSMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

// originAllowed matches origin against patterns that may hold one "*".
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == "*" || p == origin {
			return true
		}
		if prefix, suffix, found := strings.Cut(p, "*"); found {
			if len(origin) >= len(prefix)+len(suffix) && strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
