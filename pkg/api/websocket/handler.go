package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	storage  ports.StateStorage
	logger   *zap.Logger
	buffer   int
}

// NewHandler creates a new WebSocket handler. Each connection buffers up to
// buffer events; a slow client loses the events that do not fit.
func NewHandler(eventBus ports.EventBus, storage ports.StateStorage, logger *zap.Logger, buffer int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Handler{
		eventBus: eventBus,
		storage:  storage,
		logger:   logger,
		buffer:   buffer,
	}
}

func isTerminal(t ports.EventType) bool {
	return t == ports.EventTypeRunCompleted || t == ports.EventTypeRunFailed || t == ports.EventTypeRunCancelled
}

// HandleRunStream streams the events of one run. A run that already
// finished gets its stored state and the connection is closed; otherwise
// events are sent until the run finishes or the client goes away.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	state, err := h.storage.GetRun(c.Request.Context(), runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ports.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	if state.Status.IsTerminal() {
		h.write(conn, state)
		h.close(conn)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read side only detects the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := make(chan ports.Event, h.buffer)
	handler := func(_ context.Context, event ports.Event) error {
		if event.RunID != runID {
			return nil
		}
		select {
		case events <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", runID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}

	if err := h.eventBus.Subscribe(ctx, ports.TopicEvents, handler); err != nil {
		h.logger.Error("failed to subscribe to events",
			zap.String("run_id", runID),
			zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if !h.write(conn, event) {
				return
			}
			if isTerminal(event.Type) {
				h.close(conn)
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, v interface{}) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("failed to write message", zap.Error(err))
		return false
	}
	return true
}

func (h *Handler) close(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(writeWait))
}
