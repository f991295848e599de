// Package handlers provides HTTP request handlers for the lanprobe API.
// This file implements the WebSocket endpoint that streams ping attempts
// as they complete.
package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
	"github.com/anstrom/lanprobe/internal/metrics"
	"github.com/anstrom/lanprobe/internal/ping"
	"github.com/anstrom/lanprobe/internal/probe"
)

const (
	// WebSocket configuration constants.
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer
	maxMessageSize = 512              // Maximum message size allowed from peer
	maxAttempts    = 100
)

// Message types sent on the ping stream.
const (
	MessageAttempt = "attempt"
	MessageSummary = "summary"
	MessageError   = "error"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AttemptMessage is the payload of an attempt message.
type AttemptMessage struct {
	Seq     int           `json:"seq"`
	Outcome probe.Outcome `json:"outcome"`
}

// WebSocketHandler streams ping progress over WebSocket connections.
type WebSocketHandler struct {
	pinger   probe.Pinger
	options  ping.Options
	logger   *logging.Logger
	metrics  metrics.MetricsRegistry
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. Browser upgrades are
// accepted from the API's own origin and from allowedOrigins.
func NewWebSocketHandler(pinger probe.Pinger, options ping.Options, logger *logging.Logger,
	metricsManager metrics.MetricsRegistry, allowedOrigins []string) *WebSocketHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebSocketHandler{
		pinger:  pinger,
		options: options,
		logger:  logger.WithFields("handler", "websocket"),
		metrics: metricsManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker accepts upgrades without an Origin header, same-origin
// upgrades and origins listed in allowed. A "*" entry is ignored: the ping
// stream is never open to every site.
func originChecker(allowed []string) func(r *http.Request) bool {
	listed := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin != "*" {
			listed[normalizeOrigin(origin)] = true
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return listed[normalizeOrigin(origin)]
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// PingStream runs a ping against the host query parameter and sends one
// attempt message per echo followed by a summary message. Closing the
// connection cancels the run.
func (h *WebSocketHandler) PingStream(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	if h.pinger == nil {
		writeProbeError(w, r, errors.NewProbeError(errors.CodeConfiguration, "ping engine not configured"))
		return
	}

	host := strings.TrimSpace(r.URL.Query().Get("host"))
	if host == "" {
		writeProbeError(w, r, errors.ErrValidation("host is required"))
		return
	}

	opts := h.options
	if raw := r.URL.Query().Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 || count > maxAttempts {
			writeProbeError(w, r, errors.ErrValidation("count must be between 1 and 100"))
			return
		}
		opts.Attempts = count
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("Ping stream opened", "request_id", requestID, "host", host, "remote_addr", r.RemoteAddr)
	if h.metrics != nil {
		h.metrics.Counter("websocket_streams_total", metrics.Labels{metrics.LabelKind: metrics.KindICMP})
	}

	// The request context is detached after hijacking, so the reader
	// goroutine is what notices the client leaving.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.readUntilClosed(conn, cancel)

	send := func(msgType string, data interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(WebSocketMessage{
			Type:      msgType,
			Timestamp: time.Now().UTC(),
			Data:      data,
			RequestID: requestID,
		})
		if err != nil {
			h.logger.Debug("WebSocket write failed", "request_id", requestID, "error", err)
			cancel()
			return false
		}
		return true
	}

	summary, err := ping.Run(ctx, h.pinger, host, opts, func(attempt int, out probe.Outcome) {
		send(MessageAttempt, AttemptMessage{Seq: attempt, Outcome: out})
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeCanceled) {
			h.logger.Info("Ping stream canceled", "request_id", requestID, "host", host)
			return
		}
		send(MessageError, ErrorResponse{
			Error:     "Ping failed",
			Message:   err.Error(),
			Code:      errors.GetCode(err),
			Timestamp: time.Now().UTC(),
			RequestID: requestID,
		})
		return
	}

	if send(MessageSummary, NewPingResponse(summary)) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(writeWait))
	}
}

// readUntilClosed discards client messages and cancels the run once the
// connection fails or closes.
func (h *WebSocketHandler) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
