package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/models"
)

// WebSocket message types for the progress protocol
const (
	MsgTypeProgress = "progress"
	MsgTypeComplete = "complete"
	MsgTypeError    = "error"
)

// WSProgressMessage is pushed to clients while a session decodes.
type WSProgressMessage struct {
	Type      string                `json:"type"`
	Session   *models.DecodeSession `json:"session,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// WebSocketHandler pushes decode progress over WebSocket connections
type WebSocketHandler struct {
	sessionMgr   SessionManager
	upgrader     websocket.Upgrader
	pollInterval time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a new progress handler. A non-positive
// pollInterval falls back to 500ms.
func NewWebSocketHandler(sessionMgr SessionManager, pollInterval time.Duration) *WebSocketHandler {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		pollInterval: pollInterval,
		writeTimeout: 10 * time.Second,
	}
}

// HandleSessionProgress upgrades to a WebSocket and streams the state of
// one session until it completes or fails.
func (wsh *WebSocketHandler) HandleSessionProgress(c echo.Context) error {
	id := c.Param("sessionId")
	if _, ok := wsh.sessionMgr.GetSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logging.Warning("[WS] upgrade failed: %v", err)
		return nil
	}
	defer ws.Close()

	// Drain client frames so close messages are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsh.pollInterval)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		sess, ok := wsh.sessionMgr.GetSession(id)
		if !ok {
			wsh.send(ws, WSProgressMessage{Type: MsgTypeError, Message: "session not found"})
			return nil
		}

		switch {
		case sess.Status == models.SessionStatusComplete:
			wsh.send(ws, WSProgressMessage{Type: MsgTypeComplete, Session: sess})
			return nil
		case sess.Status == models.SessionStatusError:
			wsh.send(ws, WSProgressMessage{Type: MsgTypeError, Session: sess, Message: "decode failed"})
			return nil
		case sess.Progress != lastProgress:
			lastProgress = sess.Progress
			if err := wsh.send(ws, WSProgressMessage{Type: MsgTypeProgress, Session: sess}); err != nil {
				return nil
			}
		}

		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msg WSProgressMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(wsh.writeTimeout))
	if err := ws.WriteJSON(msg); err != nil {
		logging.Debug("[WS] write failed: %v", err)
		return err
	}
	return nil
}
