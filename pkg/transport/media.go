package transport

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/adiwarsito/svara/pkg/errorsx"
	"github.com/adiwarsito/svara/pkg/events"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/session"
)

// Launcher creates and starts the session for an accepted media connection.
// The engine implements this; it resolves the call row and assistant, builds
// provider adapters, and registers the session.
type Launcher interface {
	Launch(callID string, sock session.Socket) (*session.Session, error)
}

// MediaServer serves the per-call media WebSocket at /ws/{callID}. Every
// connection must present a short-lived token bound to the call id; the
// media channel is otherwise unauthenticated and would allow session hijack.
type MediaServer struct {
	tokens   *TokenManager
	launcher Launcher
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewMediaServer(tokens *TokenManager, launcher Launcher, allowedOrigin string) *MediaServer {
	m := &MediaServer{
		tokens:   tokens,
		launcher: launcher,
		logger:   logging.NewComponentLogger(slog.Default(), "media_server"),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(allowedOrigin, "/"))
		},
	}
	return m
}

func (m *MediaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if callID == "" || strings.Contains(callID, "/") {
		http.Error(w, "call id required", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	if err := m.tokens.Verify(r.Context(), token, callID); err != nil {
		m.logger.Warn("media_token_rejected",
			slog.String("call_id", callID),
			slog.String("reason_code", string(errorsx.Reason(err))))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(events.MaxFrameBytes)

	sock := newWSSocket(conn)
	sess, err := m.launcher.Launch(callID, sock)
	if err != nil {
		m.logger.Warn("session_launch_failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
		_ = sock.SendEvent(events.New(events.TypeError, map[string]any{
			"code":    string(errorsx.KindOf(err)),
			"message": err.Error(),
		}))
		_ = sock.Close()
		return
	}
	m.tokens.Revoke(r.Context(), token)

	m.readLoop(conn, sess)
}

// readLoop pumps inbound frames into the session until the client goes away
// or teardown closes the connection underneath us.
func (m *MediaServer) readLoop(conn *websocket.Conn, sess *session.Session) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			sess.End(session.ReasonClientDisconnect)
			return
		}
		switch typ {
		case websocket.BinaryMessage:
			sess.HandleAudio(data)
		case websocket.TextMessage:
			msg, err := events.ParseControl(data)
			if err != nil {
				m.logger.Debug("malformed_control_message", slog.String("error", err.Error()))
				continue
			}
			sess.HandleControl(msg.Type)
		}
	}
}
