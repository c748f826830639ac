package twilio

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adiwarsito/svara/pkg/audio"
	"github.com/adiwarsito/svara/pkg/events"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/session"
	"github.com/adiwarsito/svara/pkg/transport"
)

const (
	carrierSampleRate = 8000
	// mulawChunkBytes is 20ms of 8kHz mu-law, the carrier's frame cadence.
	mulawChunkBytes = 160
)

// streamEvent is the carrier's media-stream WebSocket message shape.
type streamEvent struct {
	Event string `json:"event"`
	Start *struct {
		CallSID   string `json:"callSid"`
		StreamSID string `json:"streamSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		Reason string `json:"reason"`
	} `json:"stop,omitempty"`
}

// mediaHandler terminates the carrier media stream and bridges it to a
// session: inbound mu-law 8kHz is decoded and upsampled to the engine
// ingress format, outbound engine PCM is downsampled and mu-law encoded.
type mediaHandler struct {
	adapter  *Adapter
	launcher transport.Launcher
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func (a *Adapter) newMediaHandler(launcher transport.Launcher) *mediaHandler {
	return &mediaHandler{
		adapter:  a,
		launcher: launcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger(slog.Default(), "twilio_media"),
	}
}

func (h *mediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimPrefix(r.URL.Path, h.adapter.cfg.MediaPath)
	if callID == "" || strings.Contains(callID, "/") {
		http.Error(w, "call id required", http.StatusBadRequest)
		return
	}
	token := r.URL.Query().Get("token")
	if err := h.adapter.tokens.Verify(r.Context(), token, callID); err != nil {
		h.logger.Warn("media_token_rejected", slog.String("call_id", callID))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.adapter.tokens.Revoke(r.Context(), token)

	sock := newBridgeSocket(conn)
	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.End(session.ReasonClientDisconnect)
		} else {
			_ = sock.Close()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt streamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			sock.setStreamSID(evt.Start.StreamSID)
			sess, err = h.launcher.Launch(callID, sock)
			if err != nil {
				h.logger.Error("bridge_launch_failed",
					slog.String("call_id", callID),
					slog.String("error", err.Error()))
				return
			}
			h.logger.Info("media_stream_started",
				slog.String("call_id", callID),
				slog.String("stream_sid", evt.Start.StreamSID))
		case "media":
			if evt.Media == nil || sess == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			pcm := audio.MuLawDecode(mulaw)
			sess.HandleAudio(audio.Resample(pcm, carrierSampleRate, audio.IngressSampleRate))
		case "stop":
			if sess != nil {
				sess.End(session.ReasonClientDisconnect)
				sess = nil
			}
			return
		}
	}
}

// bridgeSocket adapts the carrier stream to the session Socket contract.
// Events have no carrier rendering except interruption, which becomes the
// carrier's buffer-clear directive.
type bridgeSocket struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool

	mu        sync.Mutex
	streamSID string
}

func newBridgeSocket(conn *websocket.Conn) *bridgeSocket {
	s := &bridgeSocket{
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	go s.writeLoop()
	return s
}

func (s *bridgeSocket) setStreamSID(sid string) {
	s.mu.Lock()
	s.streamSID = sid
	s.mu.Unlock()
}

func (s *bridgeSocket) sid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

func (s *bridgeSocket) SendEvent(env events.Envelope) error {
	if env.Type != events.TypeAssistantInterrupted {
		return nil
	}
	msg, err := json.Marshal(map[string]any{
		"event":     "clear",
		"streamSid": s.sid(),
	})
	if err != nil {
		return err
	}
	s.enqueue(msg)
	return nil
}

func (s *bridgeSocket) SendAudio(pcm []byte) error {
	downsampled := audio.Resample(pcm, audio.EgressSampleRate, carrierSampleRate)
	mulaw := audio.MuLawEncode(downsampled)
	sid := s.sid()
	for off := 0; off < len(mulaw); off += mulawChunkBytes {
		end := off + mulawChunkBytes
		if end > len(mulaw) {
			end = len(mulaw)
		}
		msg, err := json.Marshal(map[string]any{
			"event":     "media",
			"streamSid": sid,
			"media": map[string]any{
				"payload": base64.StdEncoding.EncodeToString(mulaw[off:end]),
			},
		})
		if err != nil {
			return err
		}
		s.enqueue(msg)
	}
	return nil
}

// Close stops accepting writes; the writer drains queued carrier messages
// before dropping the connection.
func (s *bridgeSocket) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return nil
}

func (s *bridgeSocket) enqueue(msg []byte) {
	if s.closed.Load() {
		return
	}
	defer func() {
		_ = recover()
	}()
	select {
	case s.sendCh <- msg:
	default:
	}
}

func (s *bridgeSocket) writeLoop() {
	defer s.conn.Close()
	for msg := range s.sendCh {
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

var _ session.Socket = (*bridgeSocket)(nil)
