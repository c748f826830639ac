package transport

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adiwarsito/svara/pkg/events"
)

type outbound struct {
	data   []byte
	binary bool
}

// wsSocket adapts one gorilla connection to the session's Socket contract.
// Writes go through a buffered channel drained by a single writer goroutine,
// so the session actor never blocks on a slow client.
type wsSocket struct {
	conn   *websocket.Conn
	sendCh chan outbound
	closed atomic.Bool
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	s := &wsSocket{
		conn:   conn,
		sendCh: make(chan outbound, 256),
	}
	go s.writeLoop()
	return s
}

func (s *wsSocket) SendEvent(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.enqueue(outbound{data: data})
	return nil
}

func (s *wsSocket) SendAudio(pcm []byte) error {
	// Large syntheses are split to honor the frame-size bound.
	for len(pcm) > 0 {
		n := len(pcm)
		if n > events.MaxFrameBytes {
			n = events.MaxFrameBytes
		}
		chunk := make([]byte, n)
		copy(chunk, pcm[:n])
		s.enqueue(outbound{data: chunk, binary: true})
		pcm = pcm[n:]
	}
	return nil
}

// Close stops accepting writes and lets the writer drain queued messages
// (the final call.ended included) before the connection goes down.
func (s *wsSocket) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return nil
}

func (s *wsSocket) enqueue(msg outbound) {
	if s.closed.Load() {
		return
	}
	defer func() {
		// The channel may close between the flag check and the send.
		_ = recover()
	}()
	select {
	case s.sendCh <- msg:
	default:
	}
}

func (s *wsSocket) writeLoop() {
	defer s.conn.Close()
	for msg := range s.sendCh {
		typ := websocket.TextMessage
		if msg.binary {
			typ = websocket.BinaryMessage
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.conn.WriteMessage(typ, msg.data); err != nil {
			return
		}
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
