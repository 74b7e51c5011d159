package transport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketStream carries the session byte stream in binary websocket messages.
// Message boundaries carry no meaning; reads continue across messages.
type WebSocketStream struct {
	ws *websocket.Conn
	r  io.Reader

	closeOnce sync.Once
	closeErr  error
}

var _ Stream = (*WebSocketStream)(nil)

func NewWebSocketStream(ws *websocket.Conn) *WebSocketStream {
	return &WebSocketStream{ws: ws}
}

func (s *WebSocketStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			mt, r, err := s.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if errors.Is(err, io.EOF) {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *WebSocketStream) Write(p []byte) (int, error) {
	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close may be called from another goroutine to abort a blocked read.
func (s *WebSocketStream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.ws.Close()
	})
	return s.closeErr
}

func (s *WebSocketStream) SetReadDeadline(t time.Time) error  { return s.ws.SetReadDeadline(t) }
func (s *WebSocketStream) SetWriteDeadline(t time.Time) error { return s.ws.SetWriteDeadline(t) }

// WebSocketOptions adapts opts for a websocket stream. A gorilla connection is
// unusable after a read deadline fires, so waits use a single MaxWait deadline
// and liveness is watched by closing the stream.
func WebSocketOptions(opts Options) Options {
	opts.PollInterval = 0
	return opts
}
