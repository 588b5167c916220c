package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
)

// State is the lifecycle position of a session. Transitions only move
// forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateLive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close codes sent to clients.
const (
	CloseReplaced   = 4000
	CloseAuthFailed = 4401
)

type closeRequest struct {
	code   int
	reason string
}

// Session is one client WebSocket. A single writer goroutine drains the
// outbound queue, so frames reach the client in enqueue order.
type Session struct {
	conn   *websocket.Conn
	log    *zap.Logger
	userID atomic.Int64
	state  atomic.Int32

	out       chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	closeReq  closeRequest
	done      chan struct{}
}

func newSession(conn *websocket.Conn, buffer int, log *zap.Logger) *Session {
	s := &Session{
		conn:    conn,
		log:     log,
		out:     make(chan []byte, buffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// UserID is the authenticated principal, or 0 before authentication.
func (s *Session) UserID() int64 {
	return s.userID.Load()
}

// advance moves the session forward to next. It fails if the session is
// already at or past next.
func (s *Session) advance(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Send queues a frame. Frames sent once the session is closing are
// dropped silently. A session whose queue is full is closed.
func (s *Session) Send(frame []byte) bool {
	if s.State() >= StateClosing {
		return false
	}
	select {
	case s.out <- frame:
		return true
	default:
		observability.GatewayFrames.WithLabelValues("dropped", "overflow").Inc()
		s.log.Warn("outbound queue full, closing session", zap.Int64("user_id", s.UserID()))
		s.Close(websocket.CloseTryAgainLater, "slow consumer")
		return false
	}
}

// Close asks the writer to flush queued frames, send a close frame with
// code and drop the connection. Only the first call has effect.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.advance(StateClosing)
		s.closeReq = closeRequest{code: code, reason: reason}
		close(s.closing)
	})
}

// Done is closed once the writer has released the connection.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.state.Store(int32(StateClosed))
		close(s.done)
	}()

	for {
		select {
		case frame := <-s.out:
			if err := s.write(frame, writeWait); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-s.closing:
			s.flush(writeWait)
			req := s.closeReq
			if req.code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(req.code, req.reason)
				_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

// flush writes frames queued before Close.
func (s *Session) flush(writeWait time.Duration) {
	for {
		select {
		case frame := <-s.out:
			if err := s.write(frame, writeWait); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(frame []byte, writeWait time.Duration) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}
