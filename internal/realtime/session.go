package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// SessionState tracks the protocol state machine. Transitions are monotonic;
// a Closed session's identifier is never reused.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// wsConn is the subset of *websocket.Conn the session needs; tests substitute
// an in-memory implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is one live client connection: the handshake, the heartbeat
// deadline, the inbound command loop and the outbound delivery loop.
type Session struct {
	id        string
	userID    uuid.UUID
	gw        *Gateway
	conn      wsConn
	out       *outQueue
	state     atomic.Int32
	deadline  atomic.Int64 // unix nano
	createdAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSession(gw *Gateway, conn wsConn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.New().String(),
		gw:        gw,
		conn:      conn,
		out:       newOutQueue(gw.cfg.SendQueueSize),
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.touch()
	return s
}

func (s *Session) ID() string          { return s.id }
func (s *Session) UserID() uuid.UUID   { return s.userID }
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// touch resets the heartbeat deadline. Called on every inbound frame.
func (s *Session) touch() {
	s.deadline.Store(time.Now().Add(s.gw.cfg.HeartbeatTimeout).UnixNano())
}

func (s *Session) deadlineExpired(now time.Time) bool {
	return now.UnixNano() > s.deadline.Load()
}

// Enqueue queues an outbound frame for delivery in dispatch order. Frames
// enqueued after Closing are dropped with ErrClientDisconnected.
func (s *Session) Enqueue(frame outboundFrame) error {
	if st := s.State(); st != StateActive && st != StateAuthenticated {
		return ErrClientDisconnected
	}
	if err := s.out.push(frame); err != nil {
		if err == ErrBackpressure {
			slog.Warn("outbound queue overflow, closing session",
				"connID", s.id, "userID", s.userID)
			s.Close("backpressure")
		}
		return err
	}
	return nil
}

// run drives the session through its lifecycle. The token comes from the
// connection parameters; a failed handshake closes the transport without ever
// touching the registry.
func (s *Session) run(token string) {
	userID, err := s.gw.auth.ValidateToken(s.ctx, token)
	if err != nil {
		slog.Info("websocket handshake rejected", "connID", s.id, "error", err)
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.TextMessage, marshalFrame(ErrorFrame{Type: FrameError, Message: "authentication failed"}))
		s.conn.Close()
		s.setState(StateClosed)
		return
	}
	s.userID = userID
	s.setState(StateAuthenticated)

	s.gw.sessionOnline(s)
	s.setState(StateActive)
	slog.Info("session active", "connID", s.id, "userID", s.userID)

	s.wg.Add(1)
	go s.writeLoop()
	s.readLoop()

	s.Close("transport closed")
	s.wg.Wait()
	s.setState(StateClosed)
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.gw.cfg.HeartbeatTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(s.gw.cfg.HeartbeatTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "connID", s.id, "userID", s.userID, "error", err)
			}
			return
		}
		s.touch()
		s.conn.SetReadDeadline(time.Now().Add(s.gw.cfg.HeartbeatTimeout))
		s.handleFrame(data)

		select {
		case <-s.ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.out.push(errorFrame("invalid message format"))
		return
	}

	switch frame.Type {
	case FrameJoinGroup:
		if frame.GroupID == nil {
			s.out.push(errorFrame("group_id is required"))
			return
		}
		if err := s.gw.rooms.Join(s.ctx, *frame.GroupID, s); err != nil {
			if err == ErrNotAMember {
				s.out.push(errorFrame("you are not a member of this group"))
			} else {
				slog.Error("join failed", "connID", s.id, "groupID", frame.GroupID, "error", err)
				s.out.push(errorFrame("failed to join group"))
			}
		}
	case FrameLeaveGroup:
		if frame.GroupID == nil {
			s.out.push(errorFrame("group_id is required"))
			return
		}
		s.gw.rooms.Leave(*frame.GroupID, s.id)
	case FramePing:
		s.out.push(pongFrame())
	default:
		s.out.push(errorFrame("unknown message type"))
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.gw.cfg.HeartbeatTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		s.wg.Done()
	}()

	for {
		select {
		case <-s.out.notify:
			frames, open := s.out.drain()
			for _, f := range frames {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					slog.Debug("websocket write error", "connID", s.id, "userID", s.userID, "error", err)
					s.Close("write failed")
					return
				}
			}
			if !open {
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close("ping failed")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Close tears the session down exactly once: unregister (which cascades room
// cleanup), presence decrement, loops cancelled, transport closed. Queued
// deliveries not yet written are dropped; the client resyncs via history.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		slog.Info("session closing", "connID", s.id, "userID", s.userID, "reason", reason)

		s.gw.sessionOffline(s)
		s.out.close()
		s.cancel()
		s.conn.Close()
	})
}
