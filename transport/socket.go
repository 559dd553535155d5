package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	socketWriteWait          = 10 * time.Second
)

// Socket is the bidirectional WebSocket transport. Messages are framed by
// the protocol itself (one text message per payload). Liveness is probed
// with periodic pings; a peer that fails to answer within the heartbeat
// deadline causes the pending Receive to fail with ErrStalled.
type Socket struct {
	cfg SocketConfig
	log *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	open    bool
	closed  bool
	readErr error
}

// NewSocket constructs the socket transport. No dial happens until Open.
func NewSocket(cfg SocketConfig) *Socket {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatDeadline <= 0 {
		cfg.HeartbeatDeadline = 2 * cfg.HeartbeatInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Socket{cfg: cfg, log: log}
}

func (s *Socket) Kind() Kind { return KindSocket }

func (s *Socket) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return fmt.Errorf("socket transport: already open")
	}
	s.mu.Unlock()

	header := http.Header{}
	if s.cfg.Tokens != nil {
		tok, err := s.cfg.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("socket transport: token: %w", err)
		}
		if tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("socket transport: dial %s: %w", s.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// Each pong pushes the read deadline out; if the peer stops answering,
	// the deadline fires inside the blocked read and Receive reports the
	// stall.
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatDeadline))
	})

	stop := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.stop = stop
	s.open = true
	s.closed = false
	s.readErr = nil
	s.mu.Unlock()

	go s.heartbeat(conn, stop)

	s.log.Debug("socket.open.ok", slog.String("url", s.cfg.URL))
	return nil
}

// heartbeat pings the peer at the configured interval until the transport
// closes or a ping write fails.
func (s *Socket) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Warn("socket.heartbeat.fail", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (s *Socket) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	closed := s.closed
	s.mu.Unlock()
	if !open {
		if closed {
			return ErrClosed
		}
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("socket transport: send: %w (%w)", err, ErrPeerGone)
	}
	return nil
}

func (s *Socket) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	closed := s.closed
	s.mu.Unlock()
	if !open {
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrNotConnected
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return nil, s.failRead(fmt.Errorf("socket transport: heartbeat deadline exceeded: %w", ErrStalled))
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, s.failRead(fmt.Errorf("socket transport: peer closed: %w", ErrPeerGone))
			}
			return nil, s.failRead(fmt.Errorf("socket transport: receive: %w", err))
		}
		if msgType != websocket.TextMessage || len(payload) == 0 {
			continue
		}
		return payload, nil
	}
}

// failRead records a read failure before surfacing it. ReadMessage errors
// are permanent on a gorilla connection, so a recorded failure marks the
// whole connection unrecoverable.
func (s *Socket) failRead(err error) error {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	return err
}

// Probe confirms the connection is still usable. The read path is checked
// first: a ping can succeed against a peer whose read side is already dead,
// so a recorded read failure fails the probe outright.
func (s *Socket) Probe(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	open := s.open
	readErr := s.readErr
	s.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	if readErr != nil {
		return fmt.Errorf("socket transport: probe: %w", readErr)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
		return fmt.Errorf("socket transport: probe: %w (%w)", err, ErrPeerGone)
	}
	return nil
}

func (s *Socket) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	s.closed = true
	conn := s.conn
	stop := s.stop
	s.conn = nil
	s.stop = nil
	s.mu.Unlock()

	close(stop)

	s.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()

	return conn.Close()
}
