package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"smartstock/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// ErrSubscriberClosed is returned when sending to a closed subscriber.
var ErrSubscriberClosed = errors.New("subscriber closed")

// WSSubscriber adapts a WebSocket connection to the Subscriber interface.
// Writes are serialized; Listen owns the read side of the connection.
type WSSubscriber struct {
	id     string
	conn   *websocket.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWSSubscriber wraps an upgraded connection and assigns it a fresh id.
func NewWSSubscriber(conn *websocket.Conn, logger zerolog.Logger) *WSSubscriber {
	id := uuid.NewString()
	return &WSSubscriber{
		id:     id,
		conn:   conn,
		logger: logging.WithSubscriber(logging.WithComponent(logger, "ws"), id),
	}
}

// ID implements Subscriber.
func (s *WSSubscriber) ID() string {
	return s.id
}

// Send implements Subscriber. The write deadline is taken from ctx when set.
func (s *WSSubscriber) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Listen blocks until the peer disconnects or ctx is cancelled. Incoming
// messages are discarded; the read loop only exists to observe control
// frames and connection loss. A keepalive ping is sent periodically.
func (s *WSSubscriber) Listen(ctx context.Context) error {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.heartbeat(pingCtx)

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		s.Close()
		<-readErr
		return ctx.Err()
	case err := <-readErr:
		s.Close()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Debug().Msg("Subscriber closed connection")
			return nil
		}
		return err
	}
}

func (s *WSSubscriber) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
