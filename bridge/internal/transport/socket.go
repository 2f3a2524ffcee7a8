package transport

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const socketWriteTimeout = 10 * time.Second

// Socket is a Channel over a websocket. It serves runtimes that load the
// view page in a browser the host does not drive; each text frame is one
// envelope.
type Socket struct {
	conn   *websocket.Conn
	logger *slog.Logger
	out    *outbox

	mu      sync.Mutex
	handler Handler
	closed  chan struct{}
	once    sync.Once
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
}

// Accept upgrades an HTTP request from the view page into a Socket.
func Accept(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Socket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, logger), nil
}

// NewSocket wraps an established websocket connection.
func NewSocket(conn *websocket.Conn, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Socket{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}
	s.out = newOutbox(s.write, logger)
	return s
}

// Send queues envelope as one text frame.
func (s *Socket) Send(envelope string) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	return s.out.push(envelope)
}

// OnReceive registers h and starts the read loop.
func (s *Socket) OnReceive(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if s.handler != nil {
		return ErrHandlerSet
	}
	s.handler = h
	go s.readLoop(h)
	return nil
}

// Closed is closed once the socket is closed by either side.
func (s *Socket) Closed() <-chan struct{} { return s.closed }

// Close shuts the connection down.
func (s *Socket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.out.close(true)
		err = s.conn.Close()
	})
	return err
}

func (s *Socket) write(envelope string) {
	select {
	case <-s.closed:
		return
	default:
	}
	s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(envelope)); err != nil {
		s.logger.Warn("transport: socket write failed", "error", err)
		s.Close()
	}
}

func (s *Socket) readLoop(h Handler) {
	defer s.Close()
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
					!errors.Is(err, net.ErrClosed) {
					s.logger.Debug("transport: socket read ended", "error", err)
				}
			}
			return
		}
		if kind != websocket.TextMessage {
			s.logger.Debug("transport: non-text frame ignored", "kind", kind)
			continue
		}
		if !h(string(data)) {
			s.logger.Debug("transport: socket envelope not handled")
		}
	}
}
