package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type TransportOptions struct {
	PingInterval    time.Duration
	PingTimeout     time.Duration
	MaxMessageBytes int64
}

// Transport accepts vehicle websocket connections and feeds them to a Relay.
type Transport struct {
	relay    *Relay
	opts     TransportOptions
	upgrader websocket.Upgrader
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewTransport(r *Relay, opts TransportOptions, log zerolog.Logger) *Transport {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 10 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	return &Transport{
		relay: r,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Allow all origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	t.wg.Add(1)
	defer t.wg.Done()

	conn := newWSConn(ws)
	session := t.relay.NewSession(conn, r.RemoteAddr)
	t.serve(r.Context(), session, conn)
}

// Wait blocks until every connection handler has returned.
func (t *Transport) Wait() {
	t.wg.Wait()
}

func (t *Transport) serve(ctx context.Context, session *Session, conn *wsConn) {
	defer session.Close()
	defer conn.Close()

	idle := t.opts.PingInterval + t.opts.PingTimeout
	ws := conn.ws
	ws.SetReadLimit(t.opts.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idle))
	})

	done := make(chan struct{})
	defer close(done)
	go t.keepalive(conn, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.logReadError(session, err)
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return
		}
		// Errors are logged by the session and never end the connection.
		_ = session.Handle(ctx, data)
	}
}

func (t *Transport) keepalive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(t.opts.PingTimeout); err != nil {
				t.log.Debug().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (t *Transport) logReadError(session *Session, err error) {
	event := t.log.Warn()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent) {
		event = t.log.Info()
	}
	event.Err(err).
		Str("session_id", session.ID).
		Str("vehicle_id", session.VehicleID()).
		Msg("connection closed")
}

// wsConn serialises writes to a gorilla connection, which allows only one
// concurrent writer.
type wsConn struct {
	ws        *websocket.Conn
	writeSem  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:       ws,
		writeSem: make(chan struct{}, 1),
	}
}

func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.writeSem }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping(timeout time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
