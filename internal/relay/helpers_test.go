package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"v2v-service/internal/metrics"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeConn records every payload sent to it.
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	block   bool
	closed  int
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.block {
		c.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

// ofType filters decoded messages by their type field.
func ofType(msgs []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func newTestRelay(t *testing.T, opts Options) *Relay {
	t.Helper()
	if opts.SendTimeout == 0 {
		opts.SendTimeout = time.Second
	}
	return New(opts, metrics.NewUnregistered().Relay, zerolog.Nop())
}

func registerVehicle(t *testing.T, r *Relay, id string) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s := r.NewSession(conn, "test")
	require.NoError(t, s.Handle(context.Background(), []byte(`{"type":"register","vehicle_id":"`+id+`"}`)))
	return s, conn
}
