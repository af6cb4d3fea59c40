// Package relay fans vehicle messages out to every other connected vehicle.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"v2v-service/internal/domain/v2v"
	"v2v-service/internal/metrics"
)

var (
	ErrNotRegistered = errors.New("vehicle not registered")
	ErrSessionClosed = errors.New("session closed")
)

// TransportError describes a failed delivery to one vehicle. The vehicle is
// dropped from the registry when one occurs.
type TransportError struct {
	VehicleID string
	TimedOut  bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("send to %s timed out: %v", e.VehicleID, e.Err)
	}
	return fmt.Sprintf("send to %s failed: %v", e.VehicleID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type BroadcastResult struct {
	Recipients int
	Delivered  []string
	Failed     []*TransportError
}

type Options struct {
	SendTimeout      time.Duration
	HistorySize      int
	AnnouncePresence bool
}

type Relay struct {
	registry *Registry
	history  *History
	opts     Options
	metrics  *metrics.RelayMetrics
	log      zerolog.Logger
	now      func() time.Time
}

func New(opts Options, m *metrics.RelayMetrics, log zerolog.Logger) *Relay {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	return &Relay{
		registry: NewRegistry(),
		history:  NewHistory(opts.HistorySize),
		opts:     opts,
		metrics:  m,
		log:      log.With().Str("component", "relay").Logger(),
		now:      time.Now,
	}
}

func (r *Relay) Registry() *Registry { return r.registry }
func (r *Relay) History() *History { return r.history }

// Publish relays msg on behalf of senderID, which must be registered.
func (r *Relay) Publish(ctx context.Context, senderID string, msg v2v.Relayable) (BroadcastResult, error) {
	return r.dispatch(ctx, senderID, nil, msg)
}

// dispatch stamps and relays msg. With a non-nil conn the sender must still
// be registered on that connection when the recipients are chosen.
func (r *Relay) dispatch(ctx context.Context, senderID string, conn Conn, msg v2v.Relayable) (BroadcastResult, error) {
	targets, ok := r.registry.Recipients(senderID, conn)
	if !ok {
		return BroadcastResult{}, fmt.Errorf("%w: %s", ErrNotRegistered, senderID)
	}

	stamped := msg.Stamp(senderID, r.now())
	r.history.Append(stamped)
	r.metrics.ObserveRelayed(string(stamped.Type))

	event := r.log.Info().
		Str("sender", senderID).
		Str("type", string(stamped.Type)).
		Str("message", stamped.Text)
	if stamped.MentionsDistance() {
		event.Msg("distance-aware alert")
	} else {
		event.Msg("broadcasting message")
	}

	return r.deliver(ctx, senderID, stamped, targets), nil
}

// Broadcast delivers msg to every registered vehicle except senderID. Failed
// recipients are dropped; the others are unaffected.
func (r *Relay) Broadcast(ctx context.Context, senderID string, msg v2v.Message) BroadcastResult {
	return r.deliver(ctx, senderID, msg, r.registry.Others(senderID))
}

func (r *Relay) deliver(ctx context.Context, senderID string, msg v2v.Message, targets []Vehicle) BroadcastResult {
	if len(targets) == 0 {
		r.log.Warn().Str("sender", senderID).Msg("no other vehicles to receive message")
		return BroadcastResult{}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Str("sender", senderID).Msg("failed to encode message")
		return BroadcastResult{}
	}

	start := time.Now()
	result := r.fanOut(ctx, targets, payload)
	r.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	return result
}

func (r *Relay) fanOut(ctx context.Context, targets []Vehicle, payload []byte) BroadcastResult {
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, v := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.send(ctx, v.Conn, payload)
		}()
	}
	wg.Wait()

	result := BroadcastResult{Recipients: len(targets)}
	for i, v := range targets {
		if errs[i] == nil {
			result.Delivered = append(result.Delivered, v.ID)
			r.metrics.ObserveDelivery(nil, false)
			r.log.Debug().Str("vehicle_id", v.ID).Msg("message delivered")
			continue
		}
		terr := &TransportError{VehicleID: v.ID, TimedOut: isTimeout(errs[i]), Err: errs[i]}
		result.Failed = append(result.Failed, terr)
		r.metrics.ObserveDelivery(terr.Err, terr.TimedOut)
		r.drop(v, terr)
	}
	return result
}

// send bounds one delivery by SendTimeout alone. Cancelling the caller's
// context must not fail a healthy recipient.
func (r *Relay) send(ctx context.Context, conn Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.SendTimeout)
	defer cancel()
	return conn.Send(ctx, payload)
}

func (r *Relay) sendJSON(ctx context.Context, conn Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.send(ctx, conn, payload)
}

func (r *Relay) drop(v Vehicle, cause *TransportError) {
	r.log.Warn().Err(cause.Err).
		Str("vehicle_id", v.ID).
		Bool("timeout", cause.TimedOut).
		Msg("vehicle connection lost")

	if !r.unregister(v.ID, v.Conn) {
		return
	}
	if err := v.Conn.Close(); err != nil {
		r.log.Debug().Err(err).Str("vehicle_id", v.ID).Msg("close after failed send")
	}
	r.announce(context.Background(), v.ID, fmt.Sprintf("%s left the V2V network", v.ID))
}

// unregister is the single removal path for vehicles.
func (r *Relay) unregister(id string, conn Conn) bool {
	if !r.registry.Unregister(id, conn) {
		return false
	}
	remaining := r.registry.Count()
	r.metrics.SetConnected(remaining)
	r.log.Info().Str("vehicle_id", id).Int("remaining", remaining).Msg("vehicle disconnected")
	return true
}

// announce sends a system notice to everyone except exceptID when presence
// announcements are enabled.
func (r *Relay) announce(ctx context.Context, exceptID, text string) {
	if !r.opts.AnnouncePresence {
		return
	}
	targets := r.registry.Others(exceptID)
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(v2v.Notice(text, r.now()))
	if err != nil {
		return
	}
	r.fanOut(ctx, targets, payload)
}

// Shutdown closes every registered connection and empties the registry.
func (r *Relay) Shutdown() {
	vehicles := r.registry.Drain()
	for _, v := range vehicles {
		if err := v.Conn.Close(); err != nil {
			r.log.Debug().Err(err).Str("vehicle_id", v.ID).Msg("close on shutdown")
		}
	}
	r.metrics.SetConnected(0)
	r.log.Info().Int("closed", len(vehicles)).Msg("relay shut down")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
