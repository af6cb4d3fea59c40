package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"v2v-service/internal/domain/v2v"
)

type State int

const (
	StateConnecting State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the relay's view of one vehicle connection. Handle and Close are
// called from the connection's reader goroutine.
type Session struct {
	ID     string
	relay  *Relay
	conn   Conn
	log    zerolog.Logger
	mu     sync.Mutex
	closed bool
	// vehicleID is the last ID this connection registered under.
	vehicleID string
}

func (r *Relay) NewSession(conn Conn, remoteAddr string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:    id,
		relay: r,
		conn:  conn,
		log: r.log.With().
			Str("session_id", id).
			Str("remote_addr", remoteAddr).
			Logger(),
	}
}

// State reports where the connection is in its lifecycle. A session whose
// vehicle ID was taken over by a newer connection is no longer registered.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return StateClosed
	case s.vehicleID != "" && s.relay.registry.Owns(s.vehicleID, s.conn):
		return StateRegistered
	default:
		return StateConnecting
	}
}

func (s *Session) VehicleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.vehicleID
}

// Handle processes one inbound frame. Errors are returned for the caller's
// information only; the connection stays usable after any of them.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	in, err := v2v.Decode(raw)
	if err != nil {
		s.reject(ctx, err, raw)
		return err
	}

	switch msg := in.(type) {
	case v2v.Register:
		return s.register(ctx, msg)
	case v2v.Relayable:
		return s.relayMessage(ctx, msg)
	default:
		err := fmt.Errorf("%w: %T", v2v.ErrUnknownType, in)
		s.reject(ctx, err, raw)
		return err
	}
}

func (s *Session) register(ctx context.Context, msg v2v.Register) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	previous := s.vehicleID
	renamed := previous != "" && previous != msg.VehicleID && s.relay.registry.Owns(previous, s.conn)
	s.vehicleID = msg.VehicleID
	count, replaced := s.relay.registry.Register(msg.VehicleID, s.conn)
	s.mu.Unlock()

	s.relay.metrics.SetConnected(count)
	if replaced != nil {
		s.log.Warn().Str("vehicle_id", msg.VehicleID).Msg("vehicle re-registered, replacing previous connection")
	}
	if renamed {
		s.log.Info().Str("vehicle_id", msg.VehicleID).Str("previous_id", previous).Msg("vehicle renamed")
		s.relay.announce(ctx, msg.VehicleID, fmt.Sprintf("%s left the V2V network", previous))
	}
	s.log.Info().Str("vehicle_id", msg.VehicleID).Int("total", count).Msg("vehicle connected")

	if err := s.relay.sendJSON(ctx, s.conn, v2v.Welcome(msg.VehicleID, count, s.relay.now())); err != nil {
		s.log.Warn().Err(err).Str("vehicle_id", msg.VehicleID).Msg("failed to send welcome")
	}

	if previous != msg.VehicleID {
		s.relay.announce(ctx, msg.VehicleID, fmt.Sprintf("%s joined the V2V network", msg.VehicleID))
	}
	return nil
}

func (s *Session) relayMessage(ctx context.Context, msg v2v.Relayable) error {
	s.mu.Lock()
	id, closed := s.vehicleID, s.closed
	s.mu.Unlock()

	if !closed && id != "" {
		s.relay.registry.Touch(id, s.conn)
		if _, err := s.relay.dispatch(ctx, id, s.conn, msg); err == nil {
			return nil
		}
	}

	err := fmt.Errorf("%w: register before sending %s", ErrNotRegistered, msg.Kind)
	s.reject(ctx, err, nil)
	return err
}

func (s *Session) reject(ctx context.Context, err error, raw []byte) {
	if errors.Is(err, v2v.ErrUnknownType) {
		s.relay.metrics.ObserveRejected("unknown_type")
		s.log.Warn().Err(err).Str("vehicle_id", s.VehicleID()).Bytes("raw", truncate(raw)).Msg("unknown message type")
		return
	}

	reason := "malformed"
	if errors.Is(err, ErrNotRegistered) {
		reason = "unregistered"
	}
	s.relay.metrics.ObserveRejected(reason)
	s.log.Error().Err(err).Str("vehicle_id", s.VehicleID()).Bytes("raw", truncate(raw)).Msg("invalid message")

	if sendErr := s.relay.sendJSON(ctx, s.conn, v2v.Rejection(err, s.relay.now())); sendErr != nil {
		s.log.Debug().Err(sendErr).Msg("failed to send rejection")
	}
}

// Close unregisters the session's vehicle. Only the first call has any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	id := s.vehicleID
	s.mu.Unlock()

	if id == "" {
		s.log.Debug().Msg("connection closed before registering")
		return
	}
	if s.relay.unregister(id, s.conn) {
		s.relay.announce(context.Background(), id, fmt.Sprintf("%s left the V2V network", id))
	}
}

func truncate(raw []byte) []byte {
	const maxLogged = 256
	if len(raw) > maxLogged {
		return raw[:maxLogged]
	}
	return raw
}
