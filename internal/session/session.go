// Package session coordinates chat session lifecycle: creation from
// assignments, token authentication, TTL expiry and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/metrics"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

// Party roles inside a session.
const (
	RoleRequester = "requester"
	RoleVolunteer = "volunteer"
)

var (
	// ErrUnauthorized is returned when a token does not open the room.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired is returned when the room's TTL has passed.
	ErrSessionExpired = errors.New("session expired")
)

// Session is one live chat room. Tokens are per-party; presenting one proves
// the caller is that party, there is no other identity inside the room.
type Session struct {
	RoomID       string
	AssignmentID string
	RequestID    string
	VolunteerID  string
	ExpiresAt    time.Time

	roles map[string]string // token -> role
}

// TeardownFunc is invoked when a session ends so the chat layer can
// disconnect any remaining participants. reason is a system code.
type TeardownFunc func(roomID, reason string)

// Coordinator owns the session table.
type Coordinator struct {
	store  store.Store
	bus    bus.Bus
	ttl    time.Duration
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	teardown TeardownFunc
}

// NewCoordinator creates the coordinator. Call Start to begin consuming
// assignments and sweeping expired sessions.
func NewCoordinator(s store.Store, b bus.Bus, ttl time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    s,
		bus:      b,
		ttl:      ttl,
		logger:   logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
	}
}

// SetTeardownFunc registers the chat-layer hook. Must be called before Start.
func (c *Coordinator) SetTeardownFunc(f TeardownFunc) {
	c.teardown = f
}

// Start subscribes to new assignments and runs the expiry sweeper until ctx
// is cancelled.
func (c *Coordinator) Start(ctx context.Context, sweepInterval time.Duration) {
	c.bus.Subscribe(bus.TopicAssignmentsCreate, c.handleAssignment)

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// handleAssignment opens a room for the assignment and tells each party,
// separately, how to join it. Idempotent on room ID, so redelivery is safe.
func (c *Coordinator) handleAssignment(ctx context.Context, env bus.Envelope) error {
	var msg bus.AssignmentCreated
	if err := bus.DecodeInto(env, bus.KindAssignmentCreated, &msg); err != nil {
		return err
	}

	sess := &Session{
		RoomID:       msg.AssignmentID,
		AssignmentID: msg.AssignmentID,
		RequestID:    msg.RequestID,
		VolunteerID:  msg.VolunteerID,
		ExpiresAt:    time.Now().UTC().Add(c.ttl),
		roles: map[string]string{
			msg.RequesterToken: RoleRequester,
			msg.VolunteerToken: RoleVolunteer,
		},
	}

	c.mu.Lock()
	if _, dup := c.sessions[sess.RoomID]; dup {
		c.mu.Unlock()
		return nil
	}
	c.sessions[sess.RoomID] = sess
	c.mu.Unlock()
	metrics.SessionsActive.Inc()

	for recipient, token := range map[string]string{
		"requester:" + msg.RequestID:   msg.RequesterToken,
		"volunteer:" + msg.VolunteerID: msg.VolunteerToken,
	} {
		env, err := bus.NewEnvelope(bus.KindSessionEstablished, bus.SessionEstablished{
			Recipient:    recipient,
			RoomID:       sess.RoomID,
			AssignmentID: sess.AssignmentID,
			Token:        token,
			ExpiresAt:    sess.ExpiresAt,
		})
		if err != nil {
			return err
		}
		if err := c.bus.Publish(ctx, bus.TopicSessionsEstablish, env); err != nil {
			return fmt.Errorf("announce session: %w", err)
		}
	}

	c.logger.Info().
		Str("room_id", sess.RoomID).
		Str("request_id", sess.RequestID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session established")
	return nil
}

// Authenticate resolves a token against a room. Expired rooms reject even
// valid tokens; the sweeper will collect them shortly.
func (c *Coordinator) Authenticate(roomID, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[roomID]
	if !ok {
		return "", ErrUnauthorized
	}
	if time.Now().UTC().After(sess.ExpiresAt) {
		return "", ErrSessionExpired
	}
	role, ok := sess.roles[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return role, nil
}

// Lookup returns the session for a room, if it is still live.
func (c *Coordinator) Lookup(roomID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[roomID]
	if !ok || time.Now().UTC().After(sess.ExpiresAt) {
		return nil, false
	}
	return sess, true
}

// Close ends a session on request of a participant. The volunteer returns to
// the pool and the request is closed for good.
func (c *Coordinator) Close(ctx context.Context, roomID string) error {
	c.mu.Lock()
	sess, ok := c.sessions[roomID]
	if ok {
		delete(c.sessions, roomID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.SessionsActive.Dec()
	return c.finish(ctx, sess, bus.NoticeSessionClosed)
}

// sweep collects sessions past their TTL.
func (c *Coordinator) sweep(ctx context.Context) {
	now := time.Now().UTC()

	c.mu.Lock()
	var expired []*Session
	for id, sess := range c.sessions {
		if now.After(sess.ExpiresAt) {
			expired = append(expired, sess)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, sess := range expired {
		metrics.SessionsActive.Dec()
		metrics.SessionsExpired.Inc()
		if err := c.finish(ctx, sess, bus.NoticeSessionExpired); err != nil {
			c.logger.Error().Err(err).
				Str("room_id", sess.RoomID).
				Msg("expiry teardown failed")
		}
	}
}

// finish releases the volunteer, closes the request and notifies both
// parties. Chat relay and map state converge on the session being gone.
func (c *Coordinator) finish(ctx context.Context, sess *Session, reason string) error {
	if c.teardown != nil {
		c.teardown(sess.RoomID, reason)
	}

	released, err := c.store.ReleaseVolunteer(ctx, sess.VolunteerID)
	if err != nil {
		return fmt.Errorf("release volunteer: %w", err)
	}
	if err := c.store.MarkRequestClosed(ctx, sess.RequestID); err != nil {
		return fmt.Errorf("close request: %w", err)
	}

	// The status announcement is what lets the dispatcher revisit requests
	// parked for review. Skipped if the volunteer went offline meanwhile.
	if released {
		env, err := bus.NewEnvelope(bus.KindVolunteerStatus, bus.VolunteerStatus{
			VolunteerID:  sess.VolunteerID,
			Availability: string(store.AvailabilityAvailable),
			At:           time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := c.bus.Publish(ctx, bus.TopicVolunteersStatus, env); err != nil {
			return fmt.Errorf("announce release: %w", err)
		}
	}

	for _, recipient := range []string{
		"requester:" + sess.RequestID,
		"volunteer:" + sess.VolunteerID,
	} {
		env, err := bus.NewEnvelope(bus.KindSystemNotice, bus.SystemNotice{
			Recipient: recipient,
			Code:      reason,
			Message:   "chat session ended",
			At:        time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if err := c.bus.Publish(ctx, bus.TopicNotificationsSystem, env); err != nil {
			return fmt.Errorf("announce teardown: %w", err)
		}
	}

	c.logger.Info().
		Str("room_id", sess.RoomID).
		Str("reason", reason).
		Msg("session ended")
	return nil
}
