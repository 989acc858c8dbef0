// Package notify fans bus notifications out to connected clients. Every
// message is addressed to exactly one identity; there is no broadcast path.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/metrics"
	"github.com/sosnairobi/aidlink-server/internal/proto"
)

const subscriberQueueSize = 16

// Subscriber is one connected notification stream. Out is drained by the
// websocket transport and closed on Detach or replacement.
type Subscriber struct {
	Identity string
	Out      chan proto.Notification
}

// Router delivers scoped notifications to whichever identities are connected.
// Messages for absent identities are dropped and counted; the durable state
// (assignments, sessions) is the source of truth, not the stream.
type Router struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// NewRouter creates the router. Call Start to begin consuming topics.
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		logger: logger.With().Str("component", "notify").Logger(),
		subs:   make(map[string]*Subscriber),
	}
}

// Start subscribes the router to session establishment and system notices.
func (r *Router) Start(b bus.Bus) {
	b.Subscribe(bus.TopicSessionsEstablish, r.handleSessionEstablished)
	b.Subscribe(bus.TopicNotificationsSystem, r.handleSystemNotice)
}

// Attach opens a stream for an identity. A second connection for the same
// identity replaces the first; the old stream is closed.
func (r *Router) Attach(identity string) *Subscriber {
	sub := &Subscriber{
		Identity: identity,
		Out:      make(chan proto.Notification, subscriberQueueSize),
	}

	r.mu.Lock()
	if old, ok := r.subs[identity]; ok {
		close(old.Out)
	}
	r.subs[identity] = sub
	r.mu.Unlock()

	r.logger.Debug().Str("identity", identity).Msg("notification stream attached")
	return sub
}

// Detach closes the identity's stream if sub is still the active one.
func (r *Router) Detach(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.subs[sub.Identity]; ok && current == sub {
		delete(r.subs, sub.Identity)
		close(sub.Out)
	}
}

func (r *Router) handleSessionEstablished(_ context.Context, env bus.Envelope) error {
	var msg bus.SessionEstablished
	if err := bus.DecodeInto(env, bus.KindSessionEstablished, &msg); err != nil {
		return err
	}
	r.deliver(msg.Recipient, proto.Notification{
		Type: proto.NotifyTypeSession,
		Session: &proto.SessionData{
			RoomID:    msg.RoomID,
			Token:     msg.Token,
			ExpiresAt: msg.ExpiresAt.Unix(),
		},
	}, "session")
	return nil
}

func (r *Router) handleSystemNotice(_ context.Context, env bus.Envelope) error {
	var msg bus.SystemNotice
	if err := bus.DecodeInto(env, bus.KindSystemNotice, &msg); err != nil {
		return err
	}
	r.deliver(msg.Recipient, proto.Notification{
		Type:   proto.NotifyTypeSystem,
		System: &proto.SystemData{Code: msg.Code, Msg: msg.Message},
	}, "system")
	return nil
}

func (r *Router) deliver(identity string, n proto.Notification, kind string) {
	r.mu.Lock()
	sub, ok := r.subs[identity]
	r.mu.Unlock()

	if !ok {
		metrics.NotificationsDropped.Inc()
		r.logger.Debug().
			Str("identity", identity).
			Str("kind", kind).
			Msg("recipient not connected, notification dropped")
		return
	}

	select {
	case sub.Out <- n:
		metrics.NotificationDeliveries.WithLabelValues(kind).Inc()
	default:
		metrics.NotificationsDropped.Inc()
		r.logger.Warn().
			Str("identity", identity).
			Str("kind", kind).
			Msg("subscriber queue full, notification dropped")
	}
}
