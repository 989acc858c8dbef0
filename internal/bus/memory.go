package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const subscriberQueueSize = 64

type memorySub struct {
	ch      chan Envelope
	handler Handler
}

// Memory is the in-process Bus used in the single-node deployment and in
// tests. Each subscriber owns a buffered queue drained by its own goroutine,
// so a slow handler never blocks publishers or sibling subscribers.
type Memory struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewMemory creates an in-process bus.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		logger: logger.With().Str("component", "bus").Logger(),
		subs:   make(map[string][]*memorySub),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for a topic. Must be called before the bus
// starts receiving traffic for that topic; subscriptions are not removable.
func (m *Memory) Subscribe(topic string, h Handler) {
	sub := &memorySub{
		ch:      make(chan Envelope, subscriberQueueSize),
		handler: h,
	}

	m.mu.Lock()
	m.subs[topic] = append(m.subs[topic], sub)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.drain(topic, sub)
}

func (m *Memory) drain(topic string, sub *memorySub) {
	defer m.wg.Done()
	for {
		select {
		case env := <-sub.ch:
			if err := sub.handler(context.Background(), env); err != nil {
				m.logger.Error().Err(err).
					Str("topic", topic).
					Str("message_id", env.ID).
					Str("kind", env.Kind).
					Msg("handler failed")
			}
		case <-m.done:
			return
		}
	}
}

// Publish enqueues the envelope for every subscriber of the topic. When a
// subscriber queue is full the send falls back to a detached goroutine, which
// keeps at-least-once delivery without stalling the publisher.
func (m *Memory) Publish(_ context.Context, topic string, env Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for _, sub := range m.subs[topic] {
		select {
		case sub.ch <- env:
		default:
			m.logger.Warn().
				Str("topic", topic).
				Str("message_id", env.ID).
				Msg("subscriber queue full, delivering asynchronously")
			m.wg.Add(1)
			go func(sub *memorySub) {
				defer m.wg.Done()
				select {
				case sub.ch <- env:
				case <-m.done:
				}
			}(sub)
		}
	}
	return nil
}

// Close stops delivery. Envelopes still queued are dropped; publishing after
// Close fails with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
