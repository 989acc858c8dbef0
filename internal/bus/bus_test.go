package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sosnairobi/aidlink-server/internal/log"
)

func newTestBus(t *testing.T) *Memory {
	t.Helper()

	b := NewMemory(log.Discard())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var got []string
	for i := 0; i < 3; i++ {
		b.Subscribe(TopicRequestsNew, func(_ context.Context, env Envelope) error {
			mu.Lock()
			got = append(got, env.ID)
			mu.Unlock()
			return nil
		})
	}

	env, err := NewEnvelope(KindRequestNew, RequestNew{RequestID: "r1", Category: "Medical"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := b.Publish(context.Background(), TopicRequestsNew, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 3 deliveries, got %d", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := newTestBus(t)

	delivered := make(chan Envelope, 1)
	b.Subscribe(TopicVolunteersStatus, func(_ context.Context, env Envelope) error {
		delivered <- env
		return nil
	})

	env, err := NewEnvelope(KindRequestNew, RequestNew{RequestID: "r1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := b.Publish(context.Background(), TopicRequestsNew, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case env := <-delivered:
		t.Fatalf("unexpected delivery on other topic: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewMemory(log.Discard())
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	env, err := NewEnvelope(KindSystemNotice, SystemNotice{Recipient: "volunteer:v1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := b.Publish(context.Background(), TopicNotificationsSystem, env); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := newTestBus(t)

	release := make(chan struct{})
	b.Subscribe(TopicRequestsNew, func(_ context.Context, _ Envelope) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberQueueSize*2; i++ {
			env, err := NewEnvelope(KindRequestNew, RequestNew{RequestID: "r"})
			if err != nil {
				t.Errorf("new envelope: %v", err)
				return
			}
			if err := b.Publish(context.Background(), TopicRequestsNew, env); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a stalled subscriber")
	}
	close(release)
}

func TestDecodeIntoChecksKind(t *testing.T) {
	env, err := NewEnvelope(KindRequestNew, RequestNew{RequestID: "r1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	var out VolunteerStatus
	if err := DecodeInto(env, KindVolunteerStatus, &out); err == nil {
		t.Fatalf("expected kind mismatch error")
	}

	var req RequestNew
	if err := DecodeInto(env, KindRequestNew, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.RequestID != "r1" {
		t.Fatalf("unexpected payload %+v", req)
	}
}

func TestEnvelopeIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env, err := NewEnvelope(KindSystemNotice, SystemNotice{})
		if err != nil {
			t.Fatalf("new envelope: %v", err)
		}
		if seen[env.ID] {
			t.Fatalf("duplicate envelope ID %s", env.ID)
		}
		seen[env.ID] = true
	}
}
