package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/techcortex/buildcheck/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SelectionChangedRoundTrip", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicSelectionChanged, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		event := domain.SelectionChanged{
			TenantID:  tenantID,
			BuildID:   "build-1",
			Selection: domain.Selection{"processor": {"cpu-1"}, "memory": {"ram-1", "ram-2"}},
		}
		if err := PublishJSON(ctx, bus, tenantID, domain.TopicSelectionChanged, event); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if msg.TenantID != tenantID {
			t.Errorf("expected tenantID '%s', got '%s'", tenantID, msg.TenantID)
		}
		if msg.Topic != domain.TopicSelectionChanged {
			t.Errorf("expected topic %s, got %s", domain.TopicSelectionChanged, msg.Topic)
		}

		var decoded domain.SelectionChanged
		if err := Decode(msg, &decoded); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if decoded.BuildID != "build-1" || len(decoded.Selection["memory"]) != 2 {
			t.Errorf("unexpected event: %+v", decoded)
		}
	})

	t.Run("DecodeRejectsGarbage", func(t *testing.T) {
		msg := &domain.Message{Topic: domain.TopicSelectionChanged, Payload: []byte("{not json")}
		var decoded domain.SelectionChanged
		if err := Decode(msg, &decoded); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", domain.TopicCatalogChanged, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicCatalogChanged, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicCatalogChanged, []byte("{}"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant1 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant2 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}

		bus.mu.RLock()
		_, stillIndexed := bus.subscriptions[subject(tenantID, "unsub.topic")]
		bus.mu.RUnlock()
		if stillIndexed {
			t.Error("unsubscribed topic still indexed")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, tenantID, domain.TopicValidationResult, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, tenantID, domain.TopicValidationResult, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, domain.TopicValidationResult, []byte("{}"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerErrorDoesNotStopDelivery", func(t *testing.T) {
		var count atomic.Int32
		bus.Subscribe(ctx, tenantID, "failing.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return errors.New("boom")
		})

		bus.Publish(ctx, tenantID, "failing.topic", nil)
		bus.Publish(ctx, tenantID, "failing.topic", nil)
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 2 {
			t.Errorf("expected 2 deliveries, got %d", count.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusPreservesOrder(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	bus.Subscribe(ctx, "tenant-001", domain.TopicSelectionChanged, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(msg.Payload))
		if len(seen) == 3 {
			close(done)
		}
		return nil
	})

	for _, p := range []string{"A", "B", "C"} {
		bus.Publish(ctx, "tenant-001", domain.TopicSelectionChanged, []byte(p))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "A" || seen[1] != "B" || seen[2] != "C" {
		t.Errorf("expected A B C, got %v", seen)
	}
}

func TestChannelBusFullBufferDrops(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	var count atomic.Int32

	bus.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-release
		count.Add(1)
		return nil
	})

	// The first message is taken by the handler, the second fills the
	// buffer, the rest are dropped.
	bus.Publish(ctx, "tenant-001", "slow.topic", nil)
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "tenant-001", "slow.topic", nil); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 2 {
		t.Errorf("expected 2 deliveries, got %d", count.Load())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "tenant-001"

	bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, tenantID, "close.topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	if got := subject("acme", domain.TopicSelectionChanged); got != "buildcheck.acme.selection.changed" {
		t.Errorf("unexpected subject %q", got)
	}
}
