package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/discoveryd/pkg/models"
)

func TestPublishDeliversToMatchingSubscriptionOnly(t *testing.T) {
	bus := New(nil, 10)

	var mu sync.Mutex
	var delivered []models.EventType

	filter := &models.Filter{
		EventTypes:  map[models.EventType]struct{}{models.EventDeviceDiscovered: {}},
		MinPriority: models.PriorityHigh,
	}
	id, unsub := bus.Subscribe(func(ctx context.Context, e models.Event) {
		mu.Lock()
		delivered = append(delivered, e.Type)
		mu.Unlock()
	}, filter)
	defer unsub()

	if id == "" {
		t.Fatal("Subscribe returned empty id")
	}

	ctx := context.Background()
	bus.Publish(ctx, models.NewEvent(models.EventDeviceLost, "test", models.PriorityCritical, nil))
	bus.Publish(ctx, models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityNormal, nil))
	bus.Publish(ctx, models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityHigh, nil))

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != models.EventDeviceDiscovered {
		t.Fatalf("expected exactly one device.discovered delivery, got %v", delivered)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New(nil, 10)
	_, unsub := bus.Subscribe(func(ctx context.Context, e models.Event) {}, nil)

	if ok := unsub(); !ok {
		t.Fatal("first Unsubscribe must return true")
	}
	if ok := unsub(); ok {
		t.Fatal("second Unsubscribe of the same id must return false")
	}
}

func TestHistoryCappedAtMaxHistory(t *testing.T) {
	bus := New(nil, 5)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		bus.Publish(ctx, models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityNormal, nil))
	}

	stats, _ := bus.GetStatistics()
	if stats.HistorySize != 5 {
		t.Fatalf("expected history size capped at 5, got %d", stats.HistorySize)
	}
	if stats.TotalPublished != 20 {
		t.Fatalf("expected total published 20, got %d", stats.TotalPublished)
	}
}

func TestShutdownClearsSubscriptionsAndHistory(t *testing.T) {
	bus := New(nil, 10)
	bus.Subscribe(func(ctx context.Context, e models.Event) {}, nil)
	bus.Publish(context.Background(), models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityNormal, nil))

	bus.Shutdown()

	n := bus.Publish(context.Background(), models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityNormal, nil))
	if n != 0 {
		t.Fatalf("expected Publish after Shutdown to deliver 0, got %d", n)
	}

	stats, subs := bus.GetStatistics()
	if stats.Subscriptions != 0 || len(subs) != 0 {
		t.Fatalf("expected no subscriptions after Shutdown, got %d", stats.Subscriptions)
	}
}

func TestSubscriptionTracksEventCountAndLastEventTime(t *testing.T) {
	bus := New(nil, 10)
	id, _ := bus.Subscribe(func(ctx context.Context, e models.Event) {}, nil)

	before := time.Now()
	bus.Publish(context.Background(), models.NewEvent(models.EventDeviceDiscovered, "test", models.PriorityNormal, nil))

	_, subs := bus.GetStatistics()
	var found *SubscriptionInfo
	for i := range subs {
		if subs[i].ID == id {
			found = &subs[i]
		}
	}
	if found == nil {
		t.Fatal("subscription not found in statistics")
	}
	if found.EventCount != 1 {
		t.Fatalf("expected event_count 1, got %d", found.EventCount)
	}
	if found.LastEvent.Before(before) {
		t.Fatal("expected last_event_time to be updated after delivery")
	}
}
