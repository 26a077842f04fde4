package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

type fakeLive struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      map[string][][]byte
	sendErr   error
}

func newFakeLive() *fakeLive {
	return &fakeLive{connected: make(map[string]bool), sent: make(map[string][][]byte)}
}

func (f *fakeLive) IsConnected(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[userID]
}

func (f *fakeLive) Send(userID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[userID] = append(f.sent[userID], payload)
	return nil
}

func (f *fakeLive) payloads(userID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[userID]
}

type fakePush struct {
	mu     sync.Mutex
	pushed map[string][][]byte
}

func newFakePush() *fakePush {
	return &fakePush{pushed: make(map[string][][]byte)}
}

func (f *fakePush) Push(_ context.Context, userID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[userID] = append(f.pushed[userID], payload)
	return nil
}

func (f *fakePush) payloads(userID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed[userID]
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("dispatcher shutdown: %v", err)
	}
}

func TestDispatcherPrefersLiveDelivery(t *testing.T) {
	live := newFakeLive()
	push := newFakePush()
	live.connected["creator-1"] = true

	d := NewDispatcher(DispatcherConfig{Live: live, Push: push, Workers: 1})
	d.VideoAvailable(context.Background(), models.Video{ID: "v-1", CreatorID: "creator-1", Title: "clip"})
	drain(t, d)

	payloads := live.payloads("creator-1")
	if len(payloads) != 1 {
		t.Fatalf("expected one live delivery, got %d", len(payloads))
	}
	var event Event
	if err := json.Unmarshal(payloads[0], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventVideoAvailable || event.VideoID != "v-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(push.payloads("creator-1")) != 0 {
		t.Fatal("connected user must not receive web push")
	}
}

func TestDispatcherFallsBackToPush(t *testing.T) {
	live := newFakeLive()
	push := newFakePush()

	d := NewDispatcher(DispatcherConfig{Live: live, Push: push, Workers: 1})
	d.VideoFailed(context.Background(), models.Video{ID: "v-1", CreatorID: "creator-1"}, "source unreadable")
	drain(t, d)

	payloads := push.payloads("creator-1")
	if len(payloads) != 1 {
		t.Fatalf("expected one push delivery, got %d", len(payloads))
	}
	var event Event
	if err := json.Unmarshal(payloads[0], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventVideoFailed {
		t.Fatalf("unexpected event type %q", event.Type)
	}
}

func TestDispatcherTrendingEvent(t *testing.T) {
	live := newFakeLive()
	live.connected["creator-1"] = true

	d := NewDispatcher(DispatcherConfig{Live: live, Workers: 1})
	d.VideoTrending(context.Background(), models.TrendingEntry{VideoID: "v-1", CreatorID: "creator-1", Score: 12})
	drain(t, d)

	payloads := live.payloads("creator-1")
	if len(payloads) != 1 {
		t.Fatalf("expected one delivery, got %d", len(payloads))
	}
	var event Event
	if err := json.Unmarshal(payloads[0], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventVideoTrending {
		t.Fatalf("unexpected event type %q", event.Type)
	}
}

func TestDispatcherIgnoresEmptyUser(t *testing.T) {
	push := newFakePush()
	d := NewDispatcher(DispatcherConfig{Push: push, Workers: 1})
	d.Notify("", Event{Type: EventVideoAvailable})
	drain(t, d)

	if len(push.pushed) != 0 {
		t.Fatal("empty user must be dropped")
	}
}

func TestDispatcherNotifyAfterShutdownIsNoOp(t *testing.T) {
	push := newFakePush()
	d := NewDispatcher(DispatcherConfig{Push: push, Workers: 1})
	drain(t, d)

	// Must not panic or deliver.
	d.Notify("creator-1", Event{Type: EventVideoAvailable})
	if len(push.payloads("creator-1")) != 0 {
		t.Fatal("no delivery expected after shutdown")
	}
}
