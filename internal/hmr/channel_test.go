package hmr

import (
	"sync"
	"testing"
	"time"
)

func TestChannelBatchesRapidEventsDedupedByPath(t *testing.T) {
	c := New("framework", func(path string) (UpdateKind, bool) {
		return KindUpdate, true
	})
	c.batchWindow = 10 * time.Millisecond

	var mu sync.Mutex
	var delivered []HMRUpdate
	c.SetTarget(func(u HMRUpdate) {
		mu.Lock()
		delivered = append(delivered, u)
		mu.Unlock()
	})

	c.onEvent("/app/a.js")
	c.onEvent("/app/b.js")
	c.onEvent("/app/a.js")

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 {
		t.Fatalf("delivered %d updates, want 2 (deduped by path)", len(delivered))
	}
}

func TestChannelUnclassifiedPathForcesFullReload(t *testing.T) {
	c := New("vite", func(path string) (UpdateKind, bool) {
		return "", false
	})
	c.batchWindow = 5 * time.Millisecond

	done := make(chan HMRUpdate, 1)
	c.SetTarget(func(u HMRUpdate) { done <- u })

	c.onEvent("/app/weird.bin")

	select {
	case u := <-done:
		if u.Kind != KindFullReload {
			t.Fatalf("Kind = %q, want %q", u.Kind, KindFullReload)
		}
		if u.ChannelTag != "vite" {
			t.Fatalf("ChannelTag = %q, want %q", u.ChannelTag, "vite")
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestChannelResetsTimerOnNewEventsWithinWindow(t *testing.T) {
	c := New("framework", func(path string) (UpdateKind, bool) { return KindUpdate, true })
	c.batchWindow = 30 * time.Millisecond

	var deliveries int
	var mu sync.Mutex
	c.SetTarget(func(u HMRUpdate) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	})

	c.onEvent("/app/a.js")
	time.Sleep(15 * time.Millisecond)
	c.onEvent("/app/a.js") // resets the timer before it fires
	time.Sleep(15 * time.Millisecond)

	mu.Lock()
	got := deliveries
	mu.Unlock()
	if got != 0 {
		t.Fatalf("deliveries = %d before window elapses from the second event, want 0", got)
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	got = deliveries
	mu.Unlock()
	if got != 1 {
		t.Fatalf("deliveries = %d, want 1", got)
	}
}
