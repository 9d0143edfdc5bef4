package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStateStore_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(ctx, 0, nil)

	st := &AuthorizationState{
		State:     "state-1",
		Verifier:  "verifier-1",
		Redirect:  "https://fetchfloww.workfloww.ai/dashboard",
		ExpiresAt: time.Now().Add(DefaultStateTTL),
	}
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got.Verifier != "verifier-1" || got.Redirect != st.Redirect {
		t.Errorf("unexpected state: %+v", got)
	}

	if _, err := store.Consume(ctx, "state-1"); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("second Consume() error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryStateStore_Expired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(ctx, 0, nil)

	_ = store.Save(ctx, &AuthorizationState{State: "old", ExpiresAt: time.Now().Add(-time.Second)})

	if _, err := store.Consume(ctx, "old"); !errors.Is(err, ErrStateExpired) {
		t.Errorf("Consume() error = %v, want ErrStateExpired", err)
	}
	if store.Len() != 0 {
		t.Error("expired state should be removed on consume")
	}
}

func TestMemoryStateStore_RemoveExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(ctx, 0, nil)

	_ = store.Save(ctx, &AuthorizationState{State: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	_ = store.Save(ctx, &AuthorizationState{State: "new", ExpiresAt: time.Now().Add(time.Minute)})

	if n := store.removeExpired(); n != 1 {
		t.Errorf("removeExpired() = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStateStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore(ctx, 0, nil)
	_ = store.Save(ctx, &AuthorizationState{State: "race", ExpiresAt: time.Now().Add(time.Minute)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful consume, got %d", wins)
	}
}

func TestMemoryStateStore_CleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStateStore(ctx, 10*time.Millisecond, nil)
	_ = store.Save(ctx, &AuthorizationState{State: "old", ExpiresAt: time.Now().Add(-time.Minute)})

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if store.Len() != 0 {
		t.Error("cleanup loop did not remove the expired state")
	}
}
