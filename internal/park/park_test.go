package park

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bizphone/internal/state"
)

func newManager(now *time.Time) *Manager {
	m := NewManager(state.NewMemoryStore(), 0)
	m.Now = func() time.Time { return *now }
	return m
}

func TestParkFillsLowestFreeSlot(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	if _, err := m.Park(ctx, "t1", Request{CallID: "CA2", Slot: 2}); err != nil {
		t.Fatalf("park slot 2: %v", err)
	}
	pc, err := m.Park(ctx, "t1", Request{CallID: "CA1"})
	if err != nil {
		t.Fatalf("park: %v", err)
	}
	if pc.Slot != 1 {
		t.Fatalf("expected slot 1, got %d", pc.Slot)
	}
	pc, _ = m.Park(ctx, "t1", Request{CallID: "CA3"})
	if pc.Slot != 3 {
		t.Fatalf("expected slot 3, got %d", pc.Slot)
	}
	if pc.Timeout != DefaultTimeout || !pc.ExpiresAt.Equal(now.Add(DefaultTimeout)) || pc.ID == "" {
		t.Fatalf("unexpected parked call: %+v", pc)
	}
}

func TestParkOccupiedSlotConflicts(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	_, _ = m.Park(ctx, "t1", Request{CallID: "CA1", Slot: 5})
	if _, err := m.Park(ctx, "t1", Request{CallID: "CA2", Slot: 5}); !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}
	// Another tenant's slot 5 is independent.
	if _, err := m.Park(ctx, "t2", Request{CallID: "CA3", Slot: 5}); err != nil {
		t.Fatalf("expected tenant isolation, got %v", err)
	}
}

func TestParkNoSlots(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	for i := 0; i < Slots; i++ {
		if _, err := m.Park(ctx, "t1", Request{CallID: "CA"}); err != nil {
			t.Fatalf("park %d: %v", i, err)
		}
	}
	if _, err := m.Park(ctx, "t1", Request{CallID: "CA11"}); !errors.Is(err, ErrNoSlots) {
		t.Fatalf("expected ErrNoSlots, got %v", err)
	}
}

func TestInvalidSlot(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	for _, slot := range []int{-1, 11} {
		if _, err := m.Park(ctx, "t1", Request{CallID: "CA1", Slot: slot}); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("park slot %d: expected ErrInvalidSlot, got %v", slot, err)
		}
	}
	for _, slot := range []int{0, 11} {
		if _, err := m.Retrieve(ctx, "t1", slot); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("retrieve slot %d: expected ErrInvalidSlot, got %v", slot, err)
		}
	}
}

func TestRetrieveRemovesEntry(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	parked, _ := m.Park(ctx, "t1", Request{CallID: "CA1", CallerNumber: "+15550001111", Slot: 4})
	got, err := m.Retrieve(ctx, "t1", 4)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.ID != parked.ID || got.CallID != "CA1" || got.CallerNumber != "+15550001111" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if _, err := m.Retrieve(ctx, "t1", 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second retrieve, got %v", err)
	}
}

func TestRetrieveAfterTTLIsNotFound(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	if _, err := m.Park(ctx, "t1", Request{CallID: "CA1", Slot: 3, Timeout: 60 * time.Second}); err != nil {
		t.Fatalf("park: %v", err)
	}
	now = now.Add(61 * time.Second)
	if _, err := m.Retrieve(ctx, "t1", 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestExpiredSlotCanBeReused(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	_, _ = m.Park(ctx, "t1", Request{CallID: "CA1", Slot: 1, Timeout: 10 * time.Second})
	now = now.Add(10 * time.Second)
	pc, err := m.Park(ctx, "t1", Request{CallID: "CA2", Slot: 1})
	if err != nil || pc.CallID != "CA2" {
		t.Fatalf("expected reuse of expired slot, got %+v %v", pc, err)
	}
}

func TestListAndRemoveCall(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	_, _ = m.Park(ctx, "t1", Request{CallID: "CA1", Slot: 7})
	_, _ = m.Park(ctx, "t1", Request{CallID: "CA2", Slot: 2, Timeout: 5 * time.Second})
	_, _ = m.Park(ctx, "t1", Request{CallID: "CA3", Slot: 9})

	now = now.Add(6 * time.Second)
	list, _ := m.List(ctx, "t1")
	if len(list) != 2 || list[0].Slot != 7 || list[1].Slot != 9 {
		t.Fatalf("unexpected list: %+v", list)
	}

	removed, err := m.RemoveCall(ctx, "t1", "CA3")
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	list, _ = m.List(ctx, "t1")
	if len(list) != 1 || list[0].CallID != "CA1" {
		t.Fatalf("unexpected list after removal: %+v", list)
	}
}

func TestConcurrentParkNeverDoubleBooks(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	m := newManager(&now)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		slots = map[int]int{}
		full  int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := m.Park(ctx, "t1", Request{CallID: "CA"})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrNoSlots) {
				full++
				return
			}
			if err != nil {
				t.Errorf("park: %v", err)
				return
			}
			slots[pc.Slot]++
		}()
	}
	wg.Wait()

	if len(slots) != Slots || full != 25-Slots {
		t.Fatalf("expected %d distinct slots and %d rejections, got %v / %d", Slots, 25-Slots, slots, full)
	}
	for s, n := range slots {
		if n != 1 {
			t.Fatalf("slot %d booked %d times", s, n)
		}
	}
}
