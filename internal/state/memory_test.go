package state

import (
	"context"
	"sync"
	"testing"
	"time"
)

type doc struct {
	N int `json:"n"`
}

func TestMemoryStore_LoadSaveDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var d doc
	ok, err := s.Load(ctx, "k", &d)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := s.Save(ctx, "k", doc{N: 7}, 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	ok, err = s.Load(ctx, "k", &d)
	if err != nil || !ok || d.N != 7 {
		t.Fatalf("unexpected load: ok=%v err=%v d=%+v", ok, err, d)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ = s.Load(ctx, "k", &d)
	if ok {
		t.Fatalf("expected deleted")
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s := NewMemoryStore()
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Save(ctx, "k", doc{N: 1}, 10*time.Second)
	now = now.Add(9 * time.Second)
	var d doc
	if ok, _ := s.Load(ctx, "k", &d); !ok {
		t.Fatalf("expected hit before ttl")
	}
	now = now.Add(time.Second)
	if ok, _ := s.Load(ctx, "k", &d); ok {
		t.Fatalf("expected miss at ttl")
	}
}

func TestMemoryStore_LockedSerializesReadModifyWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Locked(ctx, "counter", func(ctx context.Context) error {
				var d doc
				if _, err := s.Load(ctx, "counter", &d); err != nil {
					return err
				}
				d.N++
				return s.Save(ctx, "counter", d, 0)
			})
			if err != nil {
				t.Errorf("locked: %v", err)
			}
		}()
	}
	wg.Wait()

	var d doc
	_, _ = s.Load(ctx, "counter", &d)
	if d.N != 50 {
		t.Fatalf("expected 50 increments, got %d", d.N)
	}
}

func TestMemoryStore_LockedHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	hold := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Locked(context.Background(), "k", func(ctx context.Context) error {
			close(hold)
			<-release
			return nil
		})
	}()
	<-hold

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Locked(ctx, "k", func(ctx context.Context) error { return nil })
	close(release)
	if err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("park", "t1"); got != "park:t1" {
		t.Fatalf("unexpected key %q", got)
	}
}
