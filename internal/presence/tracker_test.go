package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"bizphone/internal/state"
)

func newTracker(now *time.Time) *Tracker {
	tr := NewTracker(state.NewMemoryStore())
	tr.Now = func() time.Time { return *now }
	return tr
}

func statusPtr(s Status) *Status { return &s }
func boolPtr(b bool) *bool       { return &b }

func TestGet_UnknownAgentIsOfflineNotError(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)

	p, err := tr.Get(context.Background(), "t1", "ghost")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.Status != StatusOffline || p.Registered {
		t.Fatalf("expected unregistered offline, got %+v", p)
	}
}

func TestSetAndListAvailable(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()

	_, _ = tr.Set(ctx, "t1", "b", Update{Status: statusPtr(StatusAvailable)})
	_, _ = tr.Set(ctx, "t1", "a", Update{Status: statusPtr(StatusAvailable)})
	_, _ = tr.Set(ctx, "t1", "c", Update{Status: statusPtr(StatusDND)})
	_, _ = tr.Set(ctx, "t1", "d", Update{Status: statusPtr(StatusAvailable), OnCall: boolPtr(true)})
	_, _ = tr.Set(ctx, "t2", "e", Update{Status: statusPtr(StatusAvailable)})

	got, err := tr.ListAvailable(ctx, "t1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected available list: %v", got)
	}

	p, _ := tr.Get(ctx, "t1", "a")
	if !p.Registered || !p.LastActivity.Equal(now) {
		t.Fatalf("expected registered with activity stamp, got %+v", p)
	}
}

func TestSetRejectsInvalidStatus(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	if _, err := tr.Set(context.Background(), "t1", "a", Update{Status: statusPtr("sleeping")}); err != ErrInvalidStatus {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestEndCallStartsWrapUp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()

	_, _ = tr.Set(ctx, "t1", "a", Update{Status: statusPtr(StatusAvailable)})
	_, _ = tr.StartCall(ctx, "t1", "a", "CA1")

	p, _ := tr.Get(ctx, "t1", "a")
	if p.Available(now, 0) {
		t.Fatalf("agent on call must not be available")
	}

	// Ending a different call leaves the agent alone.
	_, _ = tr.EndCall(ctx, "t1", "a", "CA2")
	p, _ = tr.Get(ctx, "t1", "a")
	if !p.OnCall {
		t.Fatalf("expected still on call")
	}

	_, _ = tr.EndCall(ctx, "t1", "a", "CA1")
	p, _ = tr.Get(ctx, "t1", "a")
	if p.OnCall {
		t.Fatalf("expected call ended")
	}
	if p.Available(now.Add(10*time.Second), 30*time.Second) {
		t.Fatalf("expected wrap-up to block availability")
	}
	if !p.Available(now.Add(30*time.Second), 30*time.Second) {
		t.Fatalf("expected available after wrap-up")
	}
}

func TestClaimIsExclusive(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()
	_, _ = tr.Set(ctx, "t1", "a", Update{Status: statusPtr(StatusAvailable)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := tr.Claim(ctx, "t1", "a", "call", 0)
			if err != nil {
				t.Errorf("claim: %v", err)
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", wins)
	}
}

func TestEndCallAll(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()

	_, _ = tr.StartCall(ctx, "t1", "a", "CA1")
	_, _ = tr.StartCall(ctx, "t1", "b", "CA1")
	_, _ = tr.StartCall(ctx, "t1", "c", "CA2")

	if err := tr.EndCallAll(ctx, "t1", "CA1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	snap, _ := tr.Snapshot(ctx, "t1")
	if snap["a"].OnCall || snap["b"].OnCall || !snap["c"].OnCall {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestReleaseSkipsWrapUp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()
	_, _ = tr.Set(ctx, "t1", "a", Update{Status: statusPtr(StatusAvailable)})

	ok, err := tr.Claim(ctx, "t1", "a", "CA1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	p, _ := tr.Release(ctx, "t1", "a", "CA1")
	if p.OnCall || !p.LastCallEnded.IsZero() {
		t.Fatalf("expected released without wrap-up, got %+v", p)
	}
	if !p.Available(now, time.Minute) {
		t.Fatalf("released agent should be immediately available")
	}
}

func TestClaimUnregisteredLeavesNoTrace(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()

	ok, err := tr.Claim(ctx, "t1", "205", "CA1", 0)
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	p, _ := tr.Get(ctx, "t1", "205")
	if p.Registered || p.Status != StatusOffline || !p.OnCall {
		t.Fatalf("expected unregistered agent held on call, got %+v", p)
	}
	if ok, _ := tr.Claim(ctx, "t1", "205", "CA2", 0); ok {
		t.Fatalf("held agent must not be claimed twice")
	}
	if got, _ := tr.ListAvailable(ctx, "t1"); len(got) != 0 {
		t.Fatalf("unregistered agent listed as available: %v", got)
	}

	_, _ = tr.Release(ctx, "t1", "205", "CA1")
	p, _ = tr.Get(ctx, "t1", "205")
	if p.Registered || p.Status != StatusOffline || p.OnCall {
		t.Fatalf("expected unregistered offline after release, got %+v", p)
	}
	snap, _ := tr.Snapshot(ctx, "t1")
	if _, ok := snap["205"]; ok {
		t.Fatalf("expected no record left, got %+v", snap)
	}
	if got, _ := tr.ListAvailable(ctx, "t1"); len(got) != 0 {
		t.Fatalf("unregistered agent listed as available: %v", got)
	}
}

func TestStartCallKeepsUnregisteredAgentsUnregistered(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tr := newTracker(&now)
	ctx := context.Background()

	_, _ = tr.StartCall(ctx, "t1", "205", "CA1")
	_, _ = tr.EndCall(ctx, "t1", "205", "CA1")

	p, _ := tr.Get(ctx, "t1", "205")
	if p.Registered || p.Status != StatusOffline || p.OnCall {
		t.Fatalf("expected unregistered offline, got %+v", p)
	}
	snap, _ := tr.Snapshot(ctx, "t1")
	if len(snap) != 0 {
		t.Fatalf("expected empty table, got %+v", snap)
	}
}
