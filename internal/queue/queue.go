// Package queue holds callers in a per-queue FIFO until an agent is free or
// the caller has waited longer than the queue's maxWaitTime.
//
// Expiry is lazy: a caller is only found to have abandoned when the queue is
// next observed for that caller.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"bizphone/internal/distribution"
	"bizphone/internal/state"
	"bizphone/internal/tenant"
)

var (
	ErrNotQueued    = errors.New("queue: call not queued")
	ErrInvalidQueue = errors.New("queue: invalid queue")
)

// CallQueue is a tenant-scoped queue configuration.
type CallQueue struct {
	ID           string                `json:"id"`
	TenantID     string                `json:"tenant_id"`
	Name         string                `json:"name"`
	Extension    string                `json:"extension"`
	RingStrategy distribution.Strategy `json:"ring_strategy"`

	// Times in seconds.
	RingTimeout int `json:"ring_timeout"`
	MaxWaitTime int `json:"max_wait_time"`
	WrapUpTime  int `json:"wrap_up_time"`

	Agents []QueueAgent `json:"agents"`

	// Overflow is a route string used for abandoned calls.
	Overflow string `json:"overflow,omitempty"`
}

// QueueAgent is an agent's membership in a queue. Lower Priority rings first.
type QueueAgent struct {
	ExtensionID string `json:"extension_id"`
	Priority    int    `json:"priority"`
	IsPaused    bool   `json:"is_paused"`
}

func (q CallQueue) Validate() error {
	if q.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidQueue)
	}
	if q.Extension != "" && !tenant.IsExtension(q.Extension) {
		return fmt.Errorf("%w: extension %q must be 2-6 digits", ErrInvalidQueue, q.Extension)
	}
	if !distribution.ValidQueue(q.RingStrategy) {
		return fmt.Errorf("%w: unknown ring_strategy %q", ErrInvalidQueue, q.RingStrategy)
	}
	if q.RingTimeout < 0 || q.MaxWaitTime < 0 || q.WrapUpTime < 0 {
		return fmt.Errorf("%w: times must not be negative", ErrInvalidQueue)
	}
	seen := map[string]bool{}
	for _, a := range q.Agents {
		if a.ExtensionID == "" {
			return fmt.Errorf("%w: agent extension_id is required", ErrInvalidQueue)
		}
		if seen[a.ExtensionID] {
			return fmt.Errorf("%w: duplicate agent %s", ErrInvalidQueue, a.ExtensionID)
		}
		seen[a.ExtensionID] = true
	}
	if q.Overflow != "" {
		if _, err := tenant.ParseRoute(q.Overflow); err != nil {
			return fmt.Errorf("%w: overflow: %v", ErrInvalidQueue, err)
		}
	}
	return nil
}

// ActiveMembers returns the unpaused agents ordered by priority as
// distribution members.
func (q CallQueue) ActiveMembers() []distribution.Member {
	agents := make([]QueueAgent, 0, len(q.Agents))
	for _, a := range q.Agents {
		if !a.IsPaused {
			agents = append(agents, a)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].Priority < agents[j].Priority })

	out := make([]distribution.Member, 0, len(agents))
	for _, a := range agents {
		out = append(out, distribution.Member{Extension: a.ExtensionID, Available: true, Weight: 1})
	}
	return out
}

// Entry is one waiting caller.
type Entry struct {
	CallID     string    `json:"call_id"`
	From       string    `json:"from,omitempty"`
	Position   int64     `json:"position"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Ringing holds the agents currently being offered this call.
	Ringing []string `json:"ringing,omitempty"`
}

type fifo struct {
	NextPosition      int64   `json:"next_position"`
	Entries           []Entry `json:"entries"`
	LastSelectedIndex int     `json:"last_selected_index"`
}

func fifoKey(tenantID, queueID string) string { return state.Key("queue", tenantID, queueID) }

// Outcome of observing a queued call.
type Outcome string

const (
	OutcomeWaiting   Outcome = "waiting"
	OutcomeConnect   Outcome = "connect"
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeExhausted means the queue has no unpaused agents at all.
	OutcomeExhausted Outcome = "exhausted"
)

// WaitResult describes what should happen to a queued call now.
type WaitResult struct {
	Outcome Outcome
	// Position is 1-based among callers not currently ringing an agent.
	Position int
	Waited   time.Duration
	// Targets are agent extensions to ring when Outcome is connect.
	Targets []string
}

// Claimer reserves an agent for a call; it reports false if the agent was
// taken concurrently.
type Claimer func(ctx context.Context, extension string) (bool, error)

// Manager owns queue FIFOs in a state.Store.
type Manager struct {
	store    state.Store
	selector *distribution.Selector
	Now      func() time.Time
}

func NewManager(store state.Store, selector *distribution.Selector) *Manager {
	if selector == nil {
		selector = distribution.NewSelector(nil)
	}
	return &Manager{store: store, selector: selector, Now: time.Now}
}

func (m *Manager) load(ctx context.Context, key string) (fifo, error) {
	f := fifo{LastSelectedIndex: -1}
	if _, err := m.store.Load(ctx, key, &f); err != nil {
		return fifo{}, err
	}
	return f, nil
}

// Enqueue appends the call to the queue and returns its FIFO position
// counter value. Enqueueing an already queued call is a no-op.
func (m *Manager) Enqueue(ctx context.Context, q CallQueue, callID, from string) (Entry, error) {
	var out Entry
	key := fifoKey(q.TenantID, q.ID)
	err := m.store.Locked(ctx, key, func(ctx context.Context) error {
		f, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		for _, e := range f.Entries {
			if e.CallID == callID {
				out = e
				return nil
			}
		}
		f.NextPosition++
		out = Entry{CallID: callID, From: from, Position: f.NextPosition, EnqueuedAt: m.Now()}
		f.Entries = append(f.Entries, out)
		return m.store.Save(ctx, key, f, 0)
	})
	return out, err
}

// Wait observes callID in q. Expired callers are removed and reported
// abandoned. The caller at the head of the FIFO is offered to agents picked
// by the queue's ring strategy among eligible, unpaused agents.
func (m *Manager) Wait(ctx context.Context, q CallQueue, callID string, eligible func(distribution.Member) bool, claim Claimer) (WaitResult, error) {
	var out WaitResult
	key := fifoKey(q.TenantID, q.ID)
	err := m.store.Locked(ctx, key, func(ctx context.Context) error {
		f, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		now := m.Now()
		maxWait := time.Duration(q.MaxWaitTime) * time.Second

		idx := -1
		pos := 0
		for i, e := range f.Entries {
			if len(e.Ringing) == 0 && !expired(e, now, maxWait) {
				pos++
			}
			if e.CallID == callID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotQueued
		}
		entry := f.Entries[idx]
		out.Waited = now.Sub(entry.EnqueuedAt)

		if expired(entry, now, maxWait) {
			f.Entries = append(f.Entries[:idx], f.Entries[idx+1:]...)
			out.Outcome = OutcomeAbandoned
			return m.store.Save(ctx, key, f, 0)
		}

		members := q.ActiveMembers()
		if len(members) == 0 {
			f.Entries = append(f.Entries[:idx], f.Entries[idx+1:]...)
			out.Outcome = OutcomeExhausted
			return m.store.Save(ctx, key, f, 0)
		}

		if len(entry.Ringing) > 0 {
			out.Outcome = OutcomeConnect
			out.Targets = entry.Ringing
			return nil
		}

		out.Position = pos
		out.Outcome = OutcomeWaiting
		if pos != 1 {
			return nil
		}

		targets, cursor, err := m.pickAgents(ctx, q, members, f.LastSelectedIndex, eligible, claim)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}
		f.LastSelectedIndex = cursor
		f.Entries[idx].Ringing = targets
		out.Outcome = OutcomeConnect
		out.Targets = targets
		return m.store.Save(ctx, key, f, 0)
	})
	return out, err
}

func (m *Manager) pickAgents(ctx context.Context, q CallQueue, members []distribution.Member, cursor int, eligible func(distribution.Member) bool, claim Claimer) ([]string, int, error) {
	taken := map[string]bool{}
	check := func(mb distribution.Member) bool {
		if taken[mb.Extension] {
			return false
		}
		return eligible == nil || eligible(mb)
	}

	for attempt := 0; attempt < len(members); attempt++ {
		res, err := m.selector.Pick(distribution.Request{
			Strategy: q.RingStrategy,
			Members:  members,
			Cursor:   cursor,
			Eligible: check,
		})
		if err != nil {
			return nil, cursor, err
		}
		if res.Exhausted {
			return nil, cursor, nil
		}
		if q.RingStrategy == distribution.Simultaneous || claim == nil {
			return res.Extensions(), pickCursor(res, cursor), nil
		}
		ext := res.Targets[0].Extension
		ok, err := claim(ctx, ext)
		if err != nil {
			return nil, cursor, err
		}
		if ok {
			return []string{ext}, pickCursor(res, cursor), nil
		}
		taken[ext] = true
	}
	return nil, cursor, nil
}

func pickCursor(res distribution.Result, prev int) int {
	if res.Index < 0 {
		return prev
	}
	return res.Index
}

// Release returns a call that was offered to agents back to waiting, keeping
// its original position and enqueue time.
func (m *Manager) Release(ctx context.Context, q CallQueue, callID string) error {
	key := fifoKey(q.TenantID, q.ID)
	return m.store.Locked(ctx, key, func(ctx context.Context) error {
		f, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		for i := range f.Entries {
			if f.Entries[i].CallID == callID {
				f.Entries[i].Ringing = nil
				return m.store.Save(ctx, key, f, 0)
			}
		}
		return ErrNotQueued
	})
}

// Leave removes callID from the queue (answered or hung up).
// Leaving a queue the call is not in is not an error.
func (m *Manager) Leave(ctx context.Context, q CallQueue, callID string) error {
	key := fifoKey(q.TenantID, q.ID)
	return m.store.Locked(ctx, key, func(ctx context.Context) error {
		f, err := m.load(ctx, key)
		if err != nil {
			return err
		}
		for i, e := range f.Entries {
			if e.CallID == callID {
				f.Entries = append(f.Entries[:i], f.Entries[i+1:]...)
				return m.store.Save(ctx, key, f, 0)
			}
		}
		return nil
	})
}

// Entries returns the queue's current callers in FIFO order, without
// sweeping. Intended for dashboards.
func (m *Manager) Entries(ctx context.Context, q CallQueue) ([]Entry, error) {
	f, err := m.load(ctx, fifoKey(q.TenantID, q.ID))
	if err != nil {
		return nil, err
	}
	return f.Entries, nil
}

func expired(e Entry, now time.Time, maxWait time.Duration) bool {
	return maxWait > 0 && now.Sub(e.EnqueuedAt) > maxWait
}

// Position returns callID's 1-based place among waiting callers, or 0 while
// it is ringing an agent.
func (m *Manager) Position(ctx context.Context, q CallQueue, callID string) (int, error) {
	f, err := m.load(ctx, fifoKey(q.TenantID, q.ID))
	if err != nil {
		return 0, err
	}
	now := m.Now()
	maxWait := time.Duration(q.MaxWaitTime) * time.Second
	pos := 0
	for _, e := range f.Entries {
		waiting := len(e.Ringing) == 0 && !expired(e, now, maxWait)
		if waiting {
			pos++
		}
		if e.CallID == callID {
			if !waiting {
				return 0, nil
			}
			return pos, nil
		}
	}
	return 0, ErrNotQueued
}
