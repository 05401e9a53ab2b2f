// Package presence tracks live agent status for distribution decisions.
//
// Presence is updated out-of-band by agent clients and read fresh on every
// routing decision. Writes are last-write-wins; LastActivity is advisory.
package presence

import (
	"context"
	"errors"
	"sort"
	"time"

	"bizphone/internal/state"
)

var ErrInvalidStatus = errors.New("presence: invalid status")

type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusAway      Status = "away"
	StatusDND       Status = "dnd"
	StatusOffline   Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBusy, StatusAway, StatusDND, StatusOffline:
		return true
	default:
		return false
	}
}

// Presence is keyed by (TenantID, AgentID).
type Presence struct {
	TenantID      string    `json:"tenant_id"`
	AgentID       string    `json:"agent_id"`
	Status        Status    `json:"status"`
	OnCall        bool      `json:"on_call"`
	CurrentCallID string    `json:"current_call_id,omitempty"`
	LastActivity  time.Time `json:"last_activity"`

	// LastCallEnded starts the wrap-up window.
	LastCallEnded time.Time `json:"last_call_ended,omitempty"`

	// Registered is false for agents the tracker has never heard of.
	Registered bool `json:"registered"`
}

// Available reports whether the agent can take a call at now, given a
// wrap-up window after their last call.
func (p Presence) Available(now time.Time, wrapUp time.Duration) bool {
	if p.Status != StatusAvailable || p.OnCall {
		return false
	}
	if wrapUp > 0 && !p.LastCallEnded.IsZero() && now.Sub(p.LastCallEnded) < wrapUp {
		return false
	}
	return true
}

// Update is a client-supplied change. Nil fields are left unchanged.
type Update struct {
	Status        *Status `json:"status,omitempty"`
	OnCall        *bool   `json:"on_call,omitempty"`
	CurrentCallID *string `json:"current_call_id,omitempty"`
}

// Tracker stores one presence table per tenant.
type Tracker struct {
	store state.Store
	Now   func() time.Time
}

func NewTracker(store state.Store) *Tracker {
	return &Tracker{store: store, Now: time.Now}
}

type table struct {
	Agents map[string]Presence `json:"agents"`
}

func tableKey(tenantID string) string { return state.Key("presence", tenantID) }

func (t *Tracker) load(ctx context.Context, tenantID string) (table, error) {
	var tb table
	if _, err := t.store.Load(ctx, tableKey(tenantID), &tb); err != nil {
		return table{}, err
	}
	if tb.Agents == nil {
		tb.Agents = map[string]Presence{}
	}
	return tb, nil
}

// Get returns the agent's presence. Unknown agents come back offline and
// unregistered rather than as an error.
func (t *Tracker) Get(ctx context.Context, tenantID, agentID string) (Presence, error) {
	tb, err := t.load(ctx, tenantID)
	if err != nil {
		return Presence{}, err
	}
	if p, ok := tb.Agents[agentID]; ok {
		return p, nil
	}
	return placeholder(tenantID, agentID), nil
}

// placeholder is the record of an agent no client has registered. It only
// exists in the table while routing holds the agent on a call.
func placeholder(tenantID, agentID string) Presence {
	return Presence{TenantID: tenantID, AgentID: agentID, Status: StatusOffline}
}

// Free reports whether the agent can be offered a call. Unregistered agents
// have no status of their own and are free unless routing holds them.
func (p Presence) Free(now time.Time, wrapUp time.Duration) bool {
	if !p.Registered {
		return !p.OnCall
	}
	return p.Available(now, wrapUp)
}

// Snapshot returns every agent with a record, including unregistered agents
// currently held on a call.
func (t *Tracker) Snapshot(ctx context.Context, tenantID string) (map[string]Presence, error) {
	tb, err := t.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return tb.Agents, nil
}

// Set applies a client update to the agent's presence. It is the only write
// that registers an agent.
func (t *Tracker) Set(ctx context.Context, tenantID, agentID string, u Update) (Presence, error) {
	if u.Status != nil && !u.Status.Valid() {
		return Presence{}, ErrInvalidStatus
	}
	return t.mutate(ctx, tenantID, agentID, func(p *Presence) {
		p.Registered = true
		if u.Status != nil {
			p.Status = *u.Status
		}
		if u.OnCall != nil {
			if p.OnCall && !*u.OnCall {
				p.LastCallEnded = t.Now()
				p.CurrentCallID = ""
			}
			p.OnCall = *u.OnCall
		}
		if u.CurrentCallID != nil {
			p.CurrentCallID = *u.CurrentCallID
		}
	})
}

// StartCall marks the agent on a call.
func (t *Tracker) StartCall(ctx context.Context, tenantID, agentID, callID string) (Presence, error) {
	return t.mutate(ctx, tenantID, agentID, func(p *Presence) {
		p.OnCall = true
		p.CurrentCallID = callID
	})
}

// EndCall clears the on-call flag if the agent is still on callID and starts
// their wrap-up window. An empty callID ends whatever call is current.
func (t *Tracker) EndCall(ctx context.Context, tenantID, agentID, callID string) (Presence, error) {
	return t.mutate(ctx, tenantID, agentID, func(p *Presence) {
		if !p.OnCall {
			return
		}
		if callID != "" && p.CurrentCallID != "" && p.CurrentCallID != callID {
			return
		}
		p.OnCall = false
		p.CurrentCallID = ""
		p.LastCallEnded = t.Now()
	})
}

// Release frees agentID from callID without starting wrap-up. Used when the
// agent was offered the call but never answered.
func (t *Tracker) Release(ctx context.Context, tenantID, agentID, callID string) (Presence, error) {
	return t.mutate(ctx, tenantID, agentID, func(p *Presence) {
		if p.OnCall && (callID == "" || p.CurrentCallID == callID) {
			p.OnCall = false
			p.CurrentCallID = ""
		}
	})
}

// EndCallAll releases every agent currently on callID.
func (t *Tracker) EndCallAll(ctx context.Context, tenantID, callID string) error {
	if callID == "" {
		return nil
	}
	key := tableKey(tenantID)
	return t.store.Locked(ctx, key, func(ctx context.Context) error {
		tb, err := t.load(ctx, tenantID)
		if err != nil {
			return err
		}
		now := t.Now()
		changed := false
		for id, p := range tb.Agents {
			if !p.OnCall || p.CurrentCallID != callID {
				continue
			}
			changed = true
			if !p.Registered {
				delete(tb.Agents, id)
				continue
			}
			p.OnCall = false
			p.CurrentCallID = ""
			p.LastCallEnded = now
			p.LastActivity = now
			tb.Agents[id] = p
		}
		if !changed {
			return nil
		}
		return t.store.Save(ctx, key, tb, 0)
	})
}

// ListAvailable returns agents with status available and not on a call,
// sorted by agent id.
func (t *Tracker) ListAvailable(ctx context.Context, tenantID string) ([]string, error) {
	tb, err := t.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tb.Agents))
	for id, p := range tb.Agents {
		if p.Registered && p.Status == StatusAvailable && !p.OnCall {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Claim marks agentID on callID only if it is still available, all within the
// tenant's critical section. It reports false when someone else got there first.
func (t *Tracker) Claim(ctx context.Context, tenantID, agentID, callID string, wrapUp time.Duration) (bool, error) {
	claimed := false
	key := tableKey(tenantID)
	err := t.store.Locked(ctx, key, func(ctx context.Context) error {
		tb, err := t.load(ctx, tenantID)
		if err != nil {
			return err
		}
		now := t.Now()
		p, ok := tb.Agents[agentID]
		if !ok {
			p = placeholder(tenantID, agentID)
		}
		if !p.Free(now, wrapUp) {
			return nil
		}
		p.OnCall = true
		p.CurrentCallID = callID
		p.LastActivity = now
		tb.Agents[agentID] = p
		claimed = true
		return t.store.Save(ctx, key, tb, 0)
	})
	return claimed, err
}

func (t *Tracker) mutate(ctx context.Context, tenantID, agentID string, fn func(p *Presence)) (Presence, error) {
	var out Presence
	key := tableKey(tenantID)
	err := t.store.Locked(ctx, key, func(ctx context.Context) error {
		tb, err := t.load(ctx, tenantID)
		if err != nil {
			return err
		}
		p, ok := tb.Agents[agentID]
		if !ok {
			p = placeholder(tenantID, agentID)
		}
		fn(&p)
		if !p.Registered && !p.OnCall {
			// An unregistered agent off the call leaves no trace.
			out = p
			if !ok {
				return nil
			}
			delete(tb.Agents, agentID)
			return t.store.Save(ctx, key, tb, 0)
		}
		p.LastActivity = t.Now()
		out = p
		tb.Agents[agentID] = p
		return t.store.Save(ctx, key, tb, 0)
	})
	return out, err
}
