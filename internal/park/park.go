// Package park holds calls in a fixed pool of per-tenant slots.
//
// Expiry is lazy: every operation first evicts entries whose ExpiresAt has
// passed, so an expired call is gone as soon as anybody looks.
package park

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bizphone/internal/state"
	"bizphone/pkg/logger"
)

const (
	Slots          = 10
	DefaultTimeout = 180 * time.Second
)

var (
	ErrSlotOccupied = errors.New("park: slot occupied")
	ErrNoSlots      = errors.New("park: no available slots")
	ErrNotFound     = errors.New("park: not found")
	ErrInvalidSlot  = errors.New("park: invalid slot")
)

type ParkedCall struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	Slot         int           `json:"slot"`
	CallID       string        `json:"call_id"`
	CallerNumber string        `json:"caller_number"`
	CalledNumber string        `json:"called_number"`
	ParkedAt     time.Time     `json:"parked_at"`
	Timeout      time.Duration `json:"timeout"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// Request parks CallID. Slot 0 takes the lowest free slot; a zero Timeout
// uses the manager default.
type Request struct {
	CallID       string
	CallerNumber string
	CalledNumber string
	Slot         int
	Timeout      time.Duration
}

// table is indexed by slot-1.
type table struct {
	Slots [Slots]*ParkedCall `json:"slots"`
}

type Manager struct {
	store          state.Store
	DefaultTimeout time.Duration
	Now            func() time.Time
}

func NewManager(store state.Store, defaultTimeout time.Duration) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Manager{store: store, DefaultTimeout: defaultTimeout, Now: time.Now}
}

func tableKey(tenantID string) string { return state.Key("park", tenantID) }

// withTable runs fn on the swept slot table under the tenant lock and saves
// it afterwards when fn or the sweep changed it.
func (m *Manager) withTable(ctx context.Context, tenantID string, fn func(t *table, now time.Time) (bool, error)) error {
	key := tableKey(tenantID)
	return m.store.Locked(ctx, key, func(ctx context.Context) error {
		var t table
		if _, err := m.store.Load(ctx, key, &t); err != nil {
			return err
		}
		now := m.Now()
		swept := sweep(ctx, &t, now)
		changed, err := fn(&t, now)
		if err != nil {
			if swept {
				if serr := m.store.Save(ctx, key, t, 0); serr != nil {
					return serr
				}
			}
			return err
		}
		if swept || changed {
			return m.store.Save(ctx, key, t, 0)
		}
		return nil
	})
}

func sweep(ctx context.Context, t *table, now time.Time) bool {
	var swept bool
	for i, pc := range t.Slots {
		if pc != nil && !now.Before(pc.ExpiresAt) {
			logger.From(ctx).Info("parked call expired", "slot", pc.Slot, "call_id", pc.CallID)
			t.Slots[i] = nil
			swept = true
		}
	}
	return swept
}

// Park places the call in a slot.
func (m *Manager) Park(ctx context.Context, tenantID string, req Request) (ParkedCall, error) {
	if req.Slot < 0 || req.Slot > Slots {
		return ParkedCall{}, fmt.Errorf("%w: %d", ErrInvalidSlot, req.Slot)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.DefaultTimeout
	}

	var out ParkedCall
	err := m.withTable(ctx, tenantID, func(t *table, now time.Time) (bool, error) {
		slot := req.Slot
		if slot == 0 {
			for i, pc := range t.Slots {
				if pc == nil {
					slot = i + 1
					break
				}
			}
			if slot == 0 {
				return false, ErrNoSlots
			}
		} else if t.Slots[slot-1] != nil {
			return false, fmt.Errorf("%w: %d", ErrSlotOccupied, slot)
		}

		out = ParkedCall{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			Slot:         slot,
			CallID:       req.CallID,
			CallerNumber: req.CallerNumber,
			CalledNumber: req.CalledNumber,
			ParkedAt:     now,
			Timeout:      timeout,
			ExpiresAt:    now.Add(timeout),
		}
		pc := out
		t.Slots[slot-1] = &pc
		return true, nil
	})
	return out, err
}

// Retrieve removes and returns the call parked in slot.
func (m *Manager) Retrieve(ctx context.Context, tenantID string, slot int) (ParkedCall, error) {
	if slot < 1 || slot > Slots {
		return ParkedCall{}, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	var out ParkedCall
	err := m.withTable(ctx, tenantID, func(t *table, _ time.Time) (bool, error) {
		pc := t.Slots[slot-1]
		if pc == nil {
			return false, fmt.Errorf("%w: slot %d", ErrNotFound, slot)
		}
		out = *pc
		t.Slots[slot-1] = nil
		return true, nil
	})
	return out, err
}

// RemoveCall drops callID from whichever slot holds it. Used when a parked
// caller hangs up.
func (m *Manager) RemoveCall(ctx context.Context, tenantID, callID string) (bool, error) {
	var removed bool
	err := m.withTable(ctx, tenantID, func(t *table, _ time.Time) (bool, error) {
		for i, pc := range t.Slots {
			if pc != nil && pc.CallID == callID {
				t.Slots[i] = nil
				removed = true
			}
		}
		return removed, nil
	})
	return removed, err
}

// List returns live parked calls ordered by slot.
func (m *Manager) List(ctx context.Context, tenantID string) ([]ParkedCall, error) {
	var out []ParkedCall
	err := m.withTable(ctx, tenantID, func(t *table, _ time.Time) (bool, error) {
		for _, pc := range t.Slots {
			if pc != nil {
				out = append(out, *pc)
			}
		}
		return false, nil
	})
	return out, err
}
