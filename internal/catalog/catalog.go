// Package catalog is the relational source of truth for routing
// configuration: tenants, business hours, forwarding rules, IVR menus, hunt
// and ring groups, and call queues.
//
// The engine reads a fresh snapshot per decision; nothing here is cached.
// Writes validate synchronously and enforce the per-tenant invariants: one
// default menu, and group/queue extensions unique across all three kinds.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/queue"
	"bizphone/internal/tenant"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrConflict = errors.New("catalog: conflict")
	ErrInvalid  = errors.New("catalog: invalid")
)

// Reader is what the routing engine consumes.
type Reader interface {
	TenantByNumber(ctx context.Context, number string) (tenant.Tenant, error)
	BusinessHours(ctx context.Context, tenantID string) (*hours.Config, error)
	ForwardingRules(ctx context.Context, tenantID string) ([]forwarding.Rule, error)
	Menu(ctx context.Context, tenantID, menuID string) (ivr.Menu, error)
	DefaultMenu(ctx context.Context, tenantID string) (ivr.Menu, error)
	HuntGroupByExtension(ctx context.Context, tenantID, ext string) (distribution.HuntGroup, error)
	RingGroupByExtension(ctx context.Context, tenantID, ext string) (distribution.RingGroup, error)
	// Queue resolves ref as a queue id or extension.
	Queue(ctx context.Context, tenantID, ref string) (queue.CallQueue, error)

	SetHuntGroupCursor(ctx context.Context, tenantID, groupID string, index int) error
	SetRingGroupCursor(ctx context.Context, tenantID, groupID string, index int) error
}

// Repository adds the administrative surface.
type Repository interface {
	Reader

	Tenant(ctx context.Context, id string) (tenant.Tenant, error)
	PutTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)

	PutBusinessHours(ctx context.Context, cfg hours.Config) error

	ForwardingRule(ctx context.Context, tenantID, id string) (forwarding.Rule, error)
	PutForwardingRule(ctx context.Context, r forwarding.Rule) (forwarding.Rule, error)
	DeleteForwardingRule(ctx context.Context, tenantID, id string) error

	Menus(ctx context.Context, tenantID string) ([]ivr.Menu, error)
	PutMenu(ctx context.Context, m ivr.Menu) (ivr.Menu, error)
	DeleteMenu(ctx context.Context, tenantID, id string) error

	HuntGroups(ctx context.Context, tenantID string) ([]distribution.HuntGroup, error)
	HuntGroup(ctx context.Context, tenantID, id string) (distribution.HuntGroup, error)
	PutHuntGroup(ctx context.Context, g distribution.HuntGroup) (distribution.HuntGroup, error)
	DeleteHuntGroup(ctx context.Context, tenantID, id string) error

	RingGroups(ctx context.Context, tenantID string) ([]distribution.RingGroup, error)
	RingGroup(ctx context.Context, tenantID, id string) (distribution.RingGroup, error)
	PutRingGroup(ctx context.Context, g distribution.RingGroup) (distribution.RingGroup, error)
	DeleteRingGroup(ctx context.Context, tenantID, id string) error

	Queues(ctx context.Context, tenantID string) ([]queue.CallQueue, error)
	PutQueue(ctx context.Context, q queue.CallQueue) (queue.CallQueue, error)
	DeleteQueue(ctx context.Context, tenantID, id string) error
}

// Group kinds share one extension namespace per tenant.
const (
	kindHunt  = "hunt"
	kindRing  = "ring"
	kindQueue = "queue"
)

func notFound(what string, wrapped ...error) error {
	if len(wrapped) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, what, wrapped[0])
	}
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func invalid(err error) error { return fmt.Errorf("%w: %w", ErrInvalid, err) }

func prepareTenant(t tenant.Tenant) (tenant.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if strings.TrimSpace(t.Name) == "" {
		return t, invalid(errors.New("tenant name is required"))
	}
	if _, err := tenant.ParseRoute(t.DefaultRoute); err != nil {
		return t, invalid(err)
	}
	seen := map[string]bool{}
	numbers := make([]string, 0, len(t.Numbers))
	for _, n := range t.Numbers {
		n = tenant.NormalizeNumber(n)
		if !tenant.IsE164(n) {
			return t, invalid(fmt.Errorf("number %q is not E.164", n))
		}
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	t.Numbers = numbers
	return t, nil
}

func prepareRule(r forwarding.Rule, now time.Time) (forwarding.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	if err := r.Validate(); err != nil {
		return r, invalid(err)
	}
	return r, nil
}

func prepareMenu(m ivr.Menu) (ivr.Menu, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return m, invalid(err)
	}
	return m, nil
}

// checkSubmenus rejects options that link to a menu the tenant does not have.
func checkSubmenus(m ivr.Menu, exists func(id string) (bool, error)) error {
	for _, o := range m.Options {
		if o.Action != ivr.ActionSubmenu {
			continue
		}
		ok, err := exists(o.Target)
		if err != nil {
			return err
		}
		if !ok {
			return invalid(fmt.Errorf("%w: option %s: submenu %s does not exist", ivr.ErrInvalidMenu, o.Digit, o.Target))
		}
	}
	return nil
}

func prepareHunt(g distribution.HuntGroup, isNew bool) (distribution.HuntGroup, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if isNew {
		g.LastSelectedIndex = -1
	}
	if err := g.Validate(); err != nil {
		return g, invalid(err)
	}
	return g, nil
}

func prepareRing(g distribution.RingGroup, isNew bool) (distribution.RingGroup, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if isNew {
		g.LastSelectedIndex = -1
	}
	if err := g.Validate(); err != nil {
		return g, invalid(err)
	}
	return g, nil
}

func prepareQueue(q queue.CallQueue) (queue.CallQueue, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if err := q.Validate(); err != nil {
		return q, invalid(err)
	}
	return q, nil
}

func prepareHours(cfg hours.Config) error {
	if cfg.TenantID == "" {
		return invalid(errors.New("tenant_id is required"))
	}
	if err := cfg.Validate(); err != nil {
		return invalid(err)
	}
	return nil
}
