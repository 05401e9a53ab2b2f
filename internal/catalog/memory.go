package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/queue"
	"bizphone/internal/tenant"
)

// MemoryRepo is an in-process Repository for tests and local runs.
type MemoryRepo struct {
	mu sync.Mutex

	tenants map[string]tenant.Tenant
	numbers map[string]string // number -> tenant id
	hours   map[string]hours.Config
	rules   map[string]map[string]forwarding.Rule
	menus   map[string]map[string]ivr.Menu
	hunts   map[string]map[string]distribution.HuntGroup
	rings   map[string]map[string]distribution.RingGroup
	queues  map[string]map[string]queue.CallQueue

	Now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tenants: map[string]tenant.Tenant{},
		numbers: map[string]string{},
		hours:   map[string]hours.Config{},
		rules:   map[string]map[string]forwarding.Rule{},
		menus:   map[string]map[string]ivr.Menu{},
		hunts:   map[string]map[string]distribution.HuntGroup{},
		rings:   map[string]map[string]distribution.RingGroup{},
		queues:  map[string]map[string]queue.CallQueue{},
		Now:     time.Now,
	}
}

func bucket[T any](m map[string]map[string]T, tenantID string) map[string]T {
	b, ok := m[tenantID]
	if !ok {
		b = map[string]T{}
		m[tenantID] = b
	}
	return b
}

func values[T any](m map[string]T, less func(a, b T) bool) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// extensionOwner returns the kind and id already using ext in tenantID.
func (r *MemoryRepo) extensionOwner(tenantID, ext string) (string, string) {
	if ext == "" {
		return "", ""
	}
	for id, g := range r.hunts[tenantID] {
		if g.Extension == ext {
			return kindHunt, id
		}
	}
	for id, g := range r.rings[tenantID] {
		if g.Extension == ext {
			return kindRing, id
		}
	}
	for id, q := range r.queues[tenantID] {
		if q.Extension == ext {
			return kindQueue, id
		}
	}
	return "", ""
}

func (r *MemoryRepo) checkExtension(tenantID, ext, kind, id string) error {
	k, owner := r.extensionOwner(tenantID, ext)
	if owner != "" && (k != kind || owner != id) {
		return fmt.Errorf("%w: extension %s is used by %s %s", ErrConflict, ext, k, owner)
	}
	return nil
}

// Tenants

func (r *MemoryRepo) TenantByNumber(_ context.Context, number string) (tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.numbers[tenant.NormalizeNumber(number)]
	if !ok {
		return tenant.Tenant{}, notFound("number "+number, tenant.ErrNotFound)
	}
	return r.tenants[id], nil
}

func (r *MemoryRepo) Tenant(_ context.Context, id string) (tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return tenant.Tenant{}, notFound("tenant "+id, tenant.ErrNotFound)
	}
	return t, nil
}

func (r *MemoryRepo) PutTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	t, err := prepareTenant(t)
	if err != nil {
		return t, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range t.Numbers {
		if owner, ok := r.numbers[n]; ok && owner != t.ID {
			return t, fmt.Errorf("%w: number %s belongs to another tenant", ErrConflict, n)
		}
	}
	if old, ok := r.tenants[t.ID]; ok {
		for _, n := range old.Numbers {
			delete(r.numbers, n)
		}
	}
	for _, n := range t.Numbers {
		r.numbers[n] = t.ID
	}
	r.tenants[t.ID] = t
	return t, nil
}

// Business hours

func (r *MemoryRepo) BusinessHours(_ context.Context, tenantID string) (*hours.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.hours[tenantID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (r *MemoryRepo) PutBusinessHours(_ context.Context, cfg hours.Config) error {
	if err := prepareHours(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hours[cfg.TenantID] = cfg
	return nil
}

// Forwarding rules

func (r *MemoryRepo) ForwardingRules(_ context.Context, tenantID string) ([]forwarding.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return forwarding.Ordered(values(r.rules[tenantID], func(a, b forwarding.Rule) bool { return a.ID < b.ID })), nil
}

func (r *MemoryRepo) ForwardingRule(_ context.Context, tenantID, id string) (forwarding.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[tenantID][id]
	if !ok {
		return forwarding.Rule{}, notFound("rule " + id)
	}
	return rule, nil
}

func (r *MemoryRepo) PutForwardingRule(_ context.Context, rule forwarding.Rule) (forwarding.Rule, error) {
	rule, err := prepareRule(rule, r.Now())
	if err != nil {
		return rule, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket(r.rules, rule.TenantID)[rule.ID] = rule
	return rule, nil
}

func (r *MemoryRepo) DeleteForwardingRule(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[tenantID][id]; !ok {
		return notFound("rule " + id)
	}
	delete(r.rules[tenantID], id)
	return nil
}

// IVR menus

func (r *MemoryRepo) Menu(_ context.Context, tenantID, menuID string) (ivr.Menu, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.menus[tenantID][menuID]
	if !ok {
		return ivr.Menu{}, notFound("menu "+menuID, ivr.ErrNotFound)
	}
	return m, nil
}

func (r *MemoryRepo) DefaultMenu(_ context.Context, tenantID string) (ivr.Menu, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.menus[tenantID] {
		if m.IsDefault {
			return m, nil
		}
	}
	return ivr.Menu{}, notFound("default menu", ivr.ErrNotFound)
}

func (r *MemoryRepo) Menus(_ context.Context, tenantID string) ([]ivr.Menu, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return values(r.menus[tenantID], func(a, b ivr.Menu) bool { return a.Name+a.ID < b.Name+b.ID }), nil
}

// PutMenu stores m. Marking a menu default clears the flag on the others.
func (r *MemoryRepo) PutMenu(_ context.Context, m ivr.Menu) (ivr.Menu, error) {
	m, err := prepareMenu(m)
	if err != nil {
		return m, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = checkSubmenus(m, func(id string) (bool, error) {
		_, ok := r.menus[m.TenantID][id]
		return ok, nil
	})
	if err != nil {
		return m, err
	}
	b := bucket(r.menus, m.TenantID)
	if m.IsDefault {
		for id, other := range b {
			if other.IsDefault && id != m.ID {
				other.IsDefault = false
				b[id] = other
			}
		}
	}
	b[m.ID] = m
	return m, nil
}

func (r *MemoryRepo) DeleteMenu(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.menus[tenantID][id]; !ok {
		return notFound("menu " + id)
	}
	delete(r.menus[tenantID], id)
	return nil
}

// Hunt groups

func (r *MemoryRepo) HuntGroups(_ context.Context, tenantID string) ([]distribution.HuntGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return values(r.hunts[tenantID], func(a, b distribution.HuntGroup) bool { return a.Extension < b.Extension }), nil
}

func (r *MemoryRepo) HuntGroup(_ context.Context, tenantID, id string) (distribution.HuntGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.hunts[tenantID][id]
	if !ok {
		return g, notFound("hunt group " + id)
	}
	return g, nil
}

func (r *MemoryRepo) HuntGroupByExtension(_ context.Context, tenantID, ext string) (distribution.HuntGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.hunts[tenantID] {
		if g.Extension == ext {
			return g, nil
		}
	}
	return distribution.HuntGroup{}, notFound("hunt group extension " + ext)
}

func (r *MemoryRepo) PutHuntGroup(_ context.Context, g distribution.HuntGroup) (distribution.HuntGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, exists := r.hunts[g.TenantID][g.ID]
	g, err := prepareHunt(g, !exists)
	if err != nil {
		return g, err
	}
	if exists {
		g.LastSelectedIndex = old.LastSelectedIndex
	}
	if err := r.checkExtension(g.TenantID, g.Extension, kindHunt, g.ID); err != nil {
		return g, err
	}
	bucket(r.hunts, g.TenantID)[g.ID] = g
	return g, nil
}

func (r *MemoryRepo) DeleteHuntGroup(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hunts[tenantID][id]; !ok {
		return notFound("hunt group " + id)
	}
	delete(r.hunts[tenantID], id)
	return nil
}

func (r *MemoryRepo) SetHuntGroupCursor(_ context.Context, tenantID, groupID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.hunts[tenantID][groupID]
	if !ok {
		return notFound("hunt group " + groupID)
	}
	g.LastSelectedIndex = index
	r.hunts[tenantID][groupID] = g
	return nil
}

// Ring groups

func (r *MemoryRepo) RingGroups(_ context.Context, tenantID string) ([]distribution.RingGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return values(r.rings[tenantID], func(a, b distribution.RingGroup) bool { return a.Extension < b.Extension }), nil
}

func (r *MemoryRepo) RingGroup(_ context.Context, tenantID, id string) (distribution.RingGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rings[tenantID][id]
	if !ok {
		return g, notFound("ring group " + id)
	}
	return g, nil
}

func (r *MemoryRepo) RingGroupByExtension(_ context.Context, tenantID, ext string) (distribution.RingGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.rings[tenantID] {
		if g.Extension == ext {
			return g, nil
		}
	}
	return distribution.RingGroup{}, notFound("ring group extension " + ext)
}

func (r *MemoryRepo) PutRingGroup(_ context.Context, g distribution.RingGroup) (distribution.RingGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, exists := r.rings[g.TenantID][g.ID]
	g, err := prepareRing(g, !exists)
	if err != nil {
		return g, err
	}
	if exists {
		g.LastSelectedIndex = old.LastSelectedIndex
	}
	if err := r.checkExtension(g.TenantID, g.Extension, kindRing, g.ID); err != nil {
		return g, err
	}
	bucket(r.rings, g.TenantID)[g.ID] = g
	return g, nil
}

func (r *MemoryRepo) DeleteRingGroup(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rings[tenantID][id]; !ok {
		return notFound("ring group " + id)
	}
	delete(r.rings[tenantID], id)
	return nil
}

func (r *MemoryRepo) SetRingGroupCursor(_ context.Context, tenantID, groupID string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.rings[tenantID][groupID]
	if !ok {
		return notFound("ring group " + groupID)
	}
	g.LastSelectedIndex = index
	r.rings[tenantID][groupID] = g
	return nil
}

// Queues

func (r *MemoryRepo) Queues(_ context.Context, tenantID string) ([]queue.CallQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return values(r.queues[tenantID], func(a, b queue.CallQueue) bool { return a.Name+a.ID < b.Name+b.ID }), nil
}

func (r *MemoryRepo) Queue(_ context.Context, tenantID, ref string) (queue.CallQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[tenantID][ref]; ok {
		return q, nil
	}
	for _, q := range r.queues[tenantID] {
		if q.Extension != "" && q.Extension == ref {
			return q, nil
		}
	}
	return queue.CallQueue{}, notFound("queue " + ref)
}

func (r *MemoryRepo) PutQueue(_ context.Context, q queue.CallQueue) (queue.CallQueue, error) {
	q, err := prepareQueue(q)
	if err != nil {
		return q, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkExtension(q.TenantID, q.Extension, kindQueue, q.ID); err != nil {
		return q, err
	}
	bucket(r.queues, q.TenantID)[q.ID] = q
	return q, nil
}

func (r *MemoryRepo) DeleteQueue(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[tenantID][id]; !ok {
		return notFound("queue " + id)
	}
	delete(r.queues[tenantID], id)
	return nil
}

var _ Repository = (*MemoryRepo)(nil)
