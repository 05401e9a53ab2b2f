package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/queue"
	"bizphone/internal/tenant"
)

func newRepo() *MemoryRepo {
	r := NewMemoryRepo()
	r.Now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return r
}

func TestTenantByNumber(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	_, err := r.PutTenant(ctx, tenant.Tenant{ID: "t1", Name: "Acme", Numbers: []string{"+1 555-010-0001"}, DefaultRoute: "ai"})
	if err != nil {
		t.Fatalf("put tenant: %v", err)
	}
	got, err := r.TenantByNumber(ctx, "+15550100001")
	if err != nil || got.ID != "t1" {
		t.Fatalf("expected t1, got %+v %v", got, err)
	}

	_, err = r.TenantByNumber(ctx, "+15550100002")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPutTenantRejectsForeignNumberAndBadRoute(t *testing.T) {
	r := newRepo()
	ctx := context.Background()
	_, _ = r.PutTenant(ctx, tenant.Tenant{ID: "t1", Name: "Acme", Numbers: []string{"+15550100001"}, DefaultRoute: "ai"})

	_, err := r.PutTenant(ctx, tenant.Tenant{ID: "t2", Name: "Other", Numbers: []string{"+15550100001"}, DefaultRoute: "ai"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	_, err = r.PutTenant(ctx, tenant.Tenant{ID: "t3", Name: "Bad", DefaultRoute: "somewhere"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestBusinessHoursAbsentIsNil(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	cfg, err := r.BusinessHours(ctx, "t1")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %+v %v", cfg, err)
	}

	err = r.PutBusinessHours(ctx, hours.Config{TenantID: "t1", TimeZone: "Mars/Olympus"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestForwardingRulesAreOrdered(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	base := forwarding.Rule{TenantID: "t1", RuleType: forwarding.RuleAlways, ForwardTo: "voicemail", ForwardType: forwarding.ForwardVoicemail, IsEnabled: true}
	a, b, c := base, base, base
	a.ID, a.Priority = "a", 2
	b.ID, b.Priority = "b", 1
	c.ID, c.Priority = "c", 1
	for _, rule := range []forwarding.Rule{a, c, b} {
		if _, err := r.PutForwardingRule(ctx, rule); err != nil {
			t.Fatalf("put rule: %v", err)
		}
	}

	rules, _ := r.ForwardingRules(ctx, "t1")
	if len(rules) != 3 || rules[0].ID != "b" || rules[1].ID != "c" || rules[2].ID != "a" {
		t.Fatalf("unexpected order: %+v", rules)
	}
	if rules[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at stamped")
	}

	if err := r.DeleteForwardingRule(ctx, "t1", "zz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSingleDefaultMenu(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	m1, _ := r.PutMenu(ctx, ivr.Menu{TenantID: "t1", Name: "Day", IsDefault: true})
	m2, _ := r.PutMenu(ctx, ivr.Menu{TenantID: "t1", Name: "Night", IsDefault: true})

	def, err := r.DefaultMenu(ctx, "t1")
	if err != nil || def.ID != m2.ID {
		t.Fatalf("expected %s as default, got %+v %v", m2.ID, def, err)
	}
	old, _ := r.Menu(ctx, "t1", m1.ID)
	if old.IsDefault {
		t.Fatalf("previous default must be cleared")
	}

	if _, err := r.DefaultMenu(ctx, "t2"); !errors.Is(err, ivr.ErrNotFound) {
		t.Fatalf("expected ivr.ErrNotFound, got %v", err)
	}
}

func TestPutMenuRejectsMissingSubmenu(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	menu := ivr.Menu{
		TenantID: "t1",
		Name:     "Main",
		Options:  []ivr.Option{{Digit: "2", Action: ivr.ActionSubmenu, Target: "support"}},
	}
	_, err := r.PutMenu(ctx, menu)
	if !errors.Is(err, ErrInvalid) || !errors.Is(err, ivr.ErrInvalidMenu) {
		t.Fatalf("expected invalid menu, got %v", err)
	}

	// Submenus of another tenant do not count.
	if _, err := r.PutMenu(ctx, ivr.Menu{ID: "support", TenantID: "t2", Name: "Support"}); err != nil {
		t.Fatalf("put t2 menu: %v", err)
	}
	if _, err := r.PutMenu(ctx, menu); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid menu, got %v", err)
	}

	if _, err := r.PutMenu(ctx, ivr.Menu{ID: "support", TenantID: "t1", Name: "Support"}); err != nil {
		t.Fatalf("put submenu: %v", err)
	}
	if _, err := r.PutMenu(ctx, menu); err != nil {
		t.Fatalf("expected menu with existing submenu to save, got %v", err)
	}
}

func TestExtensionsUniqueAcrossGroupKinds(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	hunt, err := r.PutHuntGroup(ctx, distribution.HuntGroup{TenantID: "t1", Name: "Sales", Extension: "200", Distribution: distribution.Linear})
	if err != nil {
		t.Fatalf("put hunt: %v", err)
	}
	if hunt.LastSelectedIndex != -1 {
		t.Fatalf("new group cursor should start at -1, got %d", hunt.LastSelectedIndex)
	}

	_, err = r.PutRingGroup(ctx, distribution.RingGroup{TenantID: "t1", Name: "Support", Extension: "200", Strategy: distribution.Simultaneous})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for ring group, got %v", err)
	}
	_, err = r.PutQueue(ctx, queue.CallQueue{TenantID: "t1", Name: "Q", Extension: "200", RingStrategy: distribution.Linear})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for queue, got %v", err)
	}

	// Same extension in another tenant is fine; updating the owner is fine.
	if _, err := r.PutRingGroup(ctx, distribution.RingGroup{TenantID: "t2", Name: "Support", Extension: "200", Strategy: distribution.Simultaneous}); err != nil {
		t.Fatalf("expected tenant isolation, got %v", err)
	}
	hunt.Name = "Sales team"
	if _, err := r.PutHuntGroup(ctx, hunt); err != nil {
		t.Fatalf("update owner: %v", err)
	}
}

func TestGroupCursorSurvivesUpdate(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	g, _ := r.PutHuntGroup(ctx, distribution.HuntGroup{TenantID: "t1", Name: "Sales", Extension: "200", Distribution: distribution.Circular})
	if err := r.SetHuntGroupCursor(ctx, "t1", g.ID, 2); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	g.LastSelectedIndex = 0
	g, _ = r.PutHuntGroup(ctx, g)
	if g.LastSelectedIndex != 2 {
		t.Fatalf("admin update must not reset cursor, got %d", g.LastSelectedIndex)
	}

	got, _ := r.HuntGroupByExtension(ctx, "t1", "200")
	if got.LastSelectedIndex != 2 {
		t.Fatalf("expected cursor 2, got %d", got.LastSelectedIndex)
	}
	if err := r.SetRingGroupCursor(ctx, "t1", "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueueLookupByIDOrExtension(t *testing.T) {
	r := newRepo()
	ctx := context.Background()

	q, _ := r.PutQueue(ctx, queue.CallQueue{ID: "sales", TenantID: "t1", Name: "Sales", Extension: "500", RingStrategy: distribution.Linear})
	for _, ref := range []string{"sales", "500"} {
		got, err := r.Queue(ctx, "t1", ref)
		if err != nil || got.ID != q.ID {
			t.Fatalf("ref %s: got %+v %v", ref, got, err)
		}
	}
	if _, err := r.Queue(ctx, "t1", "501"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapWriteErr(t *testing.T) {
	err := mapWriteErr(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "call_groups_extension"}, "extension 200")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	other := errors.New("boom")
	if got := mapWriteErr(other, "x"); got != other {
		t.Fatalf("expected passthrough, got %v", got)
	}
	if mapWriteErr(nil, "x") != nil {
		t.Fatalf("expected nil")
	}
}
