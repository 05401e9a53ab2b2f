package forwarding

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"bizphone/internal/calls"
	"bizphone/internal/hours"
	"bizphone/internal/tenant"
)

var t0 = time.Unix(1700000000, 0).UTC()

func rule(id string, rt RuleType, prio int, to string) Rule {
	return Rule{ID: id, TenantID: "t1", RuleType: rt, ForwardTo: to, ForwardType: ForwardExtension, Priority: prio, IsEnabled: true, CreatedAt: t0}
}

func TestSelect_AfterHoursOnlyWhenClosed(t *testing.T) {
	rules := []Rule{
		{ID: "vm", TenantID: "t1", RuleType: RuleAfterHours, ForwardType: ForwardVoicemail, Priority: 1, IsEnabled: true},
	}
	ctx := context.Background()

	if _, ok := Select(ctx, rules, calls.DispositionRinging, hours.Open, Options{}); ok {
		t.Fatalf("after_hours must not match when open")
	}
	if _, ok := Select(ctx, rules, calls.DispositionRinging, hours.Unknown, Options{}); ok {
		t.Fatalf("after_hours must not match when unknown")
	}
	sel, ok := Select(ctx, rules, calls.DispositionRinging, hours.Closed, Options{})
	if !ok || sel.Route.Kind != tenant.RouteVoicemail {
		t.Fatalf("expected voicemail selection, got %+v %v", sel, ok)
	}
}

func TestSelect_DispositionMatching(t *testing.T) {
	rules := []Rule{
		rule("busy", RuleBusy, 1, "201"),
		rule("na", RuleNoAnswer, 2, "202"),
		rule("custom", RuleCustom, 0, "299"),
	}
	ctx := context.Background()

	if _, ok := Select(ctx, rules, calls.DispositionRinging, hours.Open, Options{}); ok {
		t.Fatalf("nothing should match ringing")
	}
	if sel, _ := Select(ctx, rules, calls.DispositionBusy, hours.Open, Options{}); sel.Rule.ID != "busy" {
		t.Fatalf("expected busy rule, got %q", sel.Rule.ID)
	}
	if sel, _ := Select(ctx, rules, calls.DispositionNoAnswer, hours.Open, Options{}); sel.Rule.ID != "na" {
		t.Fatalf("expected no_answer rule, got %q", sel.Rule.ID)
	}
}

func TestSelect_TieBreaksOnCreationThenID(t *testing.T) {
	a := rule("b", RuleAlways, 5, "201")
	a.CreatedAt = t0.Add(time.Second)
	b := rule("c", RuleAlways, 5, "202")
	b.CreatedAt = t0
	c := rule("a", RuleAlways, 5, "203")
	c.CreatedAt = t0

	sel, ok := Select(context.Background(), []Rule{a, b, c}, calls.DispositionRinging, hours.Open, Options{})
	if !ok || sel.Rule.ID != "a" {
		t.Fatalf("expected rule a, got %+v", sel.Rule)
	}
}

func TestSelect_SkipsDisabledExpiredMalformedAndExcluded(t *testing.T) {
	past := t0.Add(-time.Minute)
	disabled := rule("disabled", RuleAlways, 1, "201")
	disabled.IsEnabled = false
	expired := rule("expired", RuleAlways, 2, "202")
	expired.ExpiresAt = &past
	malformed := rule("malformed", RuleAlways, 3, "not-an-ext")
	excluded := rule("excluded", RuleAlways, 4, "204")
	good := rule("good", RuleAlways, 5, "205")

	sel, ok := Select(context.Background(), []Rule{good, excluded, malformed, expired, disabled}, calls.DispositionRinging, hours.Open, Options{
		Now: t0,
		Exclude: func(r tenant.Route) bool {
			return r.Ref == "204"
		},
	})
	if !ok || sel.Rule.ID != "good" {
		t.Fatalf("expected good rule, got %+v %v", sel.Rule, ok)
	}
}

// reference is a brute-force model of Select for valid rule sets.
func reference(rules []Rule, d calls.Disposition, st hours.Status) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range rules {
		if !r.IsEnabled || !Matches(r.RuleType, d, st) {
			continue
		}
		if !found || r.Priority < best.Priority ||
			(r.Priority == best.Priority && r.CreatedAt.Before(best.CreatedAt)) ||
			(r.Priority == best.Priority && r.CreatedAt.Equal(best.CreatedAt) && r.ID < best.ID) {
			best = r
			found = true
		}
	}
	return best, found
}

func TestSelect_RandomizedAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []RuleType{RuleAlways, RuleBusy, RuleNoAnswer, RuleAfterHours, RuleCustom}
	dispositions := []calls.Disposition{calls.DispositionRinging, calls.DispositionBusy, calls.DispositionNoAnswer}
	statuses := []hours.Status{hours.Open, hours.Closed, hours.Unknown}
	ctx := context.Background()

	for iter := 0; iter < 2000; iter++ {
		n := rng.Intn(8)
		rules := make([]Rule, 0, n)
		for i := 0; i < n; i++ {
			r := rule(fmt.Sprintf("r%02d", i), types[rng.Intn(len(types))], rng.Intn(4), fmt.Sprintf("%d", 100+i))
			r.CreatedAt = t0.Add(time.Duration(rng.Intn(3)) * time.Second)
			r.IsEnabled = rng.Intn(5) != 0
			rules = append(rules, r)
		}
		rng.Shuffle(len(rules), func(i, j int) { rules[i], rules[j] = rules[j], rules[i] })

		d := dispositions[rng.Intn(len(dispositions))]
		st := statuses[rng.Intn(len(statuses))]

		want, wantOK := reference(rules, d, st)
		got, gotOK := Select(ctx, rules, d, st, Options{})
		if wantOK != gotOK || (wantOK && want.ID != got.Rule.ID) {
			t.Fatalf("iter %d: d=%s st=%s got (%s,%v) want (%s,%v)", iter, d, st, got.Rule.ID, gotOK, want.ID, wantOK)
		}

		again, _ := Select(ctx, rules, d, st, Options{})
		if again.Rule.ID != got.Rule.ID {
			t.Fatalf("iter %d: non-deterministic selection", iter)
		}
	}
}

func TestRuleRoute(t *testing.T) {
	cases := []struct {
		r    Rule
		want tenant.Route
	}{
		{Rule{ForwardType: ForwardNumber, ForwardTo: "+1 555 000 1111"}, tenant.Route{Kind: tenant.RouteNumber, Ref: "+15550001111"}},
		{Rule{ForwardType: ForwardHuntGroup, ForwardTo: "600"}, tenant.Route{Kind: tenant.RouteHuntGroup, Ref: "600"}},
		{Rule{ForwardType: ForwardIVR}, tenant.Route{Kind: tenant.RouteIVR}},
		{Rule{ForwardTo: "queue:sales"}, tenant.Route{Kind: tenant.RouteQueue, Ref: "sales"}},
	}
	for _, c := range cases {
		got, err := c.r.Route()
		if err != nil {
			t.Fatalf("%+v: %v", c.r, err)
		}
		if got != c.want {
			t.Fatalf("got %+v want %+v", got, c.want)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	ok := rule("x", RuleBusy, 1, "201")
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	bad := ok
	bad.RuleType = "sometimes"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown rule type")
	}
	bad = ok
	bad.ForwardType = ForwardNumber
	bad.ForwardTo = "12"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for bad number")
	}
}
