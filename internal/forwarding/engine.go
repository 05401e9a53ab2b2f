package forwarding

import (
	"context"
	"sort"
	"time"

	"bizphone/internal/calls"
	"bizphone/internal/hours"
	"bizphone/internal/tenant"
	"bizphone/pkg/logger"
)

// Options tune a single selection.
type Options struct {
	// Now filters out expired rules. Zero disables expiry filtering.
	Now time.Time

	// Exclude skips rules whose destination has already been attempted for
	// this call, so that re-entry after exhaustion can move on.
	Exclude func(tenant.Route) bool
}

// Selection is a matched rule together with its parsed destination.
type Selection struct {
	Rule  Rule
	Route tenant.Route
}

// Select returns the first rule, in (priority, created_at, id) order, that
// matches disposition d given the business hours status.
//
// Malformed rules are logged and skipped. Select is deterministic: the same
// inputs always produce the same result.
func Select(ctx context.Context, rules []Rule, d calls.Disposition, st hours.Status, opts Options) (Selection, bool) {
	for _, r := range Ordered(rules) {
		if !r.IsEnabled {
			continue
		}
		if r.ExpiresAt != nil && !opts.Now.IsZero() && !r.ExpiresAt.After(opts.Now) {
			continue
		}
		if !Matches(r.RuleType, d, st) {
			continue
		}
		route, err := r.Route()
		if err != nil {
			logger.From(ctx).Warn("skipping malformed forwarding rule", "rule_id", r.ID, "err", err)
			continue
		}
		if opts.Exclude != nil && opts.Exclude(route) {
			continue
		}
		return Selection{Rule: r, Route: route}, true
	}
	return Selection{}, false
}

// Matches reports whether a rule of type rt applies to disposition d.
func Matches(rt RuleType, d calls.Disposition, st hours.Status) bool {
	if d == "" {
		d = calls.DispositionRinging
	}
	switch rt {
	case RuleAlways:
		return true
	case RuleAfterHours:
		return st.IsClosed()
	case RuleBusy:
		return d == calls.DispositionBusy
	case RuleNoAnswer:
		return d == calls.DispositionNoAnswer
	default:
		return false
	}
}

// Ordered returns a copy of rules in evaluation order.
func Ordered(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
