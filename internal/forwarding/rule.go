package forwarding

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bizphone/internal/tenant"
)

var ErrInvalidRule = errors.New("forwarding: invalid rule")

// RuleType selects which call dispositions a rule applies to.
type RuleType string

const (
	RuleAlways     RuleType = "always"
	RuleBusy       RuleType = "busy"
	RuleNoAnswer   RuleType = "no_answer"
	RuleAfterHours RuleType = "after_hours"
	// RuleCustom is matched by caller-supplied predicate data that is not
	// modelled yet; it never matches automatically.
	RuleCustom RuleType = "custom"
)

// ForwardType describes what ForwardTo refers to.
type ForwardType string

const (
	ForwardExtension ForwardType = "extension"
	ForwardNumber    ForwardType = "number"
	ForwardVoicemail ForwardType = "voicemail"
	ForwardAI        ForwardType = "ai"
	ForwardIVR       ForwardType = "ivr"
	ForwardHuntGroup ForwardType = "hunt_group"
	ForwardRingGroup ForwardType = "ring_group"
	ForwardQueue     ForwardType = "queue"
)

// Rule is a tenant-scoped conditional forwarding rule.
type Rule struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	RuleType    RuleType    `json:"rule_type"`
	ForwardTo   string      `json:"forward_to"`
	ForwardType ForwardType `json:"forward_type"`

	// RingTimeout in seconds applies when the destination rings a phone.
	RingTimeout int `json:"ring_timeout"`

	// Priority orders evaluation; lower first. Ties fall back to CreatedAt, then ID.
	Priority  int  `json:"priority"`
	IsEnabled bool `json:"is_enabled"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt makes a rule temporary; expired rules are ignored.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Route converts the rule's destination into a tenant route.
func (r Rule) Route() (tenant.Route, error) {
	to := strings.TrimSpace(r.ForwardTo)
	switch r.ForwardType {
	case ForwardVoicemail:
		return tenant.Route{Kind: tenant.RouteVoicemail}, nil
	case ForwardAI:
		return tenant.Route{Kind: tenant.RouteAI}, nil
	case ForwardIVR:
		return tenant.Route{Kind: tenant.RouteIVR, Ref: to}, nil
	}

	if to == "" {
		return tenant.Route{}, fmt.Errorf("%w: rule %s: forward_to is required", ErrInvalidRule, r.ID)
	}
	switch r.ForwardType {
	case ForwardExtension:
		if !tenant.IsExtension(to) {
			return tenant.Route{}, fmt.Errorf("%w: rule %s: %q is not an extension", ErrInvalidRule, r.ID, to)
		}
		return tenant.Route{Kind: tenant.RouteExtension, Ref: to}, nil
	case ForwardNumber:
		n := tenant.NormalizeNumber(to)
		if !tenant.IsE164(n) && !strings.HasPrefix(strings.ToLower(to), "sip:") {
			return tenant.Route{}, fmt.Errorf("%w: rule %s: %q is not an E.164 number", ErrInvalidRule, r.ID, to)
		}
		if tenant.IsE164(n) {
			to = n
		}
		return tenant.Route{Kind: tenant.RouteNumber, Ref: to}, nil
	case ForwardHuntGroup:
		return tenant.Route{Kind: tenant.RouteHuntGroup, Ref: to}, nil
	case ForwardRingGroup:
		return tenant.Route{Kind: tenant.RouteRingGroup, Ref: to}, nil
	case ForwardQueue:
		return tenant.Route{Kind: tenant.RouteQueue, Ref: to}, nil
	case "":
		// Untyped rules accept any route string.
		route, err := tenant.ParseRoute(to)
		if err != nil {
			return tenant.Route{}, fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
		}
		return route, nil
	default:
		return tenant.Route{}, fmt.Errorf("%w: rule %s: unknown forward_type %q", ErrInvalidRule, r.ID, r.ForwardType)
	}
}

// Validate checks a rule before it is stored.
func (r Rule) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRule)
	}
	switch r.RuleType {
	case RuleAlways, RuleBusy, RuleNoAnswer, RuleAfterHours, RuleCustom:
	default:
		return fmt.Errorf("%w: unknown rule_type %q", ErrInvalidRule, r.RuleType)
	}
	if r.RingTimeout < 0 || r.RingTimeout > 600 {
		return fmt.Errorf("%w: ring_timeout must be between 0 and 600", ErrInvalidRule)
	}
	if _, err := r.Route(); err != nil {
		return err
	}
	return nil
}
