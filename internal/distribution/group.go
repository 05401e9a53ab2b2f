package distribution

import (
	"errors"
	"fmt"
	"strings"

	"bizphone/internal/tenant"
)

var ErrInvalidGroup = errors.New("distribution: invalid group")

// HuntGroup routes one call to one member at a time.
type HuntGroup struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	Name         string   `json:"name"`
	Extension    string   `json:"extension"`
	Members      []Member `json:"members"`
	Distribution Strategy `json:"distribution"`

	// WrapUpTime in seconds after a member's call during which they are skipped.
	WrapUpTime int `json:"wrap_up_time"`
	// RingTime in seconds per attempt.
	RingTime int `json:"ring_time"`

	// Overflow is a route string used when the group is exhausted.
	Overflow string `json:"overflow,omitempty"`

	LastSelectedIndex int `json:"last_selected_index"`
}

// RingGroup routes one call to one or many members.
type RingGroup struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	Name      string   `json:"name"`
	Extension string   `json:"extension"`
	Members   []Member `json:"members"`
	Strategy  Strategy `json:"strategy"`
	RingTime  int      `json:"ring_time"`

	NoAnswerDestination string `json:"no_answer_destination,omitempty"`

	LastSelectedIndex int `json:"last_selected_index"`
}

func (g HuntGroup) Validate() error {
	if err := validateCommon(g.TenantID, g.Extension, g.Members); err != nil {
		return err
	}
	if !ValidHunt(g.Distribution) {
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidGroup, g.Distribution)
	}
	if g.Distribution == Weighted {
		total := 0
		for _, m := range g.Members {
			if m.Weight < 0 {
				return fmt.Errorf("%w: negative weight for %s", ErrInvalidGroup, m.Extension)
			}
			total += m.Weight
		}
		if total == 0 {
			return fmt.Errorf("%w: weighted distribution needs a positive weight", ErrInvalidGroup)
		}
	}
	if g.WrapUpTime < 0 || g.RingTime < 0 {
		return fmt.Errorf("%w: times must not be negative", ErrInvalidGroup)
	}
	return validateOverflow(g.Overflow)
}

func (g RingGroup) Validate() error {
	if err := validateCommon(g.TenantID, g.Extension, g.Members); err != nil {
		return err
	}
	if !ValidRing(g.Strategy) {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidGroup, g.Strategy)
	}
	if g.RingTime < 0 {
		return fmt.Errorf("%w: ring_time must not be negative", ErrInvalidGroup)
	}
	return validateOverflow(g.NoAnswerDestination)
}

func validateCommon(tenantID, ext string, members []Member) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidGroup)
	}
	if !tenant.IsExtension(ext) {
		return fmt.Errorf("%w: extension %q must be 2-6 digits", ErrInvalidGroup, ext)
	}
	seen := map[string]bool{}
	for _, m := range members {
		if strings.TrimSpace(m.Extension) == "" {
			return fmt.Errorf("%w: member extension is required", ErrInvalidGroup)
		}
		if seen[m.Extension] {
			return fmt.Errorf("%w: duplicate member %s", ErrInvalidGroup, m.Extension)
		}
		seen[m.Extension] = true
	}
	return nil
}

func validateOverflow(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := tenant.ParseRoute(s); err != nil {
		return fmt.Errorf("%w: overflow: %v", ErrInvalidGroup, err)
	}
	return nil
}
