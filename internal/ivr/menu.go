// Package ivr walks callers through tenant DTMF menus.
package ivr

import (
	"errors"
	"fmt"

	"bizphone/internal/tenant"
)

var (
	ErrInvalidMenu = errors.New("ivr: invalid menu")
	ErrNotFound    = errors.New("ivr: menu not found")
)

type Action string

const (
	ActionTransfer  Action = "transfer"
	ActionVoicemail Action = "voicemail"
	ActionSubmenu   Action = "submenu"
	ActionHangup    Action = "hangup"
	ActionRepeat    Action = "repeat"
)

const (
	DefaultTimeout    = 10
	DefaultMaxRepeats = 3
)

type Option struct {
	Digit  string `json:"digit" binding:"required"`
	Label  string `json:"label"`
	Action Action `json:"action" binding:"required"`
	// Target is a route string for transfer and a menu id for submenu.
	Target string `json:"target,omitempty"`
}

type Menu struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Greeting string   `json:"greeting"`
	Options  []Option `json:"options"`

	// Timeout in seconds to wait for a digit.
	Timeout       int    `json:"timeout"`
	TimeoutAction Action `json:"timeout_action"`
	TimeoutTarget string `json:"timeout_target,omitempty"`

	// MaxRepeats bounds prompt replays caused by timeouts and invalid digits.
	MaxRepeats int  `json:"max_repeats"`
	IsDefault  bool `json:"is_default"`
}

// TimeoutSeconds returns the digit timeout with the default applied.
func (m Menu) TimeoutSeconds() int {
	if m.Timeout <= 0 {
		return DefaultTimeout
	}
	return m.Timeout
}

func (m Menu) maxRepeats() int {
	if m.MaxRepeats <= 0 {
		return DefaultMaxRepeats
	}
	return m.MaxRepeats
}

// Option returns the option bound to digit.
func (m Menu) Option(digit string) (Option, bool) {
	for _, o := range m.Options {
		if o.Digit == digit {
			return o, true
		}
	}
	return Option{}, false
}

func validDigit(d string) bool {
	if len(d) != 1 {
		return false
	}
	c := d[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}

// Validate checks a menu before it is stored.
func (m Menu) Validate() error {
	if m.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidMenu)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMenu)
	}
	if m.Timeout < 0 || m.MaxRepeats < 0 {
		return fmt.Errorf("%w: timeout and max_repeats must not be negative", ErrInvalidMenu)
	}

	seen := map[string]bool{}
	for _, o := range m.Options {
		if !validDigit(o.Digit) {
			return fmt.Errorf("%w: digit %q", ErrInvalidMenu, o.Digit)
		}
		if seen[o.Digit] {
			return fmt.Errorf("%w: duplicate digit %q", ErrInvalidMenu, o.Digit)
		}
		seen[o.Digit] = true

		switch o.Action {
		case ActionVoicemail, ActionHangup, ActionRepeat:
		case ActionTransfer:
			if err := validTransfer(o.Target); err != nil {
				return fmt.Errorf("%w: option %s: %v", ErrInvalidMenu, o.Digit, err)
			}
		case ActionSubmenu:
			if o.Target == "" {
				return fmt.Errorf("%w: option %s: submenu target required", ErrInvalidMenu, o.Digit)
			}
			if o.Target == m.ID && m.ID != "" {
				return fmt.Errorf("%w: option %s: submenu points at itself", ErrInvalidMenu, o.Digit)
			}
		default:
			return fmt.Errorf("%w: option %s: unknown action %q", ErrInvalidMenu, o.Digit, o.Action)
		}
	}

	switch m.TimeoutAction {
	case "", ActionRepeat, ActionVoicemail, ActionHangup:
	case ActionTransfer:
		if err := validTransfer(m.TimeoutTarget); err != nil {
			return fmt.Errorf("%w: timeout: %v", ErrInvalidMenu, err)
		}
	default:
		return fmt.Errorf("%w: timeout_action %q", ErrInvalidMenu, m.TimeoutAction)
	}
	return nil
}

func validTransfer(target string) error {
	r, err := tenant.ParseRoute(target)
	if err != nil {
		return err
	}
	if r.Kind == tenant.RouteIVR {
		return fmt.Errorf("transfer target %q is a menu, use submenu", target)
	}
	return nil
}
