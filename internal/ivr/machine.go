package ivr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizphone/internal/state"
	"bizphone/pkg/logger"
)

type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateTransferred   State = "transferred"
	StateVoicemail     State = "voicemail"
	StateHungUp        State = "hung_up"
)

// Terminal reports whether no further input is accepted.
func (s State) Terminal() bool { return s != StateAwaitingInput }

var ErrNoSession = errors.New("ivr: no session for call")

const sessionTTL = 2 * time.Hour

// Session is the per-call traversal state.
type Session struct {
	TenantID string `json:"tenant_id"`
	CallID   string `json:"call_id"`
	MenuID   string `json:"menu_id"`
	State    State  `json:"state"`

	// Epoch identifies the prompt currently playing. Every accepted input
	// advances it, so a second event for the same prompt is stale.
	Epoch   int `json:"epoch"`
	Repeats int `json:"repeats"`

	Target    string    `json:"target,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is a caller event for the prompt identified by Epoch.
type Input struct {
	Digit    string
	TimedOut bool
	// Epoch 0 on a digit means "current prompt". Timeouts must carry the
	// epoch they were armed for.
	Epoch int
}

// Outcome is what the call should do next.
type Outcome struct {
	State State
	// Menu is the menu to prompt with while awaiting input.
	Menu  Menu
	Epoch int
	// Target is the transfer route when State is Transferred.
	Target string
	// Stale is set when the input was ignored.
	Stale bool
}

// MenuSource loads menus for submenu navigation.
type MenuSource interface {
	Menu(ctx context.Context, tenantID, menuID string) (Menu, error)
}

type Machine struct {
	store state.Store
	menus MenuSource
	Now   func() time.Time
}

func NewMachine(store state.Store, menus MenuSource) *Machine {
	return &Machine{store: store, menus: menus, Now: time.Now}
}

func sessionKey(tenantID, callID string) string { return state.Key("ivr", tenantID, callID) }

// Start enters menu for callID, replacing any earlier session.
func (m *Machine) Start(ctx context.Context, tenantID, callID string, menu Menu) (Outcome, error) {
	s := Session{
		TenantID:  tenantID,
		CallID:    callID,
		MenuID:    menu.ID,
		State:     StateAwaitingInput,
		Epoch:     1,
		UpdatedAt: m.Now(),
	}
	key := sessionKey(tenantID, callID)
	err := m.store.Locked(ctx, key, func(ctx context.Context) error {
		return m.store.Save(ctx, key, s, sessionTTL)
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{State: s.State, Menu: menu, Epoch: s.Epoch}, nil
}

// Input applies one caller event to the call's session.
func (m *Machine) Input(ctx context.Context, tenantID, callID string, in Input) (Outcome, error) {
	var out Outcome
	key := sessionKey(tenantID, callID)
	err := m.store.Locked(ctx, key, func(ctx context.Context) error {
		var s Session
		ok, err := m.store.Load(ctx, key, &s)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSession
		}

		menu, err := m.menus.Menu(ctx, tenantID, s.MenuID)
		if err != nil {
			return fmt.Errorf("ivr: load menu %s: %w", s.MenuID, err)
		}

		stale := s.State.Terminal() ||
			(in.TimedOut && in.Epoch != s.Epoch) ||
			(!in.TimedOut && in.Epoch != 0 && in.Epoch != s.Epoch)
		if stale {
			logger.From(ctx).Debug("ivr input ignored",
				"menu_id", s.MenuID, "epoch", in.Epoch, "current_epoch", s.Epoch, "state", s.State)
			out = Outcome{State: s.State, Menu: menu, Epoch: s.Epoch, Target: s.Target, Stale: true}
			return nil
		}

		menu, err = m.step(ctx, &s, menu, in)
		if err != nil {
			return err
		}
		s.UpdatedAt = m.Now()
		out = Outcome{State: s.State, Menu: menu, Epoch: s.Epoch, Target: s.Target}
		return m.store.Save(ctx, key, s, sessionTTL)
	})
	return out, err
}

func (m *Machine) step(ctx context.Context, s *Session, menu Menu, in Input) (Menu, error) {
	log := logger.From(ctx).With("menu_id", menu.ID)

	if !in.TimedOut {
		if opt, ok := menu.Option(in.Digit); ok {
			log.Info("ivr digit matched", "digit", in.Digit, "action", opt.Action)
			switch opt.Action {
			case ActionTransfer:
				s.State, s.Target = StateTransferred, opt.Target
			case ActionVoicemail:
				s.State = StateVoicemail
			case ActionHangup:
				s.State = StateHungUp
			case ActionSubmenu:
				sub, err := m.menus.Menu(ctx, s.TenantID, opt.Target)
				if err == nil {
					err = sub.Validate()
				}
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidMenu) {
					// A dangling submenu behaves like an unbound digit.
					log.Warn("ivr submenu unusable", "digit", in.Digit, "submenu_id", opt.Target, "err", err)
					return m.replayOrGiveUp(s, menu), nil
				}
				if err != nil {
					return menu, fmt.Errorf("ivr: load submenu %s: %w", opt.Target, err)
				}
				s.MenuID = sub.ID
				s.Epoch++
				s.Repeats = 0
				return sub, nil
			case ActionRepeat:
				s.Epoch++
			}
			return menu, nil
		}
		log.Info("ivr invalid digit", "digit", in.Digit, "repeats", s.Repeats)
		return m.replayOrGiveUp(s, menu), nil
	}

	log.Info("ivr timeout", "timeout_action", menu.TimeoutAction, "repeats", s.Repeats)
	switch menu.TimeoutAction {
	case ActionTransfer:
		s.State, s.Target = StateTransferred, menu.TimeoutTarget
	case ActionVoicemail:
		s.State = StateVoicemail
	case ActionHangup:
		s.State = StateHungUp
	default:
		return m.replayOrGiveUp(s, menu), nil
	}
	return menu, nil
}

// replayOrGiveUp replays the prompt until MaxRepeats is used up, then runs the
// menu's timeout action, or voicemail when that action is itself a replay.
func (m *Machine) replayOrGiveUp(s *Session, menu Menu) Menu {
	if s.Repeats < menu.maxRepeats() {
		s.Repeats++
		s.Epoch++
		return menu
	}
	switch menu.TimeoutAction {
	case ActionTransfer:
		s.State, s.Target = StateTransferred, menu.TimeoutTarget
	case ActionHangup:
		s.State = StateHungUp
	default:
		s.State = StateVoicemail
	}
	return menu
}

// Session returns the stored session for callID.
func (m *Machine) Session(ctx context.Context, tenantID, callID string) (Session, bool, error) {
	var s Session
	ok, err := m.store.Load(ctx, sessionKey(tenantID, callID), &s)
	return s, ok, err
}

// End drops the call's session.
func (m *Machine) End(ctx context.Context, tenantID, callID string) error {
	return m.store.Delete(ctx, sessionKey(tenantID, callID))
}
