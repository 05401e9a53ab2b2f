// Package routing composes tenant resolution, business hours, forwarding
// rules and the distribution components into one directive per call event.
//
// Every entry point returns a Directive and never an error: a live call that
// cannot be routed is sent to generic voicemail and the failure is audited.
package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"bizphone/internal/audit"
	"bizphone/internal/calls"
	"bizphone/internal/catalog"
	"bizphone/internal/distribution"
	"bizphone/internal/hours"
	"bizphone/internal/ivr"
	"bizphone/internal/park"
	"bizphone/internal/presence"
	"bizphone/internal/queue"
	"bizphone/internal/state"
	"bizphone/internal/tenant"
	"bizphone/pkg/logger"
)

const (
	callTTL = 4 * time.Hour

	defaultMaxHops     = 5
	defaultRingTimeout = 20
	defaultGreeting    = "The person you are trying to reach is not available. Please leave a message after the tone."
)

type Options struct {
	// MaxHops bounds re-entries per call; beyond it the call goes to voicemail.
	MaxHops int
	// DefaultRingTimeout in seconds when neither rule nor group sets one.
	DefaultRingTimeout int
	// VoicemailGreeting is used for the generic fallback and for tenants
	// without their own greeting.
	VoicemailGreeting string
	AIStreamURL       string
	ParkTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxHops <= 0 {
		o.MaxHops = defaultMaxHops
	}
	if o.DefaultRingTimeout <= 0 {
		o.DefaultRingTimeout = defaultRingTimeout
	}
	if o.VoicemailGreeting == "" {
		o.VoicemailGreeting = defaultGreeting
	}
	if o.ParkTimeout <= 0 {
		o.ParkTimeout = park.DefaultTimeout
	}
	return o
}

// Orchestrator drives calls through Resolving, HoursCheck, RuleEval and
// Dispatch. Per-call progress lives in State so any replica can serve the
// next webhook for the same call.
type Orchestrator struct {
	Catalog  catalog.Reader
	Resolver *tenant.Resolver
	Presence *presence.Tracker
	Queues   *queue.Manager
	IVR      *ivr.Machine
	Park     *park.Manager
	Selector *distribution.Selector
	State    state.Store
	Audit    *audit.Service

	Options Options
	Now     func() time.Time
}

// New wires the routing components over one catalog and one state store.
// sel may be nil.
func New(cat catalog.Reader, store state.Store, au *audit.Service, sel *distribution.Selector, opts Options) *Orchestrator {
	if sel == nil {
		sel = distribution.NewSelector(nil)
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		Catalog:  cat,
		Resolver: tenant.NewResolver(cat),
		Presence: presence.NewTracker(store),
		Queues:   queue.NewManager(store, sel),
		IVR:      ivr.NewMachine(store, cat),
		Park:     park.NewManager(store, opts.ParkTimeout),
		Selector: sel,
		State:    store,
		Audit:    au,
		Options:  opts,
		Now:      time.Now,
	}
}

// SetClock replaces the clock of the orchestrator and every component it owns.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.Now = now
	o.Presence.Now = now
	o.Queues.Now = now
	o.IVR.Now = now
	o.Park.Now = now
}

func (o *Orchestrator) now() time.Time { return o.Now() }

// callState is the per-call routing document.
type callState struct {
	CallID        string            `json:"call_id"`
	TenantID      string            `json:"tenant_id,omitempty"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	RequiredSkill string            `json:"required_skill,omitempty"`
	Disposition   calls.Disposition `json:"disposition"`

	Hours      hours.Status  `json:"hours"`
	AfterHours *tenant.Route `json:"after_hours,omitempty"`

	Hops      int      `json:"hops"`
	Attempted []string `json:"attempted,omitempty"`

	Active *activeDispatch `json:"active,omitempty"`

	// Last is replayed for stale or duplicate webhooks.
	Last *Directive `json:"last,omitempty"`
}

// activeDispatch is the destination currently ringing or holding the call.
type activeDispatch struct {
	Route       tenant.Route          `json:"route"`
	GroupID     string                `json:"group_id,omitempty"`
	Strategy    distribution.Strategy `json:"strategy,omitempty"`
	Overflow    string                `json:"overflow,omitempty"`
	RingTimeout int                   `json:"ring_timeout,omitempty"`

	// Tried are members already offered this call.
	Tried []string `json:"tried,omitempty"`
	// Claimed are agents reserved in presence for this call.
	Claimed []string `json:"claimed,omitempty"`
}

func callKey(callID string) string { return state.Key("call", callID) }

func (s *callState) attempted(r tenant.Route) bool {
	return slices.Contains(s.Attempted, r.String())
}

func (s *callState) markAttempted(r tenant.Route) {
	if !s.attempted(r) {
		s.Attempted = append(s.Attempted, r.String())
	}
}

var errNoCall = fmt.Errorf("%w: no routing state for call", ErrNotFound)

// run executes fn inside the call's critical section and persists the call
// state. Errors and panics become the generic voicemail directive.
func (o *Orchestrator) run(ctx context.Context, callID string, fresh bool, fn func(ctx context.Context, st *callState) (Directive, error)) Directive {
	ctx, log := logger.WithCall(ctx, "", callID)
	var (
		st  callState
		out Directive
	)
	key := callKey(callID)
	err := o.State.Locked(ctx, key, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("routing: panic: %v", r)
			}
		}()
		if !fresh {
			ok, err := o.State.Load(ctx, key, &st)
			if err != nil {
				return err
			}
			if !ok {
				return errNoCall
			}
			ctx, _ = logger.WithCall(ctx, st.TenantID, "")
		}
		st.CallID = callID

		d, err := fn(ctx, &st)
		if err != nil {
			return err
		}
		d.CallID = callID
		d.TenantID = st.TenantID
		out = d
		st.Last = &d
		return o.State.Save(ctx, key, st, callTTL)
	})
	if err == nil {
		log.Info("routing directive", "tenant_id", out.TenantID, "action", out.Action, "reason", out.Reason)
		return out
	}

	log.Error("routing failed, sending call to voicemail", "tenant_id", st.TenantID, "err", err)
	if st.TenantID != "" {
		if aerr := o.Audit.LogFallback(ctx, st.TenantID, callID, err.Error()); aerr != nil && !errors.Is(aerr, audit.ErrNotConfigured) {
			log.Warn("audit fallback failed", "err", aerr)
		}
	}
	d := o.generic(err.Error())
	d.CallID = callID
	d.TenantID = st.TenantID
	return d
}

// Route decides what to do with a new inbound call.
func (o *Orchestrator) Route(ctx context.Context, ev calls.Event) Directive {
	return o.run(ctx, ev.CallID, true, func(ctx context.Context, st *callState) (Directive, error) {
		*st = callState{
			CallID:        st.CallID,
			From:          ev.From,
			To:            ev.To,
			RequiredSkill: ev.RequiredSkill,
			Disposition:   ev.Disposition,
		}
		if st.Disposition == "" {
			st.Disposition = calls.DispositionRinging
		}

		t, def, err := o.Resolver.Resolve(ctx, ev.To)
		switch {
		case err == nil:
		case errors.Is(err, tenant.ErrNotFound):
			logger.From(ctx).Warn("no tenant owns dialed number", "to", ev.To)
			return o.generic("unknown number"), nil
		case errors.Is(err, tenant.ErrInvalidRoute):
			logger.From(ctx).Warn("tenant default route is invalid", "tenant_id", t.ID, "err", err)
			def = tenant.Route{Kind: tenant.RouteVoicemail}
		default:
			return Directive{}, err
		}

		st.TenantID = t.ID
		ctx, _ = logger.WithCall(ctx, t.ID, "")
		o.checkHours(ctx, st)
		return o.decide(ctx, st, t, def)
	})
}

func (o *Orchestrator) checkHours(ctx context.Context, st *callState) {
	log := logger.From(ctx)
	cfg, err := o.Catalog.BusinessHours(ctx, st.TenantID)
	if err != nil {
		log.Warn("business hours unavailable", "err", err)
		st.Hours = hours.Unknown
		return
	}
	status, err := hours.Evaluate(cfg, o.now())
	if err != nil {
		log.Warn("business hours config unusable", "err", err)
	}
	st.Hours = status
	if cfg == nil || !status.IsClosed() {
		return
	}
	r, ok, err := cfg.AfterHoursRoute()
	if err != nil {
		log.Warn("after-hours action unusable", "err", err)
		return
	}
	if ok {
		st.AfterHours = &r
	}
}

// decide evaluates forwarding rules, then the after-hours action, then the
// tenant's default route.
func (o *Orchestrator) decide(ctx context.Context, st *callState, t tenant.Tenant, def tenant.Route) (Directive, error) {
	if sel, ok := o.selectRule(ctx, st); ok {
		logger.From(ctx).Info("forwarding rule matched", "rule_id", sel.Rule.ID, "route", sel.Route.String())
		return o.dispatch(ctx, st, t, sel.Route, sel.Rule.RingTimeout)
	}
	if st.Hours.IsClosed() && st.AfterHours != nil {
		return o.dispatch(ctx, st, t, *st.AfterHours, 0)
	}
	return o.dispatch(ctx, st, t, def, 0)
}

func (o *Orchestrator) tenantOf(ctx context.Context, st *callState) (tenant.Tenant, error) {
	t, _, err := o.Resolver.Resolve(ctx, st.To)
	if err != nil && !errors.Is(err, tenant.ErrInvalidRoute) {
		return tenant.Tenant{}, err
	}
	if t.ID != st.TenantID {
		return tenant.Tenant{}, fmt.Errorf("%w: %s no longer belongs to tenant %s", ErrNotFound, st.To, st.TenantID)
	}
	return t, nil
}

func (o *Orchestrator) generic(reason string) Directive {
	return voicemail(o.Options.VoicemailGreeting, false, reason)
}

func (o *Orchestrator) tenantVoicemail(t tenant.Tenant, reason string) Directive {
	greeting := t.VoicemailGreeting
	if greeting == "" {
		greeting = o.Options.VoicemailGreeting
	}
	return voicemail(greeting, t.TranscribeVoicemail, reason)
}

func (o *Orchestrator) ringTimeout(n int) int {
	if n > 0 {
		return n
	}
	return o.Options.DefaultRingTimeout
}
