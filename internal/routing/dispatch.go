package routing

import (
	"context"
	"slices"
	"time"

	"bizphone/internal/calls"
	"bizphone/internal/distribution"
	"bizphone/internal/forwarding"
	"bizphone/internal/ivr"
	"bizphone/internal/presence"
	"bizphone/internal/queue"
	"bizphone/internal/state"
	"bizphone/internal/tenant"
	"bizphone/pkg/logger"
)

func (o *Orchestrator) selectRule(ctx context.Context, st *callState) (forwarding.Selection, bool) {
	rules, err := o.Catalog.ForwardingRules(ctx, st.TenantID)
	if err != nil {
		logger.From(ctx).Warn("forwarding rules unavailable", "err", err)
		return forwarding.Selection{}, false
	}
	return forwarding.Select(ctx, rules, st.Disposition, st.Hours, forwarding.Options{
		Now:     o.now(),
		Exclude: st.attempted,
	})
}

// dispatch hands the call to the component that owns route.
func (o *Orchestrator) dispatch(ctx context.Context, st *callState, t tenant.Tenant, route tenant.Route, ringTimeout int) (Directive, error) {
	st.markAttempted(route)
	st.Active = nil
	log := logger.From(ctx).With("route", route.String())

	switch route.Kind {
	case tenant.RouteAI:
		return Directive{
			Action: ActionAI,
			AI: &AIDirective{
				Greeting:       t.AI.Greeting,
				Prompt:         t.AI.Prompt,
				Voice:          t.AI.Voice,
				TransferTarget: t.AI.TransferTarget,
				StreamURL:      o.Options.AIStreamURL,
			},
		}, nil

	case tenant.RouteVoicemail:
		return o.tenantVoicemail(t, ""), nil

	case tenant.RouteHangup:
		return hangup(""), nil

	case tenant.RouteIVR:
		return o.startIVR(ctx, st, t, route.Ref)

	case tenant.RouteNumber:
		st.Active = &activeDispatch{Route: route, RingTimeout: ringTimeout}
		return transfer(TargetNumber, []string{route.Ref}, o.ringTimeout(ringTimeout), route.String()), nil

	case tenant.RouteExtension:
		return o.dialExtension(ctx, st, t, route, ringTimeout)

	case tenant.RouteHuntGroup:
		g, err := o.Catalog.HuntGroupByExtension(ctx, t.ID, route.Ref)
		if isNotFound(err) {
			log.Warn("hunt group not found")
			return o.reenter(ctx, st, t, st.Disposition)
		}
		if err != nil {
			return Directive{}, err
		}
		return o.ringHunt(ctx, st, t, g)

	case tenant.RouteRingGroup:
		g, err := o.Catalog.RingGroupByExtension(ctx, t.ID, route.Ref)
		if isNotFound(err) {
			log.Warn("ring group not found")
			return o.reenter(ctx, st, t, st.Disposition)
		}
		if err != nil {
			return Directive{}, err
		}
		return o.ringGroup(ctx, st, t, g)

	case tenant.RouteQueue:
		q, err := o.Catalog.Queue(ctx, t.ID, route.Ref)
		if isNotFound(err) {
			log.Warn("queue not found")
			return o.reenter(ctx, st, t, st.Disposition)
		}
		if err != nil {
			return Directive{}, err
		}
		return o.enterQueue(ctx, st, t, q)
	}

	log.Warn("unroutable destination")
	return o.reenter(ctx, st, t, st.Disposition)
}

// dialExtension rings a bare extension, which may name a hunt group, ring
// group or queue before it names an agent.
func (o *Orchestrator) dialExtension(ctx context.Context, st *callState, t tenant.Tenant, route tenant.Route, ringTimeout int) (Directive, error) {
	ext := route.Ref

	if g, err := o.Catalog.HuntGroupByExtension(ctx, t.ID, ext); err == nil {
		return o.ringHunt(ctx, st, t, g)
	} else if !isNotFound(err) {
		return Directive{}, err
	}
	if g, err := o.Catalog.RingGroupByExtension(ctx, t.ID, ext); err == nil {
		return o.ringGroup(ctx, st, t, g)
	} else if !isNotFound(err) {
		return Directive{}, err
	}
	if q, err := o.Catalog.Queue(ctx, t.ID, ext); err == nil {
		return o.enterQueue(ctx, st, t, q)
	} else if !isNotFound(err) {
		return Directive{}, err
	}

	st.Active = &activeDispatch{Route: route, RingTimeout: ringTimeout}
	ok, err := o.Presence.Claim(ctx, t.ID, ext, st.CallID, 0)
	if err != nil {
		return Directive{}, err
	}
	if !ok {
		logger.From(ctx).Info("extension busy", "extension", ext)
		return o.reenter(ctx, st, t, calls.DispositionBusy)
	}
	st.Active.Claimed = []string{ext}
	return transfer(TargetExtension, []string{ext}, o.ringTimeout(ringTimeout), route.String()), nil
}

func (o *Orchestrator) startIVR(ctx context.Context, st *callState, t tenant.Tenant, menuID string) (Directive, error) {
	var (
		menu ivr.Menu
		err  error
	)
	if menuID == "" {
		menu, err = o.Catalog.DefaultMenu(ctx, t.ID)
	} else {
		menu, err = o.Catalog.Menu(ctx, t.ID, menuID)
	}
	if err == nil {
		err = menu.Validate()
	}
	switch Classify(err) {
	case nil:
	case ErrNotFound, ErrInvalidConfig:
		logger.From(ctx).Warn("ivr menu unusable", "menu_id", menuID, "err", err)
		return o.reenter(ctx, st, t, st.Disposition)
	}
	if err != nil {
		return Directive{}, err
	}

	out, err := o.IVR.Start(ctx, t.ID, st.CallID, menu)
	if err != nil {
		return Directive{}, err
	}
	return ivrDirective(out), nil
}

func ivrDirective(out ivr.Outcome) Directive {
	return Directive{
		Action: ActionIVR,
		IVR: &IVRDirective{
			MenuID:   out.Menu.ID,
			Greeting: out.Menu.Greeting,
			Timeout:  out.Menu.TimeoutSeconds(),
			Epoch:    out.Epoch,
		},
	}
}

func (o *Orchestrator) ringHunt(ctx context.Context, st *callState, t tenant.Tenant, g distribution.HuntGroup) (Directive, error) {
	route := tenant.Route{Kind: tenant.RouteHuntGroup, Ref: g.Extension}
	st.markAttempted(route)
	st.Active = &activeDispatch{
		Route:       route,
		GroupID:     g.ID,
		Strategy:    g.Distribution,
		Overflow:    g.Overflow,
		RingTimeout: g.RingTime,
	}
	return o.nextMember(ctx, st, t)
}

func (o *Orchestrator) ringGroup(ctx context.Context, st *callState, t tenant.Tenant, g distribution.RingGroup) (Directive, error) {
	route := tenant.Route{Kind: tenant.RouteRingGroup, Ref: g.Extension}
	st.markAttempted(route)
	st.Active = &activeDispatch{
		Route:       route,
		GroupID:     g.ID,
		Strategy:    g.Strategy,
		Overflow:    g.NoAnswerDestination,
		RingTimeout: g.RingTime,
	}
	return o.nextMember(ctx, st, t)
}

// group is the live view of a hunt or ring group inside its critical section.
type group struct {
	Members  []distribution.Member
	Cursor   int
	Strategy distribution.Strategy
	WrapUp   time.Duration
}

func (o *Orchestrator) loadGroup(ctx context.Context, tenantID string, r tenant.Route) (group, error) {
	if r.Kind == tenant.RouteHuntGroup {
		g, err := o.Catalog.HuntGroupByExtension(ctx, tenantID, r.Ref)
		if err != nil {
			return group{}, err
		}
		return group{
			Members:  g.Members,
			Cursor:   g.LastSelectedIndex,
			Strategy: g.Distribution,
			WrapUp:   time.Duration(g.WrapUpTime) * time.Second,
		}, nil
	}
	g, err := o.Catalog.RingGroupByExtension(ctx, tenantID, r.Ref)
	if err != nil {
		return group{}, err
	}
	return group{Members: g.Members, Cursor: g.LastSelectedIndex, Strategy: g.Strategy}, nil
}

func (o *Orchestrator) saveCursor(ctx context.Context, tenantID string, a *activeDispatch, index int) error {
	if a.Route.Kind == tenant.RouteHuntGroup {
		return o.Catalog.SetHuntGroupCursor(ctx, tenantID, a.GroupID, index)
	}
	return o.Catalog.SetRingGroupCursor(ctx, tenantID, a.GroupID, index)
}

// eligibleFor cross-checks members against a presence snapshot. Registered
// agents answer for themselves. For agents no client has registered, the
// member's own CurrentCalls count stands in and routing's hold is honoured.
func eligibleFor(snap map[string]presence.Presence, now time.Time, wrapUp time.Duration, tried *[]string) func(distribution.Member) bool {
	return func(m distribution.Member) bool {
		if tried != nil && slices.Contains(*tried, m.Extension) {
			return false
		}
		p := snap[m.Extension]
		if !p.Registered && m.CurrentCalls > 0 {
			return false
		}
		return p.Free(now, wrapUp)
	}
}

// nextMember offers the call to the next eligible member(s) of the active
// hunt or ring group. Selection, the presence claim and the cursor update
// happen under one group lock so concurrent calls never pick the same agent.
func (o *Orchestrator) nextMember(ctx context.Context, st *callState, t tenant.Tenant) (Directive, error) {
	a := st.Active
	log := logger.From(ctx).With("group_id", a.GroupID, "strategy", a.Strategy)
	a.Claimed = nil

	var picked []string
	lockKey := state.Key("group", t.ID, string(a.Route.Kind), a.GroupID)
	err := o.State.Locked(ctx, lockKey, func(ctx context.Context) error {
		g, err := o.loadGroup(ctx, t.ID, a.Route)
		if err != nil {
			return err
		}
		snap, err := o.Presence.Snapshot(ctx, t.ID)
		if err != nil {
			return err
		}
		eligible := eligibleFor(snap, o.now(), g.WrapUp, &a.Tried)

		cursor := g.Cursor
		for {
			res, err := o.Selector.Pick(distribution.Request{
				Strategy:      g.Strategy,
				Members:       g.Members,
				Cursor:        cursor,
				RequiredSkill: st.RequiredSkill,
				Eligible:      eligible,
			})
			if err != nil {
				return err
			}
			if res.Exhausted {
				return nil
			}
			exts := res.Extensions()
			a.Tried = append(a.Tried, exts...)
			if g.Strategy == distribution.Simultaneous {
				picked = exts
				return nil
			}

			cursor = res.Index
			ok, err := o.Presence.Claim(ctx, t.ID, exts[0], st.CallID, g.WrapUp)
			if err != nil {
				return err
			}
			if !ok {
				log.Debug("member taken by another call", "extension", exts[0])
				continue
			}
			picked = exts
			a.Claimed = exts
			return o.saveCursor(ctx, t.ID, a, res.Index)
		}
	})
	if isNotFound(err) {
		log.Warn("group disappeared while routing")
		return o.reenter(ctx, st, t, calls.DispositionNoAnswer)
	}
	if err != nil {
		return Directive{}, err
	}

	if len(picked) == 0 {
		d := calls.DispositionNoAnswer
		if len(a.Tried) == 0 {
			d = calls.DispositionBusy
		}
		log.Info("group exhausted", "tried", len(a.Tried))
		return o.reenter(ctx, st, t, d)
	}
	return transfer(TargetExtension, picked, o.ringTimeout(a.RingTimeout), a.Route.String()), nil
}

func (o *Orchestrator) enterQueue(ctx context.Context, st *callState, t tenant.Tenant, q queue.CallQueue) (Directive, error) {
	route := tenant.Route{Kind: tenant.RouteQueue, Ref: q.ID}
	st.markAttempted(route)
	if q.Extension != "" {
		st.markAttempted(tenant.Route{Kind: tenant.RouteQueue, Ref: q.Extension})
	}
	if _, err := o.Queues.Enqueue(ctx, q, st.CallID, st.From); err != nil {
		return Directive{}, err
	}
	st.Active = &activeDispatch{
		Route:       route,
		GroupID:     q.ID,
		Strategy:    q.RingStrategy,
		Overflow:    q.Overflow,
		RingTimeout: q.RingTimeout,
	}
	return o.waitQueue(ctx, st, t)
}

// waitQueue observes the call's place in its queue and rings agents once it
// reaches the head of the line.
func (o *Orchestrator) waitQueue(ctx context.Context, st *callState, t tenant.Tenant) (Directive, error) {
	a := st.Active
	log := logger.From(ctx).With("queue_id", a.GroupID)
	a.Claimed = nil

	q, err := o.Catalog.Queue(ctx, t.ID, a.GroupID)
	if isNotFound(err) {
		log.Warn("queue disappeared while waiting")
		return o.reenter(ctx, st, t, calls.DispositionNoAnswer)
	}
	if err != nil {
		return Directive{}, err
	}

	snap, err := o.Presence.Snapshot(ctx, t.ID)
	if err != nil {
		return Directive{}, err
	}
	wrapUp := time.Duration(q.WrapUpTime) * time.Second
	eligible := eligibleFor(snap, o.now(), wrapUp, nil)
	claim := func(ctx context.Context, ext string) (bool, error) {
		return o.Presence.Claim(ctx, t.ID, ext, st.CallID, wrapUp)
	}

	res, err := o.Queues.Wait(ctx, q, st.CallID, eligible, claim)
	if isNotFound(err) {
		// The FIFO lost the call, e.g. after a state flush. Put it back.
		if _, err := o.Queues.Enqueue(ctx, q, st.CallID, st.From); err != nil {
			return Directive{}, err
		}
		res, err = o.Queues.Wait(ctx, q, st.CallID, eligible, claim)
	}
	if err != nil {
		return Directive{}, err
	}

	switch res.Outcome {
	case queue.OutcomeConnect:
		if q.RingStrategy != distribution.Simultaneous {
			a.Claimed = res.Targets
		}
		a.Tried = append(a.Tried, res.Targets...)
		return transfer(TargetExtension, res.Targets, o.ringTimeout(q.RingTimeout), a.Route.String()), nil
	case queue.OutcomeWaiting:
		return Directive{
			Action: ActionQueue,
			Queue:  &QueueDirective{QueueID: q.ID, Name: q.Name, Position: res.Position},
		}, nil
	default:
		log.Info("leaving queue", "outcome", res.Outcome, "waited", res.Waited)
		return o.reenter(ctx, st, t, calls.DispositionNoAnswer)
	}
}

// reenter routes a call whose destination could not take it. The active
// destination's overflow wins, then forwarding rules for the disposition,
// then the tenant's voicemail. Hops are bounded.
func (o *Orchestrator) reenter(ctx context.Context, st *callState, t tenant.Tenant, d calls.Disposition) (Directive, error) {
	log := logger.From(ctx)
	st.Hops++
	st.Disposition = d
	if st.Hops > o.Options.MaxHops {
		log.Warn("routing hop limit reached", "hops", st.Hops)
		return o.tenantVoicemail(t, "hop limit reached"), nil
	}

	if a := st.Active; a != nil && a.Overflow != "" {
		r, err := tenant.ParseRoute(a.Overflow)
		switch {
		case err != nil:
			log.Warn("overflow route unusable", "overflow", a.Overflow, "err", err)
		case !st.attempted(r):
			log.Info("overflowing", "from", a.Route.String(), "to", r.String(), "disposition", d)
			return o.dispatch(ctx, st, t, r, 0)
		}
	}

	if sel, ok := o.selectRule(ctx, st); ok {
		log.Info("forwarding rule matched on re-entry", "rule_id", sel.Rule.ID, "route", sel.Route.String(), "disposition", d)
		return o.dispatch(ctx, st, t, sel.Route, sel.Rule.RingTimeout)
	}
	return o.tenantVoicemail(t, "no destination answered"), nil
}
