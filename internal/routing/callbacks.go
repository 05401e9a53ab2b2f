package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"bizphone/internal/calls"
	"bizphone/internal/ivr"
	"bizphone/internal/tenant"
	"bizphone/pkg/logger"
)

// DialResult continues a call after a transfer attempt finished. A connected
// call ends with hangup; anything else moves on to the next member, the next
// queue offer or re-entry.
func (o *Orchestrator) DialResult(ctx context.Context, callID string, status calls.DialStatus) Directive {
	return o.run(ctx, callID, false, func(ctx context.Context, st *callState) (Directive, error) {
		t, err := o.tenantOf(ctx, st)
		if err != nil {
			return Directive{}, err
		}
		a := st.Active

		d, retry := status.Disposition()
		if !retry {
			o.endAgents(ctx, st)
			if a != nil && a.Route.Kind == tenant.RouteQueue {
				if q, err := o.Catalog.Queue(ctx, t.ID, a.GroupID); err == nil {
					if err := o.Queues.Leave(ctx, q, st.CallID); err != nil {
						logger.From(ctx).Warn("queue leave failed", "err", err)
					}
				}
			}
			st.Active = nil
			return hangup("dial " + string(status)), nil
		}

		o.releaseAgents(ctx, st)
		if a == nil {
			return o.reenter(ctx, st, t, d)
		}
		logger.From(ctx).Info("dial not answered", "route", a.Route.String(), "status", status)

		switch a.Route.Kind {
		case tenant.RouteHuntGroup, tenant.RouteRingGroup:
			return o.nextMember(ctx, st, t)
		case tenant.RouteQueue:
			q, err := o.Catalog.Queue(ctx, t.ID, a.GroupID)
			if err == nil {
				err = o.Queues.Release(ctx, q, st.CallID)
			}
			if err != nil && !isNotFound(err) {
				return Directive{}, err
			}
			return o.waitQueue(ctx, st, t)
		default:
			return o.reenter(ctx, st, t, d)
		}
	})
}

// MenuInput applies a caller digit or prompt timeout to the call's IVR
// session. Stale events replay the current directive.
func (o *Orchestrator) MenuInput(ctx context.Context, callID string, in ivr.Input) Directive {
	return o.run(ctx, callID, false, func(ctx context.Context, st *callState) (Directive, error) {
		t, err := o.tenantOf(ctx, st)
		if err != nil {
			return Directive{}, err
		}

		out, err := o.IVR.Input(ctx, t.ID, st.CallID, in)
		if errors.Is(err, ivr.ErrNoSession) && st.Last != nil {
			logger.From(ctx).Debug("ivr input without session")
			return *st.Last, nil
		}
		if c := Classify(err); c == ErrNotFound || c == ErrInvalidConfig {
			logger.From(ctx).Warn("ivr menu unusable mid-call", "err", err)
			if err := o.IVR.End(ctx, t.ID, st.CallID); err != nil {
				return Directive{}, err
			}
			return o.reenter(ctx, st, t, st.Disposition)
		}
		if err != nil {
			return Directive{}, err
		}
		if out.Stale {
			if st.Last != nil {
				return *st.Last, nil
			}
			return ivrDirective(out), nil
		}

		switch out.State {
		case ivr.StateAwaitingInput:
			return ivrDirective(out), nil
		case ivr.StateTransferred:
			r, err := tenant.ParseRoute(out.Target)
			if err != nil {
				logger.From(ctx).Warn("ivr transfer target unusable", "target", out.Target, "err", err)
				return o.reenter(ctx, st, t, calls.DispositionNoAnswer)
			}
			return o.dispatch(ctx, st, t, r, 0)
		case ivr.StateVoicemail:
			return o.tenantVoicemail(t, "ivr"), nil
		case ivr.StateHungUp:
			return hangup("ivr"), nil
		}
		return Directive{}, fmt.Errorf("routing: unknown ivr state %q", out.State)
	})
}

// QueueWait is polled while a caller waits in a queue.
func (o *Orchestrator) QueueWait(ctx context.Context, callID string) Directive {
	return o.run(ctx, callID, false, func(ctx context.Context, st *callState) (Directive, error) {
		if st.Active == nil || st.Active.Route.Kind != tenant.RouteQueue {
			if st.Last != nil {
				return *st.Last, nil
			}
			return Directive{}, fmt.Errorf("%w: call %s is not queued", ErrNotFound, callID)
		}
		t, err := o.tenantOf(ctx, st)
		if err != nil {
			return Directive{}, err
		}
		return o.waitQueue(ctx, st, t)
	})
}

// CallEnded releases everything the call still holds: agent claims, its
// queue entry, its IVR session, its park slot and its routing state.
func (o *Orchestrator) CallEnded(ctx context.Context, callID string) error {
	ctx, _ = logger.WithCall(ctx, "", callID)
	key := callKey(callID)
	return o.State.Locked(ctx, key, func(ctx context.Context) error {
		var st callState
		ok, err := o.State.Load(ctx, key, &st)
		if err != nil {
			return err
		}
		if !ok || st.TenantID == "" {
			return o.State.Delete(ctx, key)
		}
		ctx, _ = logger.WithCall(ctx, st.TenantID, "")

		o.releaseAgents(ctx, &st)
		errs := []error{o.Presence.EndCallAll(ctx, st.TenantID, callID)}
		if a := st.Active; a != nil && a.Route.Kind == tenant.RouteQueue {
			q, err := o.Catalog.Queue(ctx, st.TenantID, a.GroupID)
			if err == nil {
				err = o.Queues.Leave(ctx, q, callID)
			}
			if !isNotFound(err) {
				errs = append(errs, err)
			}
		}
		errs = append(errs, o.IVR.End(ctx, st.TenantID, callID))
		if removed, err := o.Park.RemoveCall(ctx, st.TenantID, callID); err != nil {
			errs = append(errs, err)
		} else if removed {
			logger.From(ctx).Info("parked call hung up")
		}
		errs = append(errs, o.State.Delete(ctx, key))
		return errors.Join(errs...)
	})
}

// AgentLeg tracks a dialed agent's own leg. The agent who answers goes on
// the call in presence, which matters when several members ring at once and
// none was claimed up front. Wrap-up starts when the leg completes.
func (o *Orchestrator) AgentLeg(ctx context.Context, callID, agentID string, status calls.Status) error {
	if agentID == "" {
		return nil
	}
	ctx, _ = logger.WithCall(ctx, "", callID)
	key := callKey(callID)
	return o.State.Locked(ctx, key, func(ctx context.Context) error {
		var st callState
		ok, err := o.State.Load(ctx, key, &st)
		if err != nil {
			return err
		}
		if !ok || st.TenantID == "" {
			return nil
		}
		ctx, _ = logger.WithCall(ctx, st.TenantID, "")
		log := logger.From(ctx).With("extension", agentID, "leg_status", status)

		switch status {
		case calls.StatusInProgress:
			if _, err := o.Presence.StartCall(ctx, st.TenantID, agentID, callID); err != nil {
				return err
			}
			log.Info("agent answered")
			if a := st.Active; a != nil && !slices.Contains(a.Claimed, agentID) {
				a.Claimed = append(a.Claimed, agentID)
				return o.State.Save(ctx, key, st, callTTL)
			}
		case calls.StatusCompleted:
			if _, err := o.Presence.EndCall(ctx, st.TenantID, agentID, callID); err != nil {
				return err
			}
			log.Info("agent leg completed")
		}
		return nil
	})
}

// endAgents ends the connected call for every claimed agent, starting their
// wrap-up.
func (o *Orchestrator) endAgents(ctx context.Context, st *callState) {
	if st.Active == nil {
		return
	}
	for _, ext := range st.Active.Claimed {
		if _, err := o.Presence.EndCall(ctx, st.TenantID, ext, st.CallID); err != nil {
			logger.From(ctx).Warn("presence end call failed", "extension", ext, "err", err)
		}
	}
	st.Active.Claimed = nil
}

// releaseAgents frees agents that were offered the call but never took it.
func (o *Orchestrator) releaseAgents(ctx context.Context, st *callState) {
	if st.Active == nil {
		return
	}
	for _, ext := range st.Active.Claimed {
		if _, err := o.Presence.Release(ctx, st.TenantID, ext, st.CallID); err != nil {
			logger.From(ctx).Warn("presence release failed", "extension", ext, "err", err)
		}
	}
	st.Active.Claimed = nil
}
