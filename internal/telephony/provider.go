// Package telephony adapts provider webhooks to the routing engine and
// renders its directives back into provider call-control documents.
//
// Rules:
//   - No routing decisions here; adapters translate and delegate.
//   - A webhook for a live call always gets a playable document.
package telephony

import (
	"context"

	"bizphone/internal/calls"
	"bizphone/internal/ivr"
	"bizphone/internal/routing"
)

// Router is the engine surface a provider adapter drives.
// *routing.Orchestrator implements it.
type Router interface {
	Route(ctx context.Context, ev calls.Event) routing.Directive
	DialResult(ctx context.Context, callID string, status calls.DialStatus) routing.Directive
	MenuInput(ctx context.Context, callID string, in ivr.Input) routing.Directive
	QueueWait(ctx context.Context, callID string) routing.Directive
	CallEnded(ctx context.Context, callID string) error
	AgentLeg(ctx context.Context, callID, agentID string, status calls.Status) error
}

var _ Router = (*routing.Orchestrator)(nil)

// Webhook paths, relative to the public base URL.
const (
	PathVoice      = "/webhooks/twilio/voice"
	PathDialStatus = "/webhooks/twilio/dial-status"
	PathIVR        = "/webhooks/twilio/ivr"
	PathQueueWait  = "/webhooks/twilio/queue-wait"
	PathStatus     = "/webhooks/twilio/status"
	PathVoicemail  = "/webhooks/twilio/voicemail"
	PathAgentLeg   = "/webhooks/twilio/agent-leg"
)
