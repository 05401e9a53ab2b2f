package calls

import "time"

// Event is a tenant-agnostic call event delivered by the telephony provider.
//
// The orchestrator resolves the tenant from To; provider-specific fields
// (like Twilio CallSid) are normalised into CallID by the adapter.
type Event struct {
	CallID    string    `json:"call_id"`
	Direction Direction `json:"direction"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`

	// Disposition is the current call disposition hint. Empty means ringing.
	Disposition Disposition `json:"disposition,omitempty"`

	// RequiredSkill is an optional tag consumed by skill-based distribution.
	RequiredSkill string `json:"required_skill,omitempty"`
}

// Direction of the call relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Disposition is the hint the forwarding rule engine matches rules against.
type Disposition string

const (
	DispositionRinging  Disposition = "ringing"
	DispositionBusy     Disposition = "busy"
	DispositionNoAnswer Disposition = "no_answer"
)

// DialStatus is the outcome of a transfer attempt reported by the provider.
type DialStatus string

const (
	DialStatusCompleted DialStatus = "completed"
	DialStatusAnswered  DialStatus = "answered"
	DialStatusBusy      DialStatus = "busy"
	DialStatusNoAnswer  DialStatus = "no-answer"
	DialStatusFailed    DialStatus = "failed"
	DialStatusCanceled  DialStatus = "canceled"
)

// Disposition maps a dial outcome to the hint used on re-entry.
// It reports false for outcomes that connected the call.
func (s DialStatus) Disposition() (Disposition, bool) {
	switch s {
	case DialStatusBusy:
		return DispositionBusy, true
	case DialStatusNoAnswer, DialStatusFailed, DialStatusCanceled:
		return DispositionNoAnswer, true
	default:
		return "", false
	}
}

// Status mirrors the provider's lifecycle status of the call leg.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusBusy       Status = "busy"
	StatusCanceled   Status = "canceled"
)

// Ended reports whether the call leg has terminated.
func (s Status) Ended() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return true
	default:
		return false
	}
}
