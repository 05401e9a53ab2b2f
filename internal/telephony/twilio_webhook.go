package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bizphone/internal/calls"
	"bizphone/internal/ivr"
	"bizphone/internal/tenant"
)

// TwilioForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string

	// ParentCallSid is set on an agent leg's status callbacks and names the
	// inbound call the leg belongs to.
	ParentCallSid string

	// DialCallStatus is set on <Dial action> callbacks.
	DialCallStatus string
	// Digits is set on <Gather action> callbacks.
	Digits string

	RecordingURL      string
	RecordingDuration string

	// Query parameters we put on our own callback URLs.
	Epoch    int
	TimedOut bool
	Skill    string
	Agent    string
}

func ParseTwilioForm(r *http.Request) (TwilioForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioForm{}, err
	}
	q := r.URL.Query()
	f := TwilioForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:        r.PostFormValue("AccountSid"),
		From:              tenant.NormalizeNumber(r.PostFormValue("From")),
		To:                tenant.NormalizeNumber(r.PostFormValue("To")),
		Direction:         r.PostFormValue("Direction"),
		CallStatus:        r.PostFormValue("CallStatus"),
		ParentCallSid:     strings.TrimSpace(r.PostFormValue("ParentCallSid")),
		DialCallStatus:    r.PostFormValue("DialCallStatus"),
		Digits:            strings.TrimSpace(r.PostFormValue("Digits")),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingDuration: r.PostFormValue("RecordingDuration"),
		TimedOut:          q.Get("timedout") == "1",
		Skill:             q.Get("skill"),
		Agent:             q.Get("agent"),
	}
	if v := q.Get("epoch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return TwilioForm{}, err
		}
		f.Epoch = n
	}
	return f, nil
}

// Event converts an inbound voice webhook into a call event.
func (f TwilioForm) Event(now time.Time) calls.Event {
	dir := calls.DirectionInbound
	if strings.HasPrefix(f.Direction, "outbound") {
		dir = calls.DirectionOutbound
	}
	return calls.Event{
		CallID:        f.CallSid,
		Direction:     dir,
		From:          f.From,
		To:            f.To,
		Timestamp:     now,
		RequiredSkill: f.Skill,
	}
}

// MenuInput converts a gather or gather-timeout callback.
func (f TwilioForm) MenuInput() ivr.Input {
	if f.TimedOut || f.Digits == "" {
		return ivr.Input{TimedOut: true, Epoch: f.Epoch}
	}
	// Only the first key press selects an option.
	return ivr.Input{Digit: f.Digits[:1], Epoch: f.Epoch}
}
