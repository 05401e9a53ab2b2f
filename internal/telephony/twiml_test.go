package telephony

import (
	"strings"
	"testing"

	"bizphone/internal/routing"
)

var testURLs = URLs{Base: "https://voice.example.com/"}

func render(t *testing.T, d routing.Directive, u URLs) string {
	t.Helper()
	doc, err := RenderTwiML(d, u)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return doc
}

func mustContain(t *testing.T, doc string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(doc, w) {
			t.Fatalf("expected %q in xml: %s", w, doc)
		}
	}
}

func TestRenderTwiMLHangup(t *testing.T) {
	doc := render(t, routing.Directive{Action: routing.ActionHangup}, testURLs)
	mustContain(t, doc, "<?xml", "<Response>", "<Hangup></Hangup>")
}

func TestRenderTwiMLVoicemail(t *testing.T) {
	doc := render(t, routing.Directive{
		Action:    routing.ActionVoicemail,
		Voicemail: &routing.VoicemailDirective{Greeting: "Acme voicemail", Transcribe: true},
	}, testURLs)
	mustContain(t, doc,
		"<Say>Acme voicemail</Say>",
		`action="https://voice.example.com/webhooks/twilio/voicemail"`,
		`playBeep="true"`,
		`transcribe="true"`,
	)
}

func TestRenderTwiMLTransferTargets(t *testing.T) {
	d := routing.Directive{
		Action: routing.ActionTransfer,
		Transfer: &routing.TransferDirective{
			Targets: []routing.Target{
				{Kind: routing.TargetExtension, Value: "201"},
				{Kind: routing.TargetNumber, Value: "+15559990000"},
				{Kind: routing.TargetNumber, Value: "sip:desk@pbx.example.com"},
			},
			Timeout: 25,
		},
	}
	doc := render(t, d, testURLs)
	mustContain(t, doc,
		`action="https://voice.example.com/webhooks/twilio/dial-status"`,
		`timeout="25"`,
		`statusCallback="https://voice.example.com/webhooks/twilio/agent-leg?agent=201"`,
		`statusCallbackEvent="answered completed"`,
		">201</Client>",
		"<Number>+15559990000</Number>",
		"<Sip>sip:desk@pbx.example.com</Sip>",
	)

	doc = render(t, d, URLs{Base: testURLs.Base, SIPDomain: "acme.sip.twilio.com"})
	mustContain(t, doc, ">sip:201@acme.sip.twilio.com</Sip>", "agent-leg?agent=201")
}

func TestRenderTwiMLTransferRequiresTarget(t *testing.T) {
	if _, err := RenderTwiML(routing.Directive{Action: routing.ActionTransfer, Transfer: &routing.TransferDirective{}}, testURLs); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderTwiMLIVRCarriesEpoch(t *testing.T) {
	doc := render(t, routing.Directive{
		Action: routing.ActionIVR,
		IVR:    &routing.IVRDirective{MenuID: "main", Greeting: "Press 1 for sales", Timeout: 5, Epoch: 3},
	}, testURLs)
	mustContain(t, doc,
		`numDigits="1"`,
		`timeout="5"`,
		`action="https://voice.example.com/webhooks/twilio/ivr?epoch=3"`,
		"<Say>Press 1 for sales</Say>",
		"https://voice.example.com/webhooks/twilio/ivr?epoch=3&amp;timedout=1</Redirect>",
	)
	if strings.Index(doc, "<Gather") > strings.Index(doc, "<Redirect") {
		t.Fatalf("redirect must follow gather: %s", doc)
	}
}

func TestRenderTwiMLQueue(t *testing.T) {
	doc := render(t, routing.Directive{
		Action: routing.ActionQueue,
		Queue:  &routing.QueueDirective{QueueID: "q1", Position: 2},
	}, testURLs)
	mustContain(t, doc, "caller number 2", `<Pause length="10">`, "/webhooks/twilio/queue-wait</Redirect>")
}

func TestRenderTwiMLAIStream(t *testing.T) {
	doc := render(t, routing.Directive{
		TenantID: "t1",
		CallID:   "CA1",
		Action:   routing.ActionAI,
		AI:       &routing.AIDirective{Greeting: "Hi", StreamURL: "wss://ai.example.com/stream"},
	}, testURLs)
	mustContain(t, doc,
		`<Stream url="wss://ai.example.com/stream">`,
		`name="tenant_id" value="t1"`,
		`name="call_id" value="CA1"`,
		`name="greeting" value="Hi"`,
	)
	if strings.Contains(doc, `name="prompt"`) {
		t.Fatalf("empty parameters must be omitted: %s", doc)
	}

	if _, err := RenderTwiML(routing.Directive{Action: routing.ActionAI, AI: &routing.AIDirective{}}, testURLs); err == nil {
		t.Fatalf("expected error without stream url")
	}
}

func TestRenderTwiMLUnknownAction(t *testing.T) {
	if _, err := RenderTwiML(routing.Directive{Action: "dance"}, testURLs); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEmptyTwiML(t *testing.T) {
	mustContain(t, EmptyTwiML(), "<Response></Response>")
}
