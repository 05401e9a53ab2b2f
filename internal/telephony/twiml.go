package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"bizphone/internal/routing"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the routing directives need are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name  `xml:"Gather"`
	Input     string    `xml:"input,attr"`
	NumDigits int       `xml:"numDigits,attr"`
	Timeout   int       `xml:"timeout,attr"`
	Action    string    `xml:"action,attr"`
	Method    string    `xml:"method,attr"`
	Say       *twimlSay `xml:"Say,omitempty"`
}

type twimlDial struct {
	XMLName        xml.Name `xml:"Dial"`
	Action         string   `xml:"action,attr"`
	Method         string   `xml:"method,attr"`
	Timeout        int      `xml:"timeout,attr,omitempty"`
	AnswerOnBridge bool     `xml:"answerOnBridge,attr,omitempty"`
	Targets        []any    `xml:",any"`
}

type twimlNumber struct {
	XMLName xml.Name `xml:"Number"`
	Value   string   `xml:",chardata"`
}

// legCallback reports an agent leg's own answered and completed events.
type legCallback struct {
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
}

type twimlSip struct {
	XMLName xml.Name `xml:"Sip"`
	legCallback
	URI string `xml:",chardata"`
}

type twimlClient struct {
	XMLName xml.Name `xml:"Client"`
	legCallback
	Identity string `xml:",chardata"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlRecord struct {
	XMLName    xml.Name `xml:"Record"`
	Action     string   `xml:"action,attr"`
	Method     string   `xml:"method,attr"`
	MaxLength  int      `xml:"maxLength,attr"`
	PlayBeep   bool     `xml:"playBeep,attr"`
	Transcribe bool     `xml:"transcribe,attr,omitempty"`
}

const (
	queuePause         = 10
	voicemailMaxLength = 120
)

// URLs locates our webhook endpoints from Twilio's point of view.
type URLs struct {
	// Base is the public origin, e.g. https://voice.example.com.
	Base string
	// SIPDomain, when set, rings extensions as SIP URIs instead of Twilio
	// Client identities.
	SIPDomain string
}

func (u URLs) path(p string, q url.Values) string {
	s := strings.TrimRight(u.Base, "/") + p
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

// extension rings an agent. The leg reports back to PathAgentLeg so the
// agent who answers is tracked in presence.
func (u URLs) extension(ext string) any {
	cb := legCallback{
		StatusCallback:       u.path(PathAgentLeg, url.Values{"agent": {ext}}),
		StatusCallbackEvent:  "answered completed",
		StatusCallbackMethod: "POST",
	}
	if u.SIPDomain != "" {
		return twimlSip{legCallback: cb, URI: "sip:" + ext + "@" + u.SIPDomain}
	}
	return twimlClient{legCallback: cb, Identity: ext}
}

// RenderTwiML maps a routing directive to a TwiML document.
func RenderTwiML(d routing.Directive, u URLs) (string, error) {
	var r twimlResponse

	switch d.Action {
	case routing.ActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})

	case routing.ActionVoicemail:
		if d.Voicemail == nil {
			return "", errors.New("telephony: voicemail directive without payload")
		}
		if d.Voicemail.Greeting != "" {
			r.Verbs = append(r.Verbs, twimlSay{Text: d.Voicemail.Greeting})
		}
		r.Verbs = append(r.Verbs, twimlRecord{
			Action:     u.path(PathVoicemail, nil),
			Method:     "POST",
			MaxLength:  voicemailMaxLength,
			PlayBeep:   true,
			Transcribe: d.Voicemail.Transcribe,
		})

	case routing.ActionIVR:
		if d.IVR == nil {
			return "", errors.New("telephony: ivr directive without payload")
		}
		epoch := strconv.Itoa(d.IVR.Epoch)
		g := twimlGather{
			Input:     "dtmf",
			NumDigits: 1,
			Timeout:   d.IVR.Timeout,
			Action:    u.path(PathIVR, url.Values{"epoch": {epoch}}),
			Method:    "POST",
		}
		if d.IVR.Greeting != "" {
			g.Say = &twimlSay{Text: d.IVR.Greeting}
		}
		// Gather falls through to the redirect when no digit arrives.
		r.Verbs = append(r.Verbs, g, twimlRedirect{
			Method: "POST",
			URL:    u.path(PathIVR, url.Values{"epoch": {epoch}, "timedout": {"1"}}),
		})

	case routing.ActionTransfer:
		if d.Transfer == nil || len(d.Transfer.Targets) == 0 {
			return "", errors.New("telephony: transfer directive without targets")
		}
		dial := twimlDial{
			Action:         u.path(PathDialStatus, nil),
			Method:         "POST",
			Timeout:        d.Transfer.Timeout,
			AnswerOnBridge: true,
		}
		for _, t := range d.Transfer.Targets {
			switch {
			case t.Kind == routing.TargetExtension:
				dial.Targets = append(dial.Targets, u.extension(t.Value))
			case strings.HasPrefix(strings.ToLower(t.Value), "sip:"):
				dial.Targets = append(dial.Targets, twimlSip{URI: t.Value})
			default:
				dial.Targets = append(dial.Targets, twimlNumber{Value: t.Value})
			}
		}
		r.Verbs = append(r.Verbs, dial)

	case routing.ActionQueue:
		if d.Queue == nil {
			return "", errors.New("telephony: queue directive without payload")
		}
		msg := "Please hold, your call is important to us."
		if d.Queue.Position > 0 {
			msg = fmt.Sprintf("You are caller number %d. %s", d.Queue.Position, msg)
		}
		r.Verbs = append(r.Verbs,
			twimlSay{Text: msg},
			twimlPause{Length: queuePause},
			twimlRedirect{Method: "POST", URL: u.path(PathQueueWait, nil)},
		)

	case routing.ActionAI:
		if d.AI == nil || d.AI.StreamURL == "" {
			return "", errors.New("telephony: ai directive without stream url")
		}
		params := []twimlParameter{{Name: "tenant_id", Value: d.TenantID}, {Name: "call_id", Value: d.CallID}}
		for _, p := range []twimlParameter{
			{Name: "greeting", Value: d.AI.Greeting},
			{Name: "prompt", Value: d.AI.Prompt},
			{Name: "voice", Value: d.AI.Voice},
			{Name: "transfer_target", Value: d.AI.TransferTarget},
		} {
			if p.Value != "" {
				params = append(params, p)
			}
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: twimlStream{URL: d.AI.StreamURL, Parameters: params}})

	default:
		return "", fmt.Errorf("telephony: unknown directive action %q", d.Action)
	}

	return encode(r)
}

// EmptyTwiML acknowledges a callback that has nothing for the call to do.
func EmptyTwiML() string {
	s, _ := encode(twimlResponse{})
	return s
}

func encode(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
