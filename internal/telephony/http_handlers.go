package telephony

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bizphone/internal/audit"
	"bizphone/internal/calls"
	"bizphone/internal/routing"
	"bizphone/pkg/logger"
)

// TwilioHandler converts Twilio voice webhooks to engine calls and writes
// TwiML. Every response is HTTP 200 with a playable document, even when
// parsing or rendering fails, so the caller is never dropped.
type TwilioHandler struct {
	Router Router
	URLs   URLs

	// FallbackGreeting is played when nothing better can be rendered.
	FallbackGreeting string

	Now func() time.Time
}

// Register mounts the webhook endpoints on rg.
func (h TwilioHandler) Register(rg gin.IRoutes) {
	rg.POST(PathVoice, h.Voice)
	rg.POST(PathDialStatus, h.DialStatus)
	rg.POST(PathIVR, h.IVR)
	rg.POST(PathQueueWait, h.QueueWait)
	rg.POST(PathStatus, h.Status)
	rg.POST(PathVoicemail, h.Voicemail)
	rg.POST(PathAgentLeg, h.AgentLeg)
}

func (h TwilioHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h TwilioHandler) parse(c *gin.Context) (TwilioForm, context.Context, bool) {
	form, err := ParseTwilioForm(c.Request)
	if err != nil || form.CallSid == "" {
		logger.FromGin(c).Warn("twilio webhook parse failed", "path", c.Request.URL.Path, "err", err)
		h.write(c, h.fallback("unparseable webhook"))
		return TwilioForm{}, nil, false
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	return form, ctx, true
}

// Voice handles a new inbound call.
func (h TwilioHandler) Voice(c *gin.Context) {
	form, ctx, ok := h.parse(c)
	if !ok {
		return
	}
	h.write(c, h.Router.Route(ctx, form.Event(h.now())))
}

// DialStatus handles the <Dial action> callback once a transfer attempt ends.
func (h TwilioHandler) DialStatus(c *gin.Context) {
	form, ctx, ok := h.parse(c)
	if !ok {
		return
	}
	h.write(c, h.Router.DialResult(ctx, form.CallSid, calls.DialStatus(form.DialCallStatus)))
}

// IVR handles a gathered digit or a prompt timeout.
func (h TwilioHandler) IVR(c *gin.Context) {
	form, ctx, ok := h.parse(c)
	if !ok {
		return
	}
	h.write(c, h.Router.MenuInput(ctx, form.CallSid, form.MenuInput()))
}

// QueueWait handles the hold-loop redirect of a queued caller.
func (h TwilioHandler) QueueWait(c *gin.Context) {
	form, ctx, ok := h.parse(c)
	if !ok {
		return
	}
	h.write(c, h.Router.QueueWait(ctx, form.CallSid))
}

// Status handles call status callbacks. Ended calls release what they hold.
func (h TwilioHandler) Status(c *gin.Context) {
	form, err := ParseTwilioForm(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("twilio status parse failed", "err", err)
	} else if calls.Status(form.CallStatus).Ended() && form.CallSid != "" {
		if err := h.Router.CallEnded(c.Request.Context(), form.CallSid); err != nil {
			logger.FromGin(c).Warn("call cleanup failed", "call_id", form.CallSid, "err", err)
		}
	}
	h.xml(c, EmptyTwiML())
}

// AgentLeg handles the status callbacks of a dialed agent's own leg.
func (h TwilioHandler) AgentLeg(c *gin.Context) {
	form, err := ParseTwilioForm(c.Request)
	switch {
	case err != nil:
		logger.FromGin(c).Warn("twilio agent leg parse failed", "err", err)
	case form.ParentCallSid == "" || form.Agent == "":
		logger.FromGin(c).Warn("agent leg callback without parent call or agent", "call_id", form.CallSid)
	default:
		err := h.Router.AgentLeg(c.Request.Context(), form.ParentCallSid, form.Agent, calls.Status(form.CallStatus))
		if err != nil {
			logger.FromGin(c).Warn("agent leg update failed", "call_id", form.ParentCallSid, "agent", form.Agent, "err", err)
		}
	}
	h.xml(c, EmptyTwiML())
}

// Voicemail acknowledges a finished recording and ends the call.
func (h TwilioHandler) Voicemail(c *gin.Context) {
	form, err := ParseTwilioForm(c.Request)
	if err == nil {
		logger.FromGin(c).Info("voicemail recorded",
			"call_id", form.CallSid, "recording_url", form.RecordingURL, "duration", form.RecordingDuration)
	}
	h.write(c, routing.Directive{Action: routing.ActionHangup})
}

func (h TwilioHandler) fallback(reason string) routing.Directive {
	return routing.Directive{
		Action:    routing.ActionVoicemail,
		Voicemail: &routing.VoicemailDirective{Greeting: h.FallbackGreeting},
		Reason:    reason,
	}
}

func (h TwilioHandler) write(c *gin.Context, d routing.Directive) {
	doc, err := RenderTwiML(d, h.URLs)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "action", d.Action, "err", err)
		doc, err = RenderTwiML(h.fallback("render failed"), h.URLs)
		if err != nil {
			doc = EmptyTwiML()
		}
	}
	h.xml(c, doc)
}

func (h TwilioHandler) xml(c *gin.Context, doc string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}
