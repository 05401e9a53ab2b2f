package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound     = errors.New("tenant: not found")
	ErrInvalidRoute = errors.New("tenant: invalid route")
)

// Tenant is the owning account of one or more dialed numbers.
// It is read-only to the routing engine and immutable for the duration of a call.
type Tenant struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Numbers []string `json:"numbers"`

	// DefaultRoute is used when no forwarding rule overrides the call.
	// See ParseRoute for the accepted forms.
	DefaultRoute string `json:"default_route"`

	AI AIConfig `json:"ai"`

	VoicemailGreeting   string `json:"voicemail_greeting,omitempty"`
	TranscribeVoicemail bool   `json:"transcribe_voicemail"`
}

// AIConfig is handed to the conversational-agent service; the engine does not
// manage the conversation itself.
type AIConfig struct {
	Greeting       string `json:"greeting,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Voice          string `json:"voice,omitempty"`
	TransferTarget string `json:"transfer_target,omitempty"`
}

// RouteKind identifies which component handles a route.
type RouteKind string

const (
	RouteAI        RouteKind = "ai"
	RouteIVR       RouteKind = "ivr"
	RouteExtension RouteKind = "extension"
	RouteNumber    RouteKind = "number"
	RouteVoicemail RouteKind = "voicemail"
	RouteHangup    RouteKind = "hangup"
	RouteHuntGroup RouteKind = "hunt"
	RouteRingGroup RouteKind = "ring"
	RouteQueue     RouteKind = "queue"
)

// Route is a parsed routing target.
type Route struct {
	Kind RouteKind `json:"kind"`
	// Ref is the menu id, extension, number or group reference. Empty for
	// ai/voicemail/hangup and for the tenant's default IVR menu.
	Ref string `json:"ref,omitempty"`
}

func (r Route) String() string {
	switch r.Kind {
	case RouteExtension, RouteNumber:
		return r.Ref
	case RouteAI, RouteVoicemail, RouteHangup:
		return string(r.Kind)
	default:
		if r.Ref == "" {
			return string(r.Kind)
		}
		return string(r.Kind) + ":" + r.Ref
	}
}

var (
	e164Re      = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)
	extensionRe = regexp.MustCompile(`^[0-9]{2,6}$`)
)

// IsE164 reports whether s is an E.164 number.
func IsE164(s string) bool { return e164Re.MatchString(s) }

// IsExtension reports whether s looks like an internal extension.
func IsExtension(s string) bool { return extensionRe.MatchString(s) }

// ParseRoute parses a route string:
//
//	ai | voicemail | hangup | ivr | ivr:<id> | hunt:<ext> | ring:<ext> | queue:<ref> | <extension> | <e164>
//
// A bare extension may still resolve to a hunt group, ring group or queue; the
// orchestrator decides that against the tenant's catalog.
func ParseRoute(s string) (Route, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Route{}, fmt.Errorf("%w: empty", ErrInvalidRoute)
	}
	switch strings.ToLower(s) {
	case "ai":
		return Route{Kind: RouteAI}, nil
	case "voicemail":
		return Route{Kind: RouteVoicemail}, nil
	case "hangup":
		return Route{Kind: RouteHangup}, nil
	case "ivr":
		return Route{Kind: RouteIVR}, nil
	}

	if kind, ref, ok := strings.Cut(s, ":"); ok {
		ref = strings.TrimSpace(ref)
		switch RouteKind(strings.ToLower(kind)) {
		case RouteIVR:
			return Route{Kind: RouteIVR, Ref: ref}, nil
		case RouteHuntGroup, RouteRingGroup, RouteQueue:
			if ref == "" {
				return Route{}, fmt.Errorf("%w: %q missing reference", ErrInvalidRoute, s)
			}
			return Route{Kind: RouteKind(strings.ToLower(kind)), Ref: ref}, nil
		case "sip":
			return Route{Kind: RouteNumber, Ref: s}, nil
		}
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidRoute, s)
	}

	n := NormalizeNumber(s)
	if IsE164(n) {
		return Route{Kind: RouteNumber, Ref: n}, nil
	}
	if IsExtension(s) {
		return Route{Kind: RouteExtension, Ref: s}, nil
	}
	return Route{}, fmt.Errorf("%w: %q", ErrInvalidRoute, s)
}

// NormalizeNumber strips whitespace and common punctuation from a dialed number.
// Non-numeric values such as "anonymous" are returned trimmed.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return s
		}
	}
	return b.String()
}
