package routing

// Directive is the provider-agnostic output of the orchestrator.
//
// It carries only what the telephony adapter needs to execute the decision.
// Exactly one payload matching Action is set; ActionHangup has none.
type Directive struct {
	TenantID string `json:"tenant_id,omitempty"`
	CallID   string `json:"call_id"`
	Action   Action `json:"action"`

	AI        *AIDirective        `json:"ai,omitempty"`
	IVR       *IVRDirective       `json:"ivr,omitempty"`
	Transfer  *TransferDirective  `json:"transfer,omitempty"`
	Queue     *QueueDirective     `json:"queue,omitempty"`
	Voicemail *VoicemailDirective `json:"voicemail,omitempty"`

	// Reason is for internal logs only and is never played to the caller.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionAI        Action = "ai"
	ActionIVR       Action = "ivr"
	ActionTransfer  Action = "transfer"
	ActionQueue     Action = "queue"
	ActionVoicemail Action = "voicemail"
	ActionHangup    Action = "hangup"
)

// AIDirective hands the call to the conversational-agent service.
type AIDirective struct {
	Greeting       string `json:"greeting,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Voice          string `json:"voice,omitempty"`
	TransferTarget string `json:"transfer_target,omitempty"`
	StreamURL      string `json:"stream_url,omitempty"`
}

// IVRDirective prompts the caller and collects one digit.
type IVRDirective struct {
	MenuID   string `json:"menu_id"`
	Greeting string `json:"greeting"`
	// Timeout in seconds before the prompt times out.
	Timeout int `json:"timeout"`
	// Epoch must be echoed back with the caller's input.
	Epoch int `json:"epoch"`
}

type TargetKind string

const (
	TargetExtension TargetKind = "extension"
	TargetNumber    TargetKind = "number"
)

type Target struct {
	Kind  TargetKind `json:"kind"`
	Value string     `json:"value"`
}

// TransferDirective rings one target, or several at once when more than one
// is listed. First answer wins.
type TransferDirective struct {
	Targets []Target `json:"targets"`
	// Timeout in seconds per attempt.
	Timeout int `json:"timeout"`
	// Source is the route that produced the targets, e.g. "hunt:600".
	Source string `json:"source,omitempty"`
}

// QueueDirective keeps the caller waiting in a call queue.
type QueueDirective struct {
	QueueID  string `json:"queue_id"`
	Name     string `json:"name,omitempty"`
	Position int    `json:"position"`
}

type VoicemailDirective struct {
	Greeting   string `json:"greeting"`
	Transcribe bool   `json:"transcribe"`
}

func voicemail(greeting string, transcribe bool, reason string) Directive {
	return Directive{
		Action:    ActionVoicemail,
		Voicemail: &VoicemailDirective{Greeting: greeting, Transcribe: transcribe},
		Reason:    reason,
	}
}

func hangup(reason string) Directive {
	return Directive{Action: ActionHangup, Reason: reason}
}

func transfer(kind TargetKind, values []string, timeout int, source string) Directive {
	targets := make([]Target, 0, len(values))
	for _, v := range values {
		targets = append(targets, Target{Kind: kind, Value: v})
	}
	return Directive{
		Action:   ActionTransfer,
		Transfer: &TransferDirective{Targets: targets, Timeout: timeout, Source: source},
	}
}
