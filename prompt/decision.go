package prompt

import "strings"

// Action is the outcome of a proactive check.
type Action string

const (
	ActionSend Action = "SEND"
	ActionSkip Action = "SKIP"
)

// Decision is a parsed proactive reply.
type Decision struct {
	Action  Action
	Message string
	Raw     string
}

// ParseDecision reads the SEND/SKIP reply contract case-insensitively.
// A leading SKIP or an empty reply skips; a leading "SEND:" sends the text
// after the first colon; anything else is sent verbatim.
func ParseDecision(text string) Decision {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Decision{Action: ActionSkip, Raw: raw}
	}

	upper := strings.ToUpper(raw)
	if strings.HasPrefix(upper, string(ActionSkip)) {
		return Decision{Action: ActionSkip, Raw: raw}
	}
	if strings.HasPrefix(upper, "SEND:") {
		msg := raw[strings.Index(raw, ":")+1:]
		return Decision{Action: ActionSend, Message: strings.TrimSpace(msg), Raw: raw}
	}
	return Decision{Action: ActionSend, Message: raw, Raw: raw}
}
