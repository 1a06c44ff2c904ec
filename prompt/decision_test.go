package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		action  Action
		message string
	}{
		{"skip", "SKIP", ActionSkip, ""},
		{"skip lowercase", "skip", ActionSkip, ""},
		{"skip with reason", "Skip - user is busy", ActionSkip, ""},
		{"send", "SEND: hello", ActionSend, "hello"},
		{"send lowercase", "send:   早上好 ", ActionSend, "早上好"},
		{"send keeps later colons", "SEND: time: 10:00", ActionSend, "time: 10:00"},
		{"send empty", "SEND:", ActionSend, ""},
		{"bare text", "just talking", ActionSend, "just talking"},
		{"empty", "", ActionSkip, ""},
		{"whitespace", "  \n\t", ActionSkip, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.in)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.message, d.Message)
		})
	}
}
