package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles used in a Request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the provider-agnostic prompt: a system preamble, the rendered
// history and a trailing instruction for this call's purpose.
type Request struct {
	System      string
	Turns       []Turn
	Instruction string

	MaxTokens   int
	Temperature float64
}

// Turn is one history entry. Text is already role-labelled and timestamped.
type Turn struct {
	Role        string
	Text        string
	Attachments []Attachment
}

// Attachment represents inline binary content sent with a turn.
type Attachment struct {
	MimeType string
	Data     []byte // raw bytes, encoded by the provider
}

// Provider generates one reply for a Request.
type Provider interface {
	// Generate returns the trimmed reply text. An absent or empty reply is
	// returned as "" without error.
	Generate(ctx context.Context, req *Request) (string, error)

	// Name returns the provider name
	Name() string
}

// Config represents provider configuration
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	TimeoutSecs int
}

// ErrMissingCredential is returned before any network call when no API key is configured.
var ErrMissingCredential = errors.New("missing API key")

// ProviderError carries the HTTP status and body of a failed provider call.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// safeBase strips trailing slashes from a base URL.
func safeBase(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}
