package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"companion-agent/utils"
)

// OpenAIProvider is the flat-message variant: one chat message per history
// entry against an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	// Allow empty API key - validation happens at runtime
	clientConfig := openai.DefaultConfig(config.APIKey)
	base := safeBase(config.BaseURL)
	if base == "" {
		base = "https://api.openai.com"
	}
	clientConfig.BaseURL = base + "/v1"

	timeout := time.Duration(config.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: &failureRecorder{next: http.DefaultTransport},
	}

	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", ErrMissingCredential
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    p.convertMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      false,
	}

	failure := &httpFailure{}
	resp, err := p.client.CreateChatCompletion(context.WithValue(ctx, httpFailureKey{}, failure), chatReq)
	if err != nil {
		return "", p.wrapError(err, failure)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// convertMessages flattens a Request into system, history and instruction messages.
func (p *OpenAIProvider) convertMessages(req *Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.System,
	})
	for _, turn := range req.Turns {
		messages = append(messages, convertTurn(turn))
	}
	if req.Instruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Instruction,
		})
	}
	return messages
}

// convertTurn converts a Turn to OpenAI format, folding image attachments into data URL parts.
func convertTurn(turn Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if turn.Role == RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	var images []Attachment
	for _, att := range turn.Attachments {
		if utils.IsImageMime(att.MimeType) {
			images = append(images, att)
		}
	}

	// Only images travel as content parts; other files are dropped.
	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Text,
		}
	}

	multiContent := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: turn.Text,
		},
	}
	for _, att := range images {
		multiContent = append(multiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    utils.DataURL(att.MimeType, att.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:         role,
		MultiContent: multiContent,
	}
}

// wrapError maps client errors to ProviderError. The recorded response fills
// in status and body when the client could not decode the error payload.
func (p *OpenAIProvider) wrapError(err error, failure *httpFailure) error {
	perr := &ProviderError{Provider: p.Name(), Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		perr.Status = apiErr.HTTPStatusCode
		perr.Body = apiErr.Message
	case errors.As(err, &reqErr):
		perr.Status = reqErr.HTTPStatusCode
		if reqErr.Err != nil {
			perr.Body = reqErr.Err.Error()
		}
	default:
		perr.Err = fmt.Errorf("failed to create chat completion: %w", err)
	}

	if failure != nil && failure.status != 0 {
		if perr.Status == 0 {
			perr.Status = failure.status
		}
		if perr.Body == "" {
			perr.Body = failure.body
		}
	}
	return perr
}

// maxFailureBody caps how much of an error response is kept.
const maxFailureBody = 4096

type httpFailureKey struct{}

// httpFailure receives the status and raw body of a non-2xx response.
type httpFailure struct {
	status int
	body   string
}

// failureRecorder copies non-2xx responses into the httpFailure carried by
// the request context, then hands the client an unread body.
type failureRecorder struct {
	next http.RoundTripper
}

func (r *failureRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	failure, ok := req.Context().Value(httpFailureKey{}).(*httpFailure)
	if !ok || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, nil
	}

	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read error response: %w", readErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	body := strings.TrimSpace(string(data))
	if len(body) > maxFailureBody {
		body = body[:maxFailureBody]
	}
	failure.status = resp.StatusCode
	failure.body = body
	return resp, nil
}
