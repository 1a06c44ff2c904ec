package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// geminiHosts are base URL fragments that select the Gemini variant.
var geminiHosts = []string{"generativelanguage.googleapis.com"}

// IsGeminiBase reports whether baseURL points at a Gemini endpoint. It is a
// pure string test and never touches the network.
func IsGeminiBase(baseURL string) bool {
	for _, host := range geminiHosts {
		if strings.Contains(baseURL, host) {
			return true
		}
	}
	return false
}

// contentGenerator is the slice of the genai SDK the provider calls.
// *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider is the concatenated-parts variant: the whole prompt is sent
// as one ordered list of text and inline-data parts through the genai SDK.
type GeminiProvider struct {
	config Config

	// newGenerator builds an SDK client per call; replaced in tests.
	newGenerator func(ctx context.Context, config Config) (contentGenerator, error)
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		config:       config,
		newGenerator: newSDKGenerator,
	}, nil
}

func newSDKGenerator(ctx context.Context, config Config) (contentGenerator, error) {
	timeout := time.Duration(config.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client.Models, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", ErrMissingCredential
	}

	generator, err := p.newGenerator(ctx, p.config)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Err: err}
	}

	contents := []*genai.Content{genai.NewContentFromParts(buildParts(req), genai.RoleUser)}
	resp, err := generator.GenerateContent(ctx, p.config.Model, contents, &genai.GenerateContentConfig{
		SafetySettings: permissiveSafetySettings(),
	})
	if err != nil {
		return "", p.wrapError(err)
	}
	return responseText(resp), nil
}

// buildParts concatenates the request into parts: the system block, each
// turn's text followed by its inline data, then the instruction.
func buildParts(req *Request) []*genai.Part {
	parts := make([]*genai.Part, 0, len(req.Turns)+2)
	parts = append(parts, genai.NewPartFromText("SYSTEM:\n"+req.System))
	for _, turn := range req.Turns {
		if text := strings.TrimSpace(turn.Text); text != "" {
			parts = append(parts, genai.NewPartFromText(text))
		}
		for _, att := range turn.Attachments {
			parts = append(parts, genai.NewPartFromBytes(att.Data, att.MimeType))
		}
	}
	if req.Instruction != "" {
		parts = append(parts, genai.NewPartFromText(req.Instruction))
	}
	return parts
}

// permissiveSafetySettings disables blocking for every harm category.
// Companion conversations are routinely flagged by the default thresholds.
func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
		genai.HarmCategoryCivicIntegrity,
	}

	settings := make([]*genai.SafetySetting, len(categories))
	for i, category := range categories {
		settings[i] = &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		}
	}
	return settings
}

// responseText reads the SDK's aggregated text, falling back to the raw
// candidate parts, and defaults to "".
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		return text
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

func (p *GeminiProvider) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), Status: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Provider: p.Name(), Status: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
