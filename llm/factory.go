package llm

// NewProvider resolves the variant for config once: Gemini when the base URL
// names a Gemini host, the OpenAI-compatible flat-message variant otherwise.
func NewProvider(config Config) (Provider, error) {
	if IsGeminiBase(config.BaseURL) {
		return NewGeminiProvider(config)
	}
	return NewOpenAIProvider(config)
}
