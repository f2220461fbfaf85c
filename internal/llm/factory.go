package llm

import "fmt"

// New constructs a provider by name. OpenRouter rides the OpenAI-compatible
// implementation with its own base URL.
func New(name, apiKey, apiBase, defaultModel string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, apiBase, defaultModel), nil
	case "openai":
		return NewOpenAIProvider(apiKey, apiBase, defaultModel), nil
	case "openrouter":
		if apiBase == "" {
			apiBase = "https://openrouter.ai/api/v1"
		}
		return NewOpenAIProvider(apiKey, apiBase, defaultModel), nil
	case "ollama":
		return NewOllamaProvider(apiBase, defaultModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
