package llm

// ResolveProvider picks the provider for summarization: OpenAI when an API
// key is configured, local Ollama otherwise.
func ResolveProvider(openaiKey, ollamaBaseURL string) Provider {
	if openaiKey != "" {
		return NewOpenAIProvider(openaiKey)
	}
	return NewOllamaProvider(ollamaBaseURL)
}
