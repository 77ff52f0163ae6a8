package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Summary output formats.
const (
	FormatReport             = "report"
	FormatFactsWithCitations = "facts_with_citations"
	FormatTable              = "table"
)

// maxSummaryInputChars caps the source material sent to the model.
const maxSummaryInputChars = 100_000

// Summary is the result of summarizing collected page content.
type Summary struct {
	Content  string `json:"content"`
	Format   string `json:"format"`
	Model    string `json:"model,omitempty"`
	Degraded bool   `json:"degraded"`
}

// Summarizer turns collected page text into a summary in one of the
// supported formats. When the provider fails for any reason it degrades to a
// placeholder rather than failing the step.
type Summarizer struct {
	provider Provider
	model    string
}

// NewSummarizer creates a summarizer using provider and model.
func NewSummarizer(provider Provider, model string) *Summarizer {
	return &Summarizer{provider: provider, model: model}
}

// Summarize generates a summary of content in the requested format. content
// beyond the input cap is truncated before prompting. Any collaborator
// failure — unreachable provider, error status, or a malformed response —
// yields a degraded placeholder summary and no error.
func (s *Summarizer) Summarize(ctx context.Context, content, format, purpose string) (*Summary, error) {
	if format == "" {
		format = FormatReport
	}
	truncated := false
	if len(content) > maxSummaryInputChars {
		content = content[:maxSummaryInputChars]
		truncated = true
	}

	resp, err := s.provider.Generate(ctx, &Request{
		Model: s.model,
		Messages: []Message{
			{Role: "system", Content: formatPrompt(format)},
			{Role: "user", Content: userPrompt(content, purpose, truncated)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", s.provider.Name()).Msg("summarizer_degraded")
		return &Summary{
			Content:  placeholderSummary(content, format),
			Format:   format,
			Degraded: true,
		}, nil
	}

	return &Summary{
		Content: resp.Content,
		Format:  format,
		Model:   resp.Model,
	}, nil
}

func formatPrompt(format string) string {
	switch format {
	case FormatFactsWithCitations:
		return "You summarize web research. Produce a bulleted list of discrete facts. " +
			"After each fact, cite the source URL in parentheses. Only state facts present in the material."
	case FormatTable:
		return "You summarize web research. Produce a markdown table organizing the key data points " +
			"from the material. Only include data present in the material."
	default:
		return "You summarize web research. Produce a concise structured report with short sections. " +
			"Only state information present in the material."
	}
}

func userPrompt(content, purpose string, truncated bool) string {
	var b strings.Builder
	if purpose != "" {
		fmt.Fprintf(&b, "Research purpose: %s\n\n", purpose)
	}
	if truncated {
		b.WriteString("Note: the source material below was truncated.\n\n")
	}
	b.WriteString("Source material:\n")
	b.WriteString(content)
	return b.String()
}

// placeholderSummary is the degraded output when no model is reachable: the
// leading slice of the collected text, clearly labelled.
func placeholderSummary(content, format string) string {
	const previewLen = 2000
	preview := content
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "…"
	}
	return fmt.Sprintf("[summary unavailable: model provider unreachable; %s format requested]\n\n%s", format, preview)
}
