package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	resp *Response
	err  error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(context.Context, *Request) (*Response, error) {
	return p.resp, p.err
}

func TestSummarizeSuccess(t *testing.T) {
	s := NewSummarizer(&stubProvider{
		resp: &Response{Content: "Rents average 1850 EUR.", Model: "test-model"},
	}, "test-model")

	sum, err := s.Summarize(context.Background(), "listing data", FormatReport, "rent comps")
	require.NoError(t, err)
	assert.False(t, sum.Degraded)
	assert.Equal(t, "Rents average 1850 EUR.", sum.Content)
	assert.Equal(t, "test-model", sum.Model)
}

func TestSummarizeDegradesOnProviderError(t *testing.T) {
	s := NewSummarizer(&stubProvider{err: errors.New("boom")}, "test-model")

	sum, err := s.Summarize(context.Background(), "listing data", FormatTable, "")
	require.NoError(t, err)
	assert.True(t, sum.Degraded)
	assert.Equal(t, FormatTable, sum.Format)
	assert.Contains(t, sum.Content, "listing data")
}

func TestSummarizeDegradesOnMalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	s := NewSummarizer(NewOllamaProvider(srv.URL), "test-model")

	sum, err := s.Summarize(context.Background(), "flats in Mitte", FormatReport, "")
	require.NoError(t, err)
	assert.True(t, sum.Degraded)
	assert.Contains(t, sum.Content, "flats in Mitte")
}

func TestSummarizeDegradesOnUnreachableProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewSummarizer(NewOllamaProvider(url), "test-model")

	sum, err := s.Summarize(context.Background(), "flats in Mitte", "", "")
	require.NoError(t, err)
	assert.True(t, sum.Degraded)
	assert.Equal(t, FormatReport, sum.Format)
}

func TestSummarizeTruncatesOversizedInput(t *testing.T) {
	var gotPrompt string
	p := &captureProvider{resp: &Response{Content: "ok"}, captured: &gotPrompt}
	s := NewSummarizer(p, "test-model")

	_, err := s.Summarize(context.Background(), strings.Repeat("a", maxSummaryInputChars+100), FormatReport, "")
	require.NoError(t, err)
	assert.Contains(t, gotPrompt, "was truncated")
	assert.LessOrEqual(t, len(gotPrompt), maxSummaryInputChars+200)
}

type captureProvider struct {
	resp     *Response
	captured *string
}

func (p *captureProvider) Name() string { return "capture" }

func (p *captureProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	*p.captured = req.Messages[len(req.Messages)-1].Content
	return p.resp, nil
}
