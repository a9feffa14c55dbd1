package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/analysis/condense"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		ResponseMIMEType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

func candidateBody(text string) string {
	payload := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc, condenser *condense.Condenser) *Analyzer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a, err := New(context.Background(), Config{
		APIKey:  "test-key",
		BaseURL: server.URL + "/",
		Timeout: 5 * time.Second,
	}, condenser, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestAnalyzeReturnsStructuredAnalysis(t *testing.T) {
	t.Parallel()

	var captured generateRequest
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/"+DefaultModel+":generateContent"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(candidateBody(`{"changeCategory":"CTA","summary":"Button copy changed.","insight":"Urgency.","hypothesis":"More trials."}`)))
	}, nil)

	analysis, err := a.Analyze(context.Background(), "<html>old</html>", "<html>new</html>")
	require.NoError(t, err)
	assert.Equal(t, &monitor.Analysis{
		ChangeCategory: "CTA",
		Summary:        "Button copy changed.",
		Insight:        "Urgency.",
		Hypothesis:     "More trials.",
	}, analysis)

	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMIMEType)
	require.NotEmpty(t, captured.SystemInstruction.Parts)
	assert.Contains(t, captured.SystemInstruction.Parts[0].Text, "single most strategically significant change")
	require.NotEmpty(t, captured.Contents)
	prompt := captured.Contents[0].Parts[0].Text
	assert.Contains(t, prompt, "Here is the old HTML:\n```html\n<html>old</html>\n```")
	assert.Contains(t, prompt, "Here is the new HTML:\n```html\n<html>new</html>\n```")
}

func TestAnalyzeSendsMarkdownWhenCondensing(t *testing.T) {
	t.Parallel()

	condenser, err := condense.New(condense.FormatMarkdown, 0)
	require.NoError(t, err)

	var captured generateRequest
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(candidateBody(`{"changeCategory":"Headline","summary":"s","insight":"i","hypothesis":"h"}`)))
	}, condenser)

	_, err = a.Analyze(context.Background(), "<h1>Old</h1>", "<h1>New</h1>")
	require.NoError(t, err)
	prompt := captured.Contents[0].Parts[0].Text
	assert.Contains(t, prompt, "Here is the old Markdown:\n```markdown\n# Old\n```")
	assert.NotContains(t, prompt, "<h1>")
}

func TestAnalyzeLabelsEachSnapshotByProducedFormat(t *testing.T) {
	t.Parallel()

	condenser, err := condense.New(condense.FormatMarkdown, 0)
	require.NoError(t, err)

	var captured generateRequest
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(candidateBody(`{"changeCategory":"Headline","summary":"s","insight":"i","hypothesis":"h"}`)))
	}, condenser)

	scriptOnly := `<html><head><script>var a = 1;</script></head><body></body></html>`
	_, err = a.Analyze(context.Background(), scriptOnly, "<h1>New</h1>")
	require.NoError(t, err)
	prompt := captured.Contents[0].Parts[0].Text
	assert.Contains(t, prompt, "Here is the old HTML:\n```html\n"+scriptOnly+"\n```")
	assert.Contains(t, prompt, "Here is the new Markdown:\n```markdown\n# New\n```")
}

func TestAnalyzeSoftFailures(t *testing.T) {
	t.Parallel()

	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`))
		},
		"no candidates": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"candidates":[]}`))
		},
		"malformed json text": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(candidateBody(`not json at all`)))
		},
		"empty object": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(candidateBody(`{}`)))
		},
	}
	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			a := newTestAnalyzer(t, handler, nil)
			analysis, err := a.Analyze(context.Background(), "a", "b")
			require.Error(t, err)
			assert.Nil(t, analysis)
		})
	}
}

func TestAnalyzeWithoutAPIKey(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), Config{}, nil, nil)
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "a", "b")
	require.ErrorIs(t, err, monitor.ErrAnalysisUnavailable)
	assert.Equal(t, DefaultModel, a.cfg.Model)
}

func TestParseAnalysisStripsCodeFence(t *testing.T) {
	t.Parallel()

	analysis, err := parseAnalysis("```json\n{\"changeCategory\":\"Pricing\",\"summary\":\"s\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Pricing", analysis.ChangeCategory)
	assert.Equal(t, "s", analysis.Summary)
	assert.Empty(t, analysis.Insight)
}
