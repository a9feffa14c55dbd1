// Package gemini implements change analysis with the Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/pagewatch/internal/analysis/condense"
	"github.com/JakeFAU/pagewatch/internal/monitor"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel   = "gemini-2.5-flash"
	defaultTimeout = 60 * time.Second
)

const systemPrompt = `You are an expert Conversion Rate Optimization (CRO) specialist. ` +
	`You will be given two versions of the same webpage: an old version and a new version. ` +
	`Identify the single most strategically significant change between them. ` +
	`Ignore cosmetic changes such as updated dates, copyright years or random tracking IDs. ` +
	`Focus on headlines, calls-to-action, forms, pricing, social proof and the overall value proposition. ` +
	`Respond ONLY with a JSON object of the form ` +
	`{"changeCategory": "string", "summary": "string", "insight": "string", "hypothesis": "string"}.`

// Config holds the generation settings.
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float32       `mapstructure:"temperature"`
}

// Analyzer implements monitor.Analyzer. A zero API key yields an analyzer
// that always reports monitor.ErrAnalysisUnavailable.
type Analyzer struct {
	client    *genai.Client
	cfg       Config
	condenser *condense.Condenser
	logger    *zap.Logger
}

// New creates an Analyzer. condenser may be nil to send raw snapshots.
func New(ctx context.Context, cfg Config, condenser *condense.Condenser, logger *zap.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	a := &Analyzer{cfg: cfg, condenser: condenser, logger: logger}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("gemini api key not set; change analysis disabled")
		return a, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	a.client = client
	return a, nil
}

// Analyze asks the model for the most significant change between previous
// and current. Every failure is returned as an error for the caller to
// degrade gracefully.
func (a *Analyzer) Analyze(ctx context.Context, previous, current string) (*monitor.Analysis, error) {
	if a == nil || a.client == nil {
		return nil, monitor.ErrAnalysisUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp, err := a.client.Models.GenerateContent(ctx, a.cfg.Model, a.contents(previous, current), a.generateConfig())
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	analysis, err := parseAnalysis(text)
	if err != nil {
		a.logger.Debug("unparseable analysis response", zap.String("text", text))
		return nil, err
	}
	return analysis, nil
}

func (a *Analyzer) contents(previous, current string) []*genai.Content {
	oldText, oldFormat := a.condenser.Condense(previous)
	newText, newFormat := a.condenser.Condense(current)
	prompt := fmt.Sprintf("Here is the old %s:\n```%s\n%s\n```\n\nHere is the new %s:\n```%s\n%s\n```",
		label(oldFormat), oldFormat, oldText,
		label(newFormat), newFormat, newText,
	)
	return []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
}

func (a *Analyzer) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"changeCategory": {Type: genai.TypeString},
				"summary":        {Type: genai.TypeString},
				"insight":        {Type: genai.TypeString},
				"hypothesis":     {Type: genai.TypeString},
			},
			Required: []string{"changeCategory", "summary", "insight", "hypothesis"},
		},
	}
	if a.cfg.Temperature > 0 {
		temp := a.cfg.Temperature
		cfg.Temperature = &temp
	}
	return cfg
}

func label(format string) string {
	if format == condense.FormatMarkdown {
		return "Markdown"
	}
	return "HTML"
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return "", errors.New("gemini candidate has no content")
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errors.New("gemini returned empty text")
	}
	return sb.String(), nil
}

// parseAnalysis decodes the model output, tolerating a fenced code block.
func parseAnalysis(text string) (*monitor.Analysis, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var analysis monitor.Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if analysis.Empty() {
		return nil, errors.New("analysis has no content")
	}
	return &analysis, nil
}
