// Package estimator obtains probability estimates from an OpenAI-compatible
// chat completion API.
package estimator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
	"github.com/oraclesentinel/oracle-sentinel/internal/models"
)

const systemPrompt = `You are a calibrated forecaster for binary prediction markets.
Base your probability on evidence and treat the market price as a baseline: a
deviation of more than 15 points from it needs very specific evidence. If the
evidence is thin, lower your confidence instead of guessing. If the market's
end date has passed or the event has already happened, recommend SKIP.

Respond with exactly one JSON object:
{
  "probability": 0.XX,
  "confidence": "LOW|MEDIUM|HIGH",
  "reasoning": "2-3 sentences",
  "recommendation": "BUY_YES|BUY_NO|NO_TRADE|SKIP"
}`

// Config holds client settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	AnalysisModel string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
}

// Client is a Probability Estimator backed by a chat completion API.
type Client struct {
	api           *openai.Client
	model         string
	analysisModel string
	maxTokens     int
	temperature   float32
	now           func() time.Time
}

// NewClient creates a Client. An empty BaseURL uses the OpenAI endpoint.
func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	analysis := cfg.AnalysisModel
	if analysis == "" {
		analysis = cfg.Model
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1500
	}
	return &Client{
		api:           openai.NewClientWithConfig(oc),
		model:         cfg.Model,
		analysisModel: analysis,
		maxTokens:     maxTokens,
		temperature:   cfg.Temperature,
		now:           time.Now,
	}
}

// Estimate asks the model for a probability that m resolves YES. Responses
// that cannot be parsed yield a NaN probability so the caller's sanitiser
// flags them as malformed.
func (c *Client) Estimate(ctx context.Context, m models.Market, category, lessons string) (models.Estimate, error) {
	content, err := c.chat(ctx, c.model, systemPrompt, BuildPrompt(m, category, lessons, c.now()), c.maxTokens)
	if err != nil {
		return models.Estimate{}, err
	}
	est := ParseEstimate(content)
	if math.IsNaN(est.Probability) {
		logger.Warn("Estimator response for %s had no usable probability: %.200s", m.Ref, content)
	}
	return est, nil
}

// Complete sends a single system+user exchange to the analysis model.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.chat(ctx, c.analysisModel, system, prompt, 500)
}

func (c *Client) chat(ctx context.Context, model, system, prompt string, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("chat completion failed with status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// BuildPrompt renders the user message for one market.
func BuildPrompt(m models.Market, category, lessons string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("PREDICTION MARKET ANALYSIS\n\n")
	fmt.Fprintf(&sb, "QUESTION: %s\n", m.Question)
	if category != "" {
		fmt.Fprintf(&sb, "CATEGORY: %s\n", category)
	}
	fmt.Fprintf(&sb, "CURRENT TIME: %s\n\n", now.UTC().Format(time.RFC3339))
	sb.WriteString("CURRENT MARKET DATA:\n")
	fmt.Fprintf(&sb, "- YES price: $%.3f (market implies %.1f%% probability)\n", m.YesPrice, m.YesPrice*100)
	fmt.Fprintf(&sb, "- NO price: $%.3f\n", 1-m.YesPrice)
	fmt.Fprintf(&sb, "- 24h Volume: $%.0f\n", m.Volume24hr)
	fmt.Fprintf(&sb, "- Liquidity: $%.0f\n", m.Liquidity)
	if !m.EndDate.IsZero() {
		fmt.Fprintf(&sb, "- End date: %s\n", m.EndDate.UTC().Format(time.RFC3339))
	}
	if m.Description != "" {
		fmt.Fprintf(&sb, "\nRESOLUTION RULES:\n%s\n", m.Description)
	}
	if lessons != "" {
		fmt.Fprintf(&sb, "\n%s\n", lessons)
	}
	sb.WriteString("\nRespond ONLY with the JSON object, no other text.")
	return sb.String()
}

type rawEstimate struct {
	Probability    FlexFloat `json:"probability"`
	Confidence     string    `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	Recommendation string    `json:"recommendation"`
}

// ParseEstimate extracts an estimate from model output, tolerating code
// fences and surrounding prose. A missing or unparsable probability is NaN;
// an unknown confidence label is passed through for the sanitiser to reject.
func ParseEstimate(content string) models.Estimate {
	est := models.Estimate{Probability: math.NaN()}
	obj := ExtractJSON(content)
	if obj == "" {
		return est
	}
	var raw rawEstimate
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return est
	}
	if v, ok := raw.Probability.Value(); ok {
		est.Probability = v
	}
	est.Confidence = models.Confidence(strings.ToUpper(strings.TrimSpace(raw.Confidence)))
	est.Reasoning = strings.TrimSpace(raw.Reasoning)
	est.Suggested = models.ParseRecommendation(raw.Recommendation)
	return est
}

// ExtractJSON returns the outermost {...} span of s, or "".
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// FlexFloat accepts a JSON number or a numeric string, optionally ending in %.
type FlexFloat struct {
	v   float64
	set bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return nil
	}
	if strings.HasSuffix(s, "%") {
		v /= 100
	}
	f.v, f.set = v, true
	return nil
}

// Value returns the parsed value and whether one was present.
func (f FlexFloat) Value() (float64, bool) {
	return f.v, f.set
}
