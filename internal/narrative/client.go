package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
)

const systemPrompt = `You write short bookkeeping health narratives for small businesses.
You receive a JSON score card computed by a rules engine. Never change,
restate differently or invent numbers; refer to the scores as given.
Reply with a single JSON object with exactly two string fields:
"business_owner_summary" (plain language, at most 120 words) and
"bookkeeper_plan" (a numbered remediation list).`

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    config.NarrativeConfig
	http   *http.Client
	logger *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a narrative client. cfg must already be validated.
func NewClient(cfg config.NarrativeConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// scoreContext is what the model sees: scores and issues, no secrets and
// no raw report data.
type scoreContext struct {
	OverallScore int                  `json:"overall_score"`
	Readiness    models.Readiness     `json:"readiness"`
	PillarScores []models.PillarScore `json:"pillar_scores"`
	WindowStart  string               `json:"window_start"`
	WindowEnd    string               `json:"window_end"`
	DataQuality  []models.DataWarning `json:"data_quality,omitempty"`
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, result *models.AssessmentResult) (*Sections, error) {
	sc := scoreContext{
		OverallScore: result.OverallScore,
		Readiness:    result.Readiness,
		PillarScores: result.PillarScores,
		DataQuality:  result.Metadata.DataQuality,
	}
	if !result.Metadata.Window.IsZero() {
		sc.WindowStart = result.Metadata.Window.StartDate()
		sc.WindowEnd = result.Metadata.Window.EndDate()
	}
	card, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(card)},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("narrative request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("narrative response: %w", err)
	}

	var cr chatResponse
	decodeErr := json.Unmarshal(raw, &cr)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && cr.Error != nil {
			return nil, fmt.Errorf("narrative generator returned status %d: %s", resp.StatusCode, cr.Error.Message)
		}
		return nil, fmt.Errorf("narrative generator returned status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("narrative response is not valid JSON: %w", decodeErr)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("narrative response has no choices")
	}

	sections, err := parseSections(cr.Choices[0].Message.Content)
	if err != nil {
		c.logger.WarnWithContext(ctx, "narrative content unreadable", "model", c.cfg.Model, "length", len(cr.Choices[0].Message.Content))
		return nil, err
	}
	return sections, nil
}

// parseSections reads the JSON object out of a reply, tolerating code
// fences and leading chatter.
func parseSections(content string) (*Sections, error) {
	s := strings.TrimSpace(content)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("narrative content has no JSON object")
	}
	var out Sections
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("narrative content: %w", err)
	}
	return &out, nil
}
