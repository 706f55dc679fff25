package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/conorfennell/dailyreview/internal/config"
)

const anthropicVersion = "2023-06-01"

const systemPrompt = `You are a flashcard answer evaluator for a spaced repetition learning system. Your job is to assess how well a learner's free-form answer demonstrates understanding of the concept being tested.

You will receive:
- QUESTION: The flashcard prompt the learner was shown
- CONTEXT: Reference material about the correct answer (may be absent)
- ANSWER: The learner's free-form response

Scoring guidelines:
- 0.0-0.2: Completely wrong, no relevant understanding demonstrated
- 0.2-0.4: Major gaps or significant misconceptions, but some vague awareness
- 0.4-0.6: Partial understanding, gets the gist but misses important details or has minor errors
- 0.6-0.8: Good understanding, covers the key points with minor omissions
- 0.8-0.9: Strong understanding, accurate and fairly complete
- 0.9-1.0: Excellent, demonstrates thorough and precise understanding

Be fair but rigorous. A vague answer that hits the right keywords but lacks specificity should score lower than a precise, concrete answer.

Keep feedback to 1-2 sentences. Be specific about what was good or what was missed.

Respond with a single JSON object and nothing else: {"score": <number 0.0-1.0>, "feedback": "<text>"}`

// Anthropic grades answers with the Anthropic Messages API.
type Anthropic struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	retry     RetryConfig
}

// NewAnthropic creates a grader from its config section.
func NewAnthropic(cfg config.GraderConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry: RetryConfig{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
			Multiplier:   2.0,
		},
	}, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Evaluate asks the model to score answer. Every failure wraps ErrUnavailable.
func (a *Anthropic) Evaluate(ctx context.Context, front string, cardContext *string, answer string) (Result, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: userMessage(front, cardContext, answer)}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	text, err := withRetry(ctx, a.retry, func() (string, error) {
		return a.send(ctx, body)
	})
	if err != nil {
		return Result{}, errors.Join(ErrUnavailable, err)
	}

	res, err := parseResult(text)
	if err != nil {
		return Result{}, errors.Join(ErrUnavailable, err)
	}
	return res, nil
}

func (a *Anthropic) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", retryableError{fmt.Errorf("anthropic request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", retryableError{fmt.Errorf("read response: %w", err)}
	}

	var result messagesResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		err := fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, msg)
		if IsRetryableStatusCode(resp.StatusCode) {
			return "", retryableError{err}
		}
		return "", err
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("response contained no text content")
}

func userMessage(front string, cardContext *string, answer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", front)
	if cardContext != nil && strings.TrimSpace(*cardContext) != "" {
		fmt.Fprintf(&b, "CONTEXT:\n%s\n\n", *cardContext)
	}
	fmt.Fprintf(&b, "ANSWER:\n%s", answer)
	return b.String()
}

// parseResult reads the JSON verdict, tolerating prose or code fences around it.
func parseResult(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("no JSON object in grader response")
	}

	var v struct {
		Score    *float64 `json:"score"`
		Feedback string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Result{}, fmt.Errorf("decode grader verdict: %w", err)
	}
	if v.Score == nil {
		return Result{}, fmt.Errorf("grader verdict has no score")
	}
	return Result{Score: clampScore(*v.Score), Feedback: strings.TrimSpace(v.Feedback)}, nil
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}
