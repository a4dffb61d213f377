package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/util"

	"go.uber.org/zap"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// HTTPGenerator calls a text generation endpoint that accepts
// {"prompt": "..."} and answers {"text": "..."}.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGenerator creates a generator for endpoint
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate posts the prompt and returns the generated text
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("text generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("text generation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode text generation response: %w", err)
	}
	return out.Text, nil
}

// Safe wraps a Generator so callers never see an error: failures and
// empty answers degrade to a fallback string.
type Safe struct {
	gen    Generator
	logger *zap.Logger
}

// NewSafe wraps gen. A nil gen always yields the fallback.
func NewSafe(gen Generator, logger *zap.Logger) *Safe {
	return &Safe{gen: gen, logger: util.LoggerOrDefault(logger)}
}

// Generate returns generated text or fallback. A panicking generator also
// yields the fallback.
func (s *Safe) Generate(ctx context.Context, prompt, fallback string) (text string) {
	if s == nil || s.gen == nil {
		util.TextGenFallbacksTotal.Inc()
		return fallback
	}

	defer func() {
		if r := recover(); r != nil {
			util.TextGenFallbacksTotal.Inc()
			s.logger.Error("Text generator panicked, using fallback", zap.Any("panic", r))
			text = fallback
		}
	}()

	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		util.TextGenFallbacksTotal.Inc()
		s.logger.Warn("Text generation failed, using fallback", zap.Error(err))
		return fallback
	}

	text = strings.TrimSpace(text)
	if text == "" {
		util.TextGenFallbacksTotal.Inc()
		return fallback
	}
	return text
}
