// Package openai implements crawler.RuleOracle against an OpenAI-compatible
// chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
	"github.com/JakeFAU/careers-crawler/internal/oracle"
)

const maxErrorBody = 2048

// Config for the client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client implements crawler.RuleOracle.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// GenerateRule asks the model for selectors describing the job list in the sample.
func (c *Client) GenerateRule(ctx context.Context, req crawler.RuleRequest) (crawler.Rule, error) {
	start := time.Now()
	content, err := c.complete(ctx, rulePrompt(req))
	if err != nil {
		metrics.ObserveOracle("rule", "error", time.Since(start))
		c.logger.Warn("oracle rule request failed", zap.String("company", req.CompanyName), zap.Error(err))
		return crawler.Rule{}, err
	}
	rule, err := oracle.ParseRule(content)
	if err != nil {
		metrics.ObserveOracle("rule", "unparseable", time.Since(start))
		c.logger.Warn("oracle rule reply rejected",
			zap.String("company", req.CompanyName),
			zap.Int("reply_bytes", len(content)),
			zap.Error(err),
		)
		return crawler.Rule{}, fmt.Errorf("parse rule reply: %w", err)
	}
	metrics.ObserveOracle("rule", "ok", time.Since(start))
	c.logger.Debug("oracle rule generated",
		zap.String("company", req.CompanyName),
		zap.String("job_item_selector", rule.JobItem),
		zap.Float64("confidence", rule.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rule, nil
}

// SuggestCareersURLs asks for likely careers page URLs, most likely first.
func (c *Client) SuggestCareersURLs(ctx context.Context, companyName, domain string) ([]string, error) {
	start := time.Now()
	content, err := c.complete(ctx, suggestionPrompt(companyName, domain))
	if err != nil {
		metrics.ObserveOracle("suggest", "error", time.Since(start))
		return nil, err
	}
	urls := oracle.ParseURLSuggestions(content)
	metrics.ObserveOracle("suggest", "ok", time.Since(start))
	c.logger.Debug("oracle suggested urls", zap.String("company", companyName), zap.Strings("urls", urls))
	return urls, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle http error: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("oracle response body close error", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("oracle status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oracle response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("no choices in oracle response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
