// Package analyze extracts structured notice fields from raw announcement
// text via an OpenAI-compatible chat-completions API.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

const systemPrompt = `부산 구청 장례(부고) 게시글에서 아래 필드를 추출해 JSON으로만 답하라.
필드: name, birth_date, residence, death_datetime, death_place,
funeral_schedule, funeral_place, departure_datetime, cremation_datetime.
찾을 수 없는 필드는 생략한다. JSON 외의 텍스트는 출력하지 않는다.`

// Config controls the chat-completions client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Client implements notice.Analyzer backed by an OpenAI-compatible API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ notice.Analyzer = (*Client)(nil)

// New builds a Client from configuration.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Model == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("analyze: endpoint, model and api key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze posts the raw text as a user message and parses the model's JSON
// reply into structured fields.
func (c *Client) Analyze(ctx context.Context, rawText string) (notice.NoticeFields, error) {
	fields, err := c.analyze(ctx, rawText)
	if err == nil {
		metrics.ObserveAnalysisCall("ok")
	} else {
		metrics.ObserveAnalysisCall("error")
	}
	if err != nil {
		return notice.NoticeFields{}, &notice.AnalysisError{Err: err}
	}
	return fields, nil
}

func (c *Client) analyze(ctx context.Context, rawText string) (notice.NoticeFields, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: rawText},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return notice.NoticeFields{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return notice.NoticeFields{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return notice.NoticeFields{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return notice.NoticeFields{}, fmt.Errorf("chat completion %s: %s",
			resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return notice.NoticeFields{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return notice.NoticeFields{}, fmt.Errorf("chat response has no choices")
	}

	content := extractJSON(parsed.Choices[0].Message.Content)
	var fields notice.NoticeFields
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		c.logger.Debug("unparseable analysis reply", zap.String("content", content))
		return notice.NoticeFields{}, fmt.Errorf("parse analysis reply: %w", err)
	}
	return fields, nil
}

// extractJSON trims code fences and surrounding prose that some models emit
// despite the JSON-only instruction.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
