// Package notify delivers formatted notice messages to Telegram channels.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Config controls the Telegram sender.
type Config struct {
	BotToken string
	// BaseURL overrides the Telegram API host (testing only). Defaults to
	// https://api.telegram.org.
	BaseURL string
	Timeout time.Duration
}

// Telegram implements notice.Notifier via the bot sendMessage API.
type Telegram struct {
	cfg    Config
	client *http.Client
}

var _ notice.Notifier = (*Telegram)(nil)

// New builds a Telegram sender from configuration.
func New(cfg Config) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("notify: bot token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts one message to one channel. Errors are DeliveryError so the
// pipeline leaves the item unsent and retries on the next run.
func (t *Telegram) Send(ctx context.Context, channelID, text string) error {
	if err := t.send(ctx, channelID, text); err != nil {
		metrics.ObserveNotification(channelID, "error")
		return &notice.DeliveryError{ChannelID: channelID, Err: err}
	}
	metrics.ObserveNotification(channelID, "ok")
	return nil
}

func (t *Telegram) send(ctx context.Context, channelID, text string) error {
	if channelID == "" {
		return fmt.Errorf("empty channel id")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.BaseURL, t.cfg.BotToken)
	form := url.Values{}
	form.Set("chat_id", channelID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}
