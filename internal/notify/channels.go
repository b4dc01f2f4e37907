package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"oi-lot-manager/internal/config"
)

const userAgent = "oi-lot-manager/1.0"

// postJSON sends v as a JSON body and returns the response for non-2xx
// inspection. The caller closes the body.
func postJSON(ctx context.Context, client *http.Client, url string, v interface{}) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return client.Do(req)
}

// WebhookNotifier posts each notification as JSON to a URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Kind    Kind                   `json:"kind"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	SentAt  string                 `json:"sent_at"`
}

// Send implements Channel.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	resp, err := postJSON(ctx, w.client, w.url, webhookPayload{
		Kind:    n.Kind,
		Title:   n.Title,
		Message: n.Message,
		Data:    n.Data,
		SentAt:  n.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends notifications through the Bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	// Bot API allows about one message per second per chat.
	pace *rate.Limiter
}

// NewTelegramNotifier creates a TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
		pace:    rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Channel.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if err := t.pace.Wait(ctx); err != nil {
		return err
	}

	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      "<b>" + html.EscapeString(n.Title) + "</b>\n\n" + html.EscapeString(n.Message),
		ParseMode: "HTML",
	}
	resp, err := postJSON(ctx, t.client, t.apiBase+"/bot"+t.token+"/sendMessage", msg)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var reply telegramReply
	if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&reply) == nil && reply.Description != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, reply.Description)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

var (
	_ Channel = (*WebhookNotifier)(nil)
	_ Channel = (*TelegramNotifier)(nil)
)
