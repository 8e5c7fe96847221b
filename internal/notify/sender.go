// Package notify delivers formatted order notifications to a tenant
// and its delegated staff over the chat platform.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRecipientUnreachable signals that the recipient refused delivery
// (revoked the chat). The fan-out treats it specially only for the
// tenant's primary contact.
var ErrRecipientUnreachable = errors.New("recipient refused delivery")

// Message is one formatted notification, optionally with a product
// photo attached.
type Message struct {
	Text     string
	PhotoURL string
}

// ChatSender delivers one message to one contact address.
type ChatSender interface {
	Send(ctx context.Context, contactAddress int64, msg Message) error
}

// TelegramSender implements ChatSender against the Telegram Bot API.
type TelegramSender struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewTelegramSender creates a sender for the given bot token.
// baseURL overrides the Telegram API host in tests.
func NewTelegramSender(token, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramSender{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *TelegramSender) Send(ctx context.Context, contactAddress int64, msg Message) error {
	method := "sendMessage"
	body := map[string]interface{}{
		"chat_id":    contactAddress,
		"parse_mode": "HTML",
	}

	if msg.PhotoURL != "" {
		method = "sendPhoto"
		body["photo"] = msg.PhotoURL
		body["caption"] = msg.Text
	} else {
		body["text"] = msg.Text
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", s.baseURL, s.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat delivery failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrRecipientUnreachable
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("chat platform returned %d", resp.StatusCode)
	}
	return nil
}
