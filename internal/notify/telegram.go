package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rombuilder/internal/dispatcher"

	"golang.org/x/time/rate"
)

// Telegram sends the rendered message to telegram:<chat id> channels
// through the Bot API.
type Telegram struct {
	apiURL  string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewTelegram creates a bot API deliverer. perSecond caps messages across all chats.
func NewTelegram(apiURL, token string, perSecond float64, timeout time.Duration) *Telegram {
	return &Telegram{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Deliver implements dispatcher.Deliverer.
func (t *Telegram) Deliver(ctx context.Context, event *dispatcher.Event) error {
	chatID := target(event.Destination)
	if chatID == "" {
		return dispatcher.Permanent(errors.New("telegram: empty chat id"))
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      event.Message,
		ParseMode: "Markdown",
	})
	if err != nil {
		return dispatcher.Permanent(fmt.Errorf("telegram: marshal message: %w", err))
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return dispatcher.Permanent(fmt.Errorf("telegram: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()

	var out botResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out.OK {
		return nil
	}

	err = fmt.Errorf("telegram: chat %s: status %d: %s", chatID, resp.StatusCode, out.Description)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return dispatcher.Permanent(err)
	}
	return err
}
