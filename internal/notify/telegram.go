package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TelegramSink delivers summaries to a configured set of admin chats through
// the Bot API sendMessage call.
type TelegramSink struct {
	client   *http.Client
	apiBase  string
	botToken string
	chatIDs  []int64
}

// NewTelegramSink creates a Telegram-backed admin sink.
func NewTelegramSink(apiBase, botToken string, chatIDs []int64) *TelegramSink {
	return &TelegramSink{
		client:   &http.Client{Timeout: 10 * time.Second},
		apiBase:  apiBase,
		botToken: botToken,
		chatIDs:  chatIDs,
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// Send posts the summary to every admin chat. A failing chat is logged and
// the rest still receive the message.
func (t *TelegramSink) Send(ctx context.Context, s Summary) error {
	text := fmt.Sprintf("[%s] %s", s.Event, s.Text)

	var lastErr error
	for _, chatID := range t.chatIDs {
		if err := t.sendOne(ctx, chatID, text); err != nil {
			slog.Warn("Failed to notify admin chat", "chat_id", chatID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (t *TelegramSink) sendOne(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal sendMessage request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sendMessage: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close Telegram response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendMessage returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
