/**
 * @description
 * This package provides the one-way notification channel to the subject:
 * a thin client over the Telegram Bot API's sendMessage call. Messages
 * longer than the single-message limit are chunked, with inline
 * keyboards attached only to the final chunk.
 */
package telegramclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxMessageLength is Telegram's single-message character limit.
const MaxMessageLength = 4096

// InlineKeyboardButton is one follow-up action under a message.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InlineKeyboard is the reply markup for a message.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// Client is a client for the Telegram Bot API.
type Client struct {
	BaseURL    string
	Token      string
	httpClient *http.Client
}

// NewClient creates a new bot API client.
func NewClient(token string) *Client {
	return &Client{
		BaseURL: "https://api.telegram.org",
		Token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendMessageRequest struct {
	ChatID                int64           `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview"`
	ReplyMarkup           *InlineKeyboard `json:"reply_markup,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage delivers text to a chat, splitting it into chunks under
// the message limit. The keyboard, if any, rides on the last chunk only.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboard) error {
	chunks := ChunkMessage(text, MaxMessageLength)
	for i, chunk := range chunks {
		var markup *InlineKeyboard
		if i == len(chunks)-1 {
			markup = keyboard
		}
		if err := c.sendOne(ctx, chatID, chunk, markup); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendOne(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboard) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
		ReplyMarkup:           keyboard,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sendMessage body: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.Token)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to Telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram API error: status %d - %s", resp.StatusCode, string(respBody))
	}

	var apiResp sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API rejected message: %s", apiResp.Description)
	}
	return nil
}

// ChunkMessage splits text into pieces no longer than limit runes,
// preferring to break at a newline and falling back to a space before
// cutting mid-word.
func ChunkMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}

		cut := limit
		window := string(runes[:limit])
		if idx := strings.LastIndex(window, "\n"); idx > 0 {
			cut = len([]rune(window[:idx]))
		} else if idx := strings.LastIndex(window, " "); idx > 0 {
			cut = len([]rune(window[:idx]))
		}

		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
		for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
			runes = runes[1:]
		}
	}
	return chunks
}
