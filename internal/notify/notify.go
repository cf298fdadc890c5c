// Package notify sends outbound task-completion notifications to Telegram,
// mirroring the original send_message helper: a fixed banner prefix, and a
// silent no-op whenever credentials are not configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const bannerPrefix = "**【alist2strm 任务通知】**\n"

// Telegram sends messages through the Telegram Bot API. A zero-value
// Telegram with an empty APIKey or UserID is valid and every Send is a no-op,
// matching the original bot's behavior when unconfigured.
type Telegram struct {
	APIKey string
	UserID string

	// baseURL defaults to the Telegram API; overridden in tests.
	baseURL string
	client  *http.Client
}

const telegramBaseURL = "https://api.telegram.org"

// NewTelegram builds a notifier from the daemon's configured key and user id.
func NewTelegram(apiKey, userID string) *Telegram {
	return &Telegram{
		APIKey:  apiKey,
		UserID:  userID,
		baseURL: telegramBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts text to the configured chat, prefixed with the banner. It is a
// no-op returning nil when the notifier is unconfigured.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.APIKey == "" || t.UserID == "" {
		return nil
	}

	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	base := t.baseURL
	if base == "" {
		base = telegramBaseURL
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", base, t.APIKey)
	body := url.Values{
		"chat_id":    {t.UserID},
		"text":       {bannerPrefix + text},
		"parse_mode": {"Markdown"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return errors.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "notify: send")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return errors.Newf("notify: telegram returned %d: %s", resp.StatusCode, payload.Description)
	}
	return nil
}
