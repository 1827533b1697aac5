package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.line.me"

// Client talks to the LINE Messaging API. It verifies inbound webhook
// signatures and delivers outbound replies and pushes; it implements
// the queue engine's Notifier via Notify.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	channelSecret string
	accessToken   string
}

type Options struct {
	// Endpoint overrides the LINE API base URL, for tests.
	Endpoint string
	Timeout  time.Duration
}

func NewClient(channelSecret, accessToken string, options Options) *Client {
	endpoint := options.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		endpoint:      endpoint,
		channelSecret: channelSecret,
		accessToken:   accessToken,
	}
}

// ValidateSignature checks the X-Line-Signature header against the raw
// request body: base64(HMAC-SHA256(channel secret, body)).
func (c *Client) ValidateSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Event is one webhook event, narrowed to what the bot consumes.
type Event struct {
	Type        string
	MessageType string
	Text        string
	UserID      string
	ReplyToken  string
}

type webhookPayload struct {
	Events []struct {
		Type       string `json:"type"`
		ReplyToken string `json:"replyToken"`
		Source     struct {
			UserID string `json:"userId"`
		} `json:"source"`
		Message struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"events"`
}

func ParseWebhook(body []byte) ([]Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(payload.Events))
	for _, raw := range payload.Events {
		events = append(events, Event{
			Type:        raw.Type,
			MessageType: raw.Message.Type,
			Text:        raw.Message.Text,
			UserID:      raw.Source.UserID,
			ReplyToken:  raw.ReplyToken,
		})
	}
	return events, nil
}

func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	payload := map[string]interface{}{
		"replyToken": replyToken,
		"messages":   textMessages(text),
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

func (c *Client) Push(ctx context.Context, to, text string) error {
	payload := map[string]interface{}{
		"to":       to,
		"messages": textMessages(text),
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

// Notify implements queue.Notifier. The owner identity is the LINE
// user id.
func (c *Client) Notify(ctx context.Context, ownerID, message string) error {
	return c.Push(ctx, ownerID, message)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("line api %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func textMessages(text string) []map[string]string {
	return []map[string]string{{"type": "text", "text": text}}
}
