package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrTransport, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

// ntfyChannel posts a plain-text push to a ntfy.sh (or self-hosted) topic.
type ntfyChannel struct{ topic string }

func (c *ntfyChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://ntfy.sh/"+c.topic, bytes.NewReader([]byte(a.Body)))
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrTransport, err)
	}
	req.Header.Set("Title", a.Title)
	if a.URL != "" {
		req.Header.Set("Click", a.URL)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

// gotifyChannel posts to a self-hosted Gotify server.
type gotifyChannel struct{ server, token string }

func (c *gotifyChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	endpoint := fmt.Sprintf("%s/message?token=%s", c.server, url.QueryEscape(c.token))
	return postJSON(ctx, endpoint, map[string]any{
		"title":    a.Title,
		"message":  a.Body,
		"priority": 5,
	})
}

type webhookFormatter func(Alert) any

func formatSlack(a Alert) any {
	text := a.Title
	if a.Body != "" {
		text += "\n" + a.Body
	}
	if a.URL != "" {
		text += "\n" + a.URL
	}
	return map[string]any{"text": text}
}

func formatDiscord(a Alert) any {
	content := a.Title
	if a.Body != "" {
		content += "\n" + a.Body
	}
	if a.URL != "" {
		content += "\n" + a.URL
	}
	return map[string]any{"content": content}
}

// webhookChannel posts a formatter-shaped JSON body to a Slack- or
// Discord-style incoming webhook URL.
type webhookChannel struct {
	url    string
	format webhookFormatter
}

func (c *webhookChannel) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, c.url, c.format(a.Truncate()))
}

// telegramChannel sends via the Bot API sendMessage call.
type telegramChannel struct{ botToken, chatID string }

func (c *telegramChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	text := a.Title
	if a.Body != "" {
		text += "\n" + a.Body
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.botToken)
	return postJSON(ctx, endpoint, map[string]any{"chat_id": c.chatID, "text": text})
}

// pushoverChannel sends via the Pushover REST API.
type pushoverChannel struct{ userKey, appToken string }

func (c *pushoverChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	form := url.Values{
		"token":   {c.appToken},
		"user":    {c.userKey},
		"title":   {a.Title},
		"message": {a.Body},
	}
	if a.URL != "" {
		form.Set("url", a.URL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.pushover.net/1/messages.json",
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}

// matrixChannel sends via the Matrix client-server send-event API.
type matrixChannel struct{ server, room, token string }

func (c *matrixChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	body := a.Title
	if a.Body != "" {
		body += "\n" + a.Body
	}
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message?access_token=%s",
		c.server, url.PathEscape(c.room), url.QueryEscape(c.token))
	return postJSON(ctx, endpoint, map[string]any{"msgtype": "m.text", "body": body})
}

// commandChannel runs a shell command with $TITLE/$SUMMARY/$URL set in
// its environment (spec.md §6).
type commandChannel struct{ shell string }

func (c *commandChannel) Send(ctx context.Context, a Alert) error {
	a = a.Truncate()
	cmd := exec.CommandContext(ctx, "sh", "-c", c.shell)
	cmd.Env = append(os.Environ(),
		"TITLE="+a.Title,
		"SUMMARY="+a.Body,
		"URL="+a.URL,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: command: %v", ErrTransport, err)
	}
	return nil
}
