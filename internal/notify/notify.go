// Package notify dispatches change alerts to one of eight channel
// kinds, encoded as a single tagged string on the watch's notify_target
// field (spec.md §4.8): "ntfy:<topic>", "gotify:<server>|<token>",
// "slack:<webhook>", "discord:<webhook>", "telegram:<bot>|<chat>",
// "pushover:<user>|<token>", "matrix:<server>|<room>|<token>", and
// "command:<shell>".
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Alert is one dispatched notification.
type Alert struct {
	Title   string
	Body    string
	URL     string
}

const (
	maxTitleLen = 128
	maxBodyLen  = 4 << 10
)

// Truncate clamps an Alert's fields to the limits spec.md §6 sets.
func (a Alert) Truncate() Alert {
	a.Title = truncate(a.Title, maxTitleLen)
	a.Body = truncate(a.Body, maxBodyLen)
	return a
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const ellipsis = "…"
	return s[:limit-len(ellipsis)] + ellipsis
}

// Channel delivers an Alert to one backend.
type Channel interface {
	Send(ctx context.Context, a Alert) error
}

// Dispatch parses a notify_target string and returns the Channel it
// names. An empty target or "none" both resolve to ErrUnconfigured —
// callers treat "none" as an intentional suppression, distinct from a
// genuinely missing configuration, at the store layer (spec.md §9).
func Dispatch(target string) (Channel, error) {
	if target == "" || target == "none" {
		return nil, fmt.Errorf("notify: %w", ErrUnconfigured)
	}
	kind, rest, ok := strings.Cut(target, ":")
	if !ok {
		return nil, fmt.Errorf("notify: malformed target %q", target)
	}
	switch kind {
	case "ntfy":
		return &ntfyChannel{topic: rest}, nil
	case "gotify":
		server, token, err := splitTwo(rest)
		if err != nil {
			return nil, err
		}
		return &gotifyChannel{server: server, token: token}, nil
	case "slack":
		return &webhookChannel{url: rest, format: formatSlack}, nil
	case "discord":
		return &webhookChannel{url: rest, format: formatDiscord}, nil
	case "telegram":
		bot, chat, err := splitTwo(rest)
		if err != nil {
			return nil, err
		}
		return &telegramChannel{botToken: bot, chatID: chat}, nil
	case "pushover":
		user, token, err := splitTwo(rest)
		if err != nil {
			return nil, err
		}
		return &pushoverChannel{userKey: user, appToken: token}, nil
	case "matrix":
		parts := strings.SplitN(rest, "|", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("notify: matrix target needs server|room|token")
		}
		return &matrixChannel{server: parts[0], room: parts[1], token: parts[2]}, nil
	case "command":
		return &commandChannel{shell: rest}, nil
	default:
		return nil, fmt.Errorf("notify: unknown channel kind %q", kind)
	}
}

func splitTwo(s string) (string, string, error) {
	a, b, ok := strings.Cut(s, "|")
	if !ok {
		return "", "", fmt.Errorf("notify: expected two |-separated fields, got %q", s)
	}
	return a, b, nil
}

// QuietHours is the global window, in local time, during which alerts
// are suppressed rather than sent.
type QuietHours struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
}

// Active reports whether now falls inside the quiet window. A window
// that wraps midnight (Start > End) is handled.
func (q QuietHours) Active(now time.Time) bool {
	if q.Start == "" || q.End == "" {
		return false
	}
	start, errS := parseHHMM(q.Start)
	end, errE := parseHHMM(q.End)
	if errS != nil || errE != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseHHMM(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// Backoff returns the exponential retry delay for attempt (0-indexed),
// capped at one hour (spec.md §4.8).
func Backoff(attempt int) time.Duration {
	const maxBackoff = time.Hour
	d := time.Minute * time.Duration(1<<uint(attempt))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
