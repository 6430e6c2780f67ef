package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackNotifier posts alerts to a Slack channel. If botToken is empty it
// behaves as a no-op, logging the event instead of posting.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier creates a SlackNotifier. Pass an empty botToken to
// get a logging-only notifier.
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

func (n *SlackNotifier) isEnabled() bool { return n.client != nil && n.channel != "" }

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	text := formatEvent(event)
	if !n.isEnabled() {
		n.logger.Warn("notify: slack disabled, logging alert instead", "kind", event.Kind, "provider", event.Provider, "text", text)
		return nil
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: posting to slack: %w", err)
	}
	return nil
}

func formatEvent(event Event) string {
	switch event.Kind {
	case EventTokenExpired:
		return fmt.Sprintf(":warning: token expired for user %q provider %q: reconnection required", event.UserID, event.Provider)
	case EventCircuitOpen:
		return fmt.Sprintf(":rotating_light: circuit breaker open for provider %q: %s", event.Provider, event.Message)
	default:
		return fmt.Sprintf(":grey_question: %s (%s/%s): %s", event.Kind, event.Provider, event.UserID, event.Message)
	}
}
