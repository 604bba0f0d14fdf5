// Package notify pushes escalation notices to the staff Slack channel so
// agents see a pending conversation without polling the panel.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/CoopDesk/CoopDesk/internal/config"
	"github.com/CoopDesk/CoopDesk/internal/store"
)

// slackAPI is the subset of the Slack client the notifier needs.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts a short notice to a fixed channel whenever a
// conversation enters the pending-human queue.
type SlackNotifier struct {
	api       slackAPI
	channelID string
}

// NewSlackNotifier builds a notifier from config, or nil when Slack
// notifications are disabled or missing a token.
func NewSlackNotifier(cfg config.SlackNotifyConfig) *SlackNotifier {
	token := strings.TrimSpace(cfg.BotToken)
	channel := strings.TrimSpace(cfg.ChannelID)
	if !cfg.Enabled || token == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{
		api:       slack.New(token),
		channelID: channel,
	}
}

// ConversationEscalated posts the escalation notice. The preview is the
// customer message that triggered the handover, truncated for readability.
func (n *SlackNotifier) ConversationEscalated(ctx context.Context, conv *store.Conversation, preview string) error {
	text := fmt.Sprintf(":rotating_light: Conversación #%d (%s) espera un agente humano.\n> %s",
		conv.ID, conv.Address, truncate(preview, 200))
	_, _, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
