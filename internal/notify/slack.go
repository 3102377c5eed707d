// Package notify posts operation summaries to Slack: the orchestrator and
// schedule evaluator announce a one-line summary whenever a start/stop
// state machine completes, wired as an orchestrator.NotifyFunc.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/haloworks/fleetctl/pkg/registry"
)

// SlackNotifier posts operation-log summaries to a single Slack channel.
type SlackNotifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackNotifier constructs a SlackNotifier. If botToken is empty, the
// notifier logs only (IsEnabled reports false).
func NewSlackNotifier(botToken, channel string, logger *slog.Logger) *SlackNotifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackNotifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether this notifier has a live Slack client.
func (n *SlackNotifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// Notify posts entry as a Slack message, matching orchestrator.NotifyFunc.
// Posting failures are logged, never propagated: notification is a
// best-effort side channel, not part of the lifecycle state machine.
func (n *SlackNotifier) Notify(ctx context.Context, entry registry.OperationLogEntry) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping operation notice", "app", entry.App, "action", entry.Action)
		return
	}

	blocks := operationBlocks(entry)
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallbackText(entry), false),
	)
	if err != nil {
		n.logger.Warn("posting operation notice to slack", "app", entry.App, "action", entry.Action, "error", err)
	}
}

func operationBlocks(entry registry.OperationLogEntry) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, fmt.Sprintf("%s %s: %s", resultEmoji(entry.Result), strings.ToUpper(entry.Action), entry.App), true, false),
	)

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Source:* %s", entry.Source), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Result:* %s", entry.Result), false, false),
	}
	section := goslack.NewSectionBlock(nil, fields, nil)

	blocks := []goslack.Block{header, section}
	if len(entry.Warnings) > 0 {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "*Warnings:*\n"+strings.Join(entry.Warnings, "\n"), false, false),
			nil, nil,
		))
	}
	return blocks
}

func fallbackText(entry registry.OperationLogEntry) string {
	return fmt.Sprintf("%s %s: %s (%s)", resultEmoji(entry.Result), strings.ToUpper(entry.Action), entry.App, entry.Result)
}

func resultEmoji(result string) string {
	switch result {
	case "success":
		return "✅"
	case "partial":
		return "⚠️"
	default:
		return "❌"
	}
}
