package config

import (
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/service/notify"
	"github.com/urfave/cli/v3"
)

// Notify holds CLI flags for operator notifications
type Notify struct {
	slackToken   string
	slackChannel string
}

// Flags returns CLI flags for notification configuration
func (n *Notify) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack bot token for sweep and merge notifications",
			Sources:     cli.EnvVars("MNEMOSYNE_SLACK_BOT_TOKEN"),
			Destination: &n.slackToken,
		},
		&cli.StringFlag{
			Name:        "slack-channel",
			Usage:       "Slack channel ID to post notifications into",
			Sources:     cli.EnvVars("MNEMOSYNE_SLACK_CHANNEL"),
			Destination: &n.slackChannel,
		},
	}
}

// Enabled reports whether Slack notification is configured
func (n *Notify) Enabled() bool {
	return n.slackToken != ""
}

// Configure returns the notifier. Without a bot token notifications are
// silently dropped.
func (n *Notify) Configure() (interfaces.Notifier, error) {
	if n.slackToken == "" {
		return notify.NewNull(), nil
	}
	return notify.NewSlack(n.slackToken, n.slackChannel)
}
