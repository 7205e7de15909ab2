package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/slack-go/slack"
)

// slackNotifier posts sweep summaries and merge proposals to a Slack channel
type slackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a notifier posting to the given channel with a bot token
func NewSlack(token, channel string) (interfaces.Notifier, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}
	if channel == "" {
		return nil, goerr.New("Slack channel is required")
	}

	return &slackNotifier{
		api:     slack.New(token),
		channel: channel,
	}, nil
}

// NotifySweep posts a summary of an applied lifecycle sweep
func (n *slackNotifier) NotifySweep(ctx context.Context, report *model.SweepReport) error {
	if report == nil || len(report.Changes) == 0 {
		return nil
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Lifecycle sweep applied", false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, buildSweepText(report), false, false),
			nil, nil),
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return goerr.Wrap(err, "failed to post sweep summary to Slack")
	}
	return nil
}

// NotifyMergeProposal announces a new merge recommendation awaiting review
func (n *slackNotifier) NotifyMergeProposal(ctx context.Context, rec *model.MergeRecommendation) error {
	if rec == nil {
		return nil
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Merge recommendation", false, false)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, buildProposalText(rec), false, false),
			nil, nil),
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return goerr.Wrap(err, "failed to post merge proposal to Slack")
	}
	return nil
}

// buildSweepText renders the sweep summary message body
func buildSweepText(report *model.SweepReport) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Examined %d records, applied %d transitions in %s.\n",
		report.Examined, len(report.Changes),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String())

	counts := report.Counts()
	for _, state := range types.AllLifecycleStates() {
		if count := counts[state]; count > 0 {
			fmt.Fprintf(&sb, "• %s: %d\n", strings.ToLower(state.String()), count)
		}
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(&sb, "%d records failed and will be retried next sweep.\n", len(report.Errors))
	}

	return sb.String()
}

// buildProposalText renders the merge proposal message body
func buildProposalText(rec *model.MergeRecommendation) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Records `%s` and `%s` look like near duplicates (score %.2f).\n",
		rec.SourceID, rec.TargetID, rec.Score)
	fmt.Fprintf(&sb, "Owner `%s` can apply recommendation `%s` to fold them together.\n",
		rec.AgentID, rec.ID)
	if len(rec.Conflicts) > 0 {
		fmt.Fprintf(&sb, "%d metadata keys need a manual decision.\n", len(rec.Conflicts))
	}

	return sb.String()
}
