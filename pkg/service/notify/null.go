package notify

import (
	"context"

	"github.com/secmon-lab/mnemosyne/pkg/domain/interfaces"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
)

// nullNotifier drops every notification. Used when no Slack configuration
// is present so callers never need a nil check.
type nullNotifier struct{}

// NewNull creates a notifier that discards everything
func NewNull() interfaces.Notifier {
	return &nullNotifier{}
}

func (n *nullNotifier) NotifySweep(ctx context.Context, report *model.SweepReport) error {
	return nil
}

func (n *nullNotifier) NotifyMergeProposal(ctx context.Context, rec *model.MergeRecommendation) error {
	return nil
}
