package notify

// Export internal functions for testing
var (
	// BuildSweepText is exported for testing message rendering
	BuildSweepText = buildSweepText

	// BuildProposalText is exported for testing message rendering
	BuildProposalText = buildProposalText
)
