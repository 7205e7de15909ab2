package embedding

// Export internal functions for testing
var (
	// BuildMergePrompt is exported for testing prompt construction
	BuildMergePrompt = buildMergePrompt

	// TestMergeSystemPrompt is exported for testing
	TestMergeSystemPrompt = mergeSystemPrompt
)
