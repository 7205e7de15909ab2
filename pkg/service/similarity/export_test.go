package similarity

// Export internal functions for testing
var (
	// Jaccard is exported for testing token overlap scoring
	Jaccard = jaccard

	// TokenSet is exported for testing content tokenization
	TokenSet = tokenSet
)
