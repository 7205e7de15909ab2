package types

// DupClass is the classification of a candidate duplicate pair
type DupClass string

const (
	// DupExact means the content hashes are identical
	DupExact DupClass = "EXACT"
	// DupNear means similarity is at or above the near threshold but content differs
	DupNear DupClass = "NEAR"
	// DupRelated means similarity falls in the audit band below the near threshold
	DupRelated DupClass = "RELATED"
	// DupDistinct means similarity is below the audit band; the pair is discarded
	DupDistinct DupClass = "DISTINCT"
)

// IsValid checks if the classification is valid
func (c DupClass) IsValid() bool {
	switch c {
	case DupExact, DupNear, DupRelated, DupDistinct:
		return true
	default:
		return false
	}
}

// String returns the string representation of the classification
func (c DupClass) String() string {
	return string(c)
}

// DupResolution is the recorded outcome for a duplicate pair
type DupResolution string

const (
	DupKeptBoth         DupResolution = "KEPT_BOTH"
	DupMergedIntoTarget DupResolution = "MERGED_INTO_TARGET"
	DupSuperseded       DupResolution = "SUPERSEDED"
)

// IsValid checks if the resolution is valid
func (r DupResolution) IsValid() bool {
	switch r {
	case DupKeptBoth, DupMergedIntoTarget, DupSuperseded:
		return true
	default:
		return false
	}
}

// String returns the string representation of the resolution
func (r DupResolution) String() string {
	return string(r)
}
