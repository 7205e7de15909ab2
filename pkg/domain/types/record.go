package types

import (
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// RecordID is a UUID-based identifier for a memory record
type RecordID string

// NewRecordID generates a new UUID v4 RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// Validate checks if the RecordID is a well-formed UUID
func (r RecordID) Validate() error {
	if r == "" {
		return goerr.New("record ID cannot be empty", goerr.T(ErrTagValidation))
	}
	if _, err := uuid.Parse(string(r)); err != nil {
		return goerr.Wrap(err, "record ID must be a UUID", goerr.T(ErrTagValidation), goerr.V("id", r))
	}
	return nil
}

// String returns the string representation of RecordID
func (r RecordID) String() string {
	return string(r)
}

// EmbeddingRef is an opaque handle into the vector index. The core never
// interprets it; only the vector index adapter resolves it to a vector.
type EmbeddingRef string

// String returns the string representation of EmbeddingRef
func (e EmbeddingRef) String() string {
	return string(e)
}
