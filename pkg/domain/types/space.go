package types

import (
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// SpaceID is a UUID-based identifier for a shared space
type SpaceID string

// NewSpaceID generates a new UUID v4 SpaceID
func NewSpaceID() SpaceID {
	return SpaceID(uuid.New().String())
}

// Validate checks if the SpaceID is a well-formed UUID
func (s SpaceID) Validate() error {
	if s == "" {
		return goerr.New("space ID cannot be empty", goerr.T(ErrTagValidation))
	}
	if _, err := uuid.Parse(string(s)); err != nil {
		return goerr.Wrap(err, "space ID must be a UUID", goerr.T(ErrTagValidation), goerr.V("id", s))
	}
	return nil
}

// String returns the string representation of SpaceID
func (s SpaceID) String() string {
	return string(s)
}
