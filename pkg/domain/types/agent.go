package types

import (
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// AgentID identifies an agent that owns, reads, or subscribes to records.
// Agent IDs are caller-assigned stable identifiers, not generated UUIDs.
type AgentID string

// SystemAgentPrefix marks agent IDs reserved for internal workers. System
// agents bypass access resolution when consuming the event bus.
const SystemAgentPrefix = "system-"

var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// Validate checks if the AgentID is valid
func (a AgentID) Validate() error {
	if a == "" {
		return goerr.New("agent ID cannot be empty", goerr.T(ErrTagValidation))
	}
	if len(a) > 128 {
		return goerr.New("agent ID exceeds 128 characters", goerr.T(ErrTagValidation), goerr.V("id", a))
	}
	if !agentIDPattern.MatchString(string(a)) {
		return goerr.New("agent ID must be alphanumeric with dot, underscore or hyphen separators",
			goerr.T(ErrTagValidation), goerr.V("id", a))
	}
	return nil
}

// String returns the string representation of AgentID
func (a AgentID) String() string {
	return string(a)
}

// IsSystem reports whether the agent is an internal worker identity
func (a AgentID) IsSystem() bool {
	return strings.HasPrefix(string(a), SystemAgentPrefix)
}
