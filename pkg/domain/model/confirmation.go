package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// ConfirmScope names the destructive operation a confirmation token covers
type ConfirmScope string

const (
	ConfirmDelete     ConfirmScope = "delete"
	ConfirmMerge      ConfirmScope = "merge"
	ConfirmSweepApply ConfirmScope = "sweep_apply"
)

// Confirmation is a single-use token authorizing one destructive operation.
// It is issued by a dry run or an explicit request and must be presented when
// the operation is executed; executing without one is a validation error.
type Confirmation struct {
	Token     string
	Scope     ConfirmScope
	Subject   string        // record ID, pair key, or sweep token subject
	AgentID   types.AgentID // requester; only the same agent may spend it
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// NewConfirmation issues a token for one destructive operation. The clock is
// passed in so expiry is judged against the same time source that spends the
// token.
func NewConfirmation(scope ConfirmScope, subject string, agentID types.AgentID, ttl time.Duration, now time.Time) *Confirmation {
	return &Confirmation{
		Token:     uuid.New().String(),
		Scope:     scope,
		Subject:   subject,
		AgentID:   agentID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Spend validates the token against the operation being executed and marks it
// used. A token is valid once, for one scope and subject, for its requester,
// within its TTL.
func (c *Confirmation) Spend(scope ConfirmScope, subject string, agentID types.AgentID, now time.Time) error {
	if c.UsedAt != nil {
		return goerr.Wrap(ErrConfirmationUsed, "confirmation token was already spent",
			goerr.T(types.ErrTagValidation), goerr.V(TokenKey, c.Token))
	}
	if now.After(c.ExpiresAt) {
		return goerr.Wrap(ErrConfirmationStale, "confirmation token has expired",
			goerr.T(types.ErrTagValidation), goerr.V(TokenKey, c.Token))
	}
	if c.Scope != scope || c.Subject != subject || c.AgentID != agentID {
		return goerr.Wrap(ErrConfirmationScope, "confirmation token covers a different operation",
			goerr.T(types.ErrTagValidation),
			goerr.V(TokenKey, c.Token), goerr.V("scope", scope), goerr.V("subject", subject))
	}
	used := now
	c.UsedAt = &used
	return nil
}
