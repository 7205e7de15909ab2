package usecase

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// ConfirmUseCase issues and spends the single-use tokens that gate
// destructive operations. A destructive call without a token is a validation
// error, never a silent pass.
type ConfirmUseCase struct {
	uc *UseCases
}

func newConfirmUseCase(uc *UseCases) *ConfirmUseCase {
	return &ConfirmUseCase{uc: uc}
}

// Request issues a token authorizing one destructive operation on one
// subject. The token expires after the policy's confirmation TTL and can be
// spent once, by the requesting agent only.
func (c *ConfirmUseCase) Request(ctx context.Context, agentID types.AgentID, scope model.ConfirmScope, subject string) (*model.Confirmation, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, goerr.New("confirmation subject is required",
			goerr.T(types.ErrTagValidation), goerr.V("scope", string(scope)))
	}

	conf := model.NewConfirmation(scope, subject, agentID, c.uc.policy.ConfirmationTTL, c.uc.now())
	if err := c.uc.repo.PutConfirmation(ctx, conf); err != nil {
		return nil, goerr.Wrap(err, "failed to store confirmation token")
	}
	return conf, nil
}

// spend validates the token against the operation being executed and burns
// it. The burn is persisted before the operation runs, so a failed
// operation costs the caller a fresh dry run rather than leaving a live
// token behind.
func (c *ConfirmUseCase) spend(ctx context.Context, token string, scope model.ConfirmScope, subject string, agentID types.AgentID) error {
	if token == "" {
		return goerr.New("confirmation token is required for destructive operations",
			goerr.T(types.ErrTagValidation),
			goerr.V("scope", string(scope)), goerr.V("subject", subject))
	}

	conf, err := c.uc.repo.GetConfirmation(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return goerr.Wrap(err, "unknown confirmation token",
				goerr.T(types.ErrTagValidation), goerr.V(model.TokenKey, token))
		}
		return err
	}

	if err := conf.Spend(scope, subject, agentID, c.uc.now()); err != nil {
		return err
	}

	if err := c.uc.repo.PutConfirmation(ctx, conf); err != nil {
		return goerr.Wrap(err, "failed to mark confirmation token as spent",
			goerr.V(model.TokenKey, token))
	}
	return nil
}
