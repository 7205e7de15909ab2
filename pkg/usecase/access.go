package usecase

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// AccessUseCase resolves what an agent may do with a record. Resolution
// order, most specific first:
//
//  1. the owner holds admin
//  2. a private record admits nobody else, overrides included
//  3. a per-record override entry decides for its agent
//  4. shared-read/shared-write derive from membership in a tagged space
//  5. public grants read to any agent
//
// Anything that falls through is a denial, and denials are terminal: no
// later rule can re-grant what an earlier rule refused.
type AccessUseCase struct {
	uc *UseCases
}

func newAccessUseCase(uc *UseCases) *AccessUseCase {
	return &AccessUseCase{uc: uc}
}

// Resolve returns the effective permission the agent holds on the record.
// An empty permission means no access.
func (a *AccessUseCase) Resolve(ctx context.Context, agentID types.AgentID, record *model.Record) (types.Permission, error) {
	if record == nil {
		return "", nil
	}
	if agentID == record.AgentID {
		return types.PermissionAdmin, nil
	}

	sharing := record.Sharing.Normalize()
	if sharing == types.SharingPrivate {
		return "", nil
	}

	if perm, ok := record.Overrides[agentID]; ok {
		return perm, nil
	}

	switch sharing {
	case types.SharingPublic:
		return types.PermissionRead, nil
	case types.SharingSharedRead, types.SharingSharedWrite:
		member, err := a.memberOfAny(ctx, agentID, record.SpaceIDs)
		if err != nil {
			return "", err
		}
		if !member {
			return "", nil
		}
		if sharing == types.SharingSharedWrite {
			return types.PermissionWrite, nil
		}
		return types.PermissionRead, nil
	}

	return "", nil
}

// Require returns a permission-tagged error unless the agent holds at least
// the required level on the record
func (a *AccessUseCase) Require(ctx context.Context, agentID types.AgentID, record *model.Record, required types.Permission) error {
	perm, err := a.Resolve(ctx, agentID, record)
	if err != nil {
		return err
	}
	if perm == "" || !perm.Allows(required) {
		return goerr.New("agent does not hold the required permission",
			goerr.T(types.ErrTagPermission),
			goerr.V(model.AgentIDKey, agentID),
			goerr.V(model.RecordIDKey, record.ID),
			goerr.V("required", required.String()))
	}
	return nil
}

// CanRead reports whether the agent may read the record. Store failures
// during resolution deny rather than leak.
func (a *AccessUseCase) CanRead(ctx context.Context, agentID types.AgentID, record *model.Record) bool {
	perm, err := a.Resolve(ctx, agentID, record)
	if err != nil {
		return false
	}
	return perm != "" && perm.Allows(types.PermissionRead)
}

// memberOfAny reports whether the agent belongs to at least one of the
// spaces. Spaces that no longer exist are skipped; a deleted space must not
// keep granting access through stale record tags.
func (a *AccessUseCase) memberOfAny(ctx context.Context, agentID types.AgentID, spaceIDs []types.SpaceID) (bool, error) {
	for _, spaceID := range spaceIDs {
		space, err := a.uc.repo.Space().Get(ctx, spaceID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return false, err
		}
		if space.IsMember(agentID) {
			return true, nil
		}
	}
	return false, nil
}
