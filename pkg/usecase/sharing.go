package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/service/txn"
)

// Share tags the record into a space the agent belongs to. A private record
// adopts the space's default sharing; a record with an explicit policy
// keeps it. Sharing an already tagged record is a no-op.
func (r *RecordUseCase) Share(ctx context.Context, agentID types.AgentID, recordID types.RecordID, spaceID types.SpaceID) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}

	space, err := r.uc.repo.Space().Get(ctx, spaceID)
	if err != nil {
		return err
	}
	if !space.IsMember(agentID) {
		return goerr.Wrap(model.ErrNotSpaceMember, "agent cannot share records into a space it does not belong to",
			goerr.T(types.ErrTagPermission),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}

	return r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}
		if record.InSpace(spaceID) {
			return nil
		}

		record.SpaceIDs = append(record.SpaceIDs, spaceID)
		changed := []string{"space_ids"}
		if record.Sharing.Normalize() == types.SharingPrivate {
			record.Sharing = spaceDefaultSharing(space)
			changed = append(changed, "sharing")
		}
		return tx.Put(record, agentID, types.EventShared, changed...)
	})
}

// Unshare removes the record's tag for the space. The tag may be dangling;
// removal works whether or not the space still exists.
func (r *RecordUseCase) Unshare(ctx context.Context, agentID types.AgentID, recordID types.RecordID, spaceID types.SpaceID) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}

	return r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}
		if !record.InSpace(spaceID) {
			return nil
		}

		kept := make([]types.SpaceID, 0, len(record.SpaceIDs)-1)
		for _, id := range record.SpaceIDs {
			if id != spaceID {
				kept = append(kept, id)
			}
		}
		record.SpaceIDs = kept
		return tx.Put(record, agentID, types.EventShared, "space_ids")
	})
}

// SetSharing replaces the record's sharing policy
func (r *RecordUseCase) SetSharing(ctx context.Context, agentID types.AgentID, recordID types.RecordID, sharing types.SharingPolicy) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}
	if !sharing.IsValid() {
		return goerr.New("invalid sharing policy",
			goerr.T(types.ErrTagValidation), goerr.V("sharing", sharing))
	}

	return r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}
		if record.Sharing.Normalize() == sharing {
			return nil
		}

		record.Sharing = sharing
		return tx.Put(record, agentID, types.EventShared, "sharing")
	})
}

// Grant adds or replaces a per-record override for the grantee. Overrides
// beat the space-derived policy but stay inert while the record is private.
func (r *RecordUseCase) Grant(ctx context.Context, agentID types.AgentID, recordID types.RecordID, grantee types.AgentID, perm types.Permission) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}
	if err := grantee.Validate(); err != nil {
		return err
	}
	if !perm.IsValid() {
		return goerr.New("invalid permission",
			goerr.T(types.ErrTagValidation), goerr.V("permission", perm))
	}

	return r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}
		if grantee == record.AgentID {
			return goerr.New("the owner cannot be granted an override",
				goerr.T(types.ErrTagValidation),
				goerr.V(model.RecordIDKey, recordID), goerr.V(model.AgentIDKey, grantee))
		}
		if existing, ok := record.Overrides[grantee]; ok && existing == perm {
			return nil
		}

		if record.Overrides == nil {
			record.Overrides = make(map[types.AgentID]types.Permission)
		}
		record.Overrides[grantee] = perm
		return tx.Put(record, agentID, types.EventShared, "overrides")
	})
}

// Revoke removes the grantee's override. Revoking an absent override is a
// no-op.
func (r *RecordUseCase) Revoke(ctx context.Context, agentID types.AgentID, recordID types.RecordID, grantee types.AgentID) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if err := recordID.Validate(); err != nil {
		return err
	}
	if err := grantee.Validate(); err != nil {
		return err
	}

	return r.uc.co.RunAtomic(ctx, []types.RecordID{recordID}, func(tx *txn.Tx) error {
		record, err := tx.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := deletedAsMissing(record); err != nil {
			return err
		}
		if err := r.uc.Access.Require(ctx, agentID, record, types.PermissionAdmin); err != nil {
			return err
		}
		if _, ok := record.Overrides[grantee]; !ok {
			return nil
		}

		delete(record.Overrides, grantee)
		return tx.Put(record, agentID, types.EventShared, "overrides")
	})
}
