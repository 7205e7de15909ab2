package usecase

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// SpaceUseCase manages shared spaces and their membership. Knowing a space
// ID is the invitation: agents join themselves with the permission they
// request, admin excepted.
type SpaceUseCase struct {
	uc *UseCases
}

func newSpaceUseCase(uc *UseCases) *SpaceUseCase {
	return &SpaceUseCase{uc: uc}
}

// CreateSpaceInput carries the caller-supplied fields of a new space
type CreateSpaceInput struct {
	Name           string
	Description    string
	DefaultSharing types.SharingPolicy // empty means shared-read
}

// Create opens a new space owned by the agent
func (s *SpaceUseCase) Create(ctx context.Context, agentID types.AgentID, input CreateSpaceInput) (*model.SharedSpace, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	if input.DefaultSharing != "" {
		if !input.DefaultSharing.IsValid() {
			return nil, goerr.New("invalid default sharing policy",
				goerr.T(types.ErrTagValidation), goerr.V("sharing", input.DefaultSharing))
		}
		// A private default would leave every tagged record invisible
		if input.DefaultSharing == types.SharingPrivate {
			return nil, goerr.New("space default sharing cannot be private",
				goerr.T(types.ErrTagValidation))
		}
	}

	space := model.NewSharedSpace(input.Name, agentID)
	space.Description = input.Description
	if input.DefaultSharing != "" {
		space.DefaultSharing = input.DefaultSharing
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}

	if err := s.uc.repo.Space().Create(ctx, space); err != nil {
		return nil, goerr.Wrap(err, "failed to create space",
			goerr.V(model.SpaceIDKey, space.ID))
	}
	return space, nil
}

// Get returns the space. Members only; non-members learn nothing beyond
// the denial.
func (s *SpaceUseCase) Get(ctx context.Context, agentID types.AgentID, spaceID types.SpaceID) (*model.SharedSpace, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	space, err := s.uc.repo.Space().Get(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if !space.IsMember(agentID) {
		return nil, goerr.Wrap(model.ErrNotSpaceMember, "space is visible to members only",
			goerr.T(types.ErrTagPermission),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}
	return space, nil
}

// List returns the spaces the agent belongs to
func (s *SpaceUseCase) List(ctx context.Context, agentID types.AgentID) ([]*model.SharedSpace, error) {
	if err := agentID.Validate(); err != nil {
		return nil, err
	}
	return s.uc.repo.Space().ListByMember(ctx, agentID)
}

// Join adds the agent to the space with the requested permission. Admin
// membership is reserved for the owner; record-level escalation goes
// through per-record overrides instead.
func (s *SpaceUseCase) Join(ctx context.Context, agentID types.AgentID, spaceID types.SpaceID, perm types.Permission) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	if !perm.IsValid() {
		return goerr.New("invalid permission",
			goerr.T(types.ErrTagValidation), goerr.V("permission", perm))
	}
	if perm == types.PermissionAdmin {
		return goerr.New("admin membership is reserved for the space owner",
			goerr.T(types.ErrTagPermission),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}

	space, err := s.uc.repo.Space().Get(ctx, spaceID)
	if err != nil {
		return err
	}
	if space.IsMember(agentID) {
		return goerr.Wrap(model.ErrAlreadySpaceMember, "agent already belongs to the space",
			goerr.T(types.ErrTagValidation),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}

	now := s.uc.now()
	space.Members = append(space.Members, model.SpaceMember{
		AgentID:    agentID,
		Permission: perm,
		JoinedAt:   now,
	})
	space.UpdatedAt = now
	return s.uc.repo.Space().Update(ctx, space)
}

// Leave removes the agent from the space. The owner cannot leave; deleting
// the space is the way out.
func (s *SpaceUseCase) Leave(ctx context.Context, agentID types.AgentID, spaceID types.SpaceID) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	space, err := s.uc.repo.Space().Get(ctx, spaceID)
	if err != nil {
		return err
	}
	if agentID == space.OwnerID {
		return goerr.New("the owner cannot leave its own space",
			goerr.T(types.ErrTagValidation), goerr.V(model.SpaceIDKey, spaceID))
	}
	if !space.IsMember(agentID) {
		return goerr.Wrap(model.ErrNotSpaceMember, "agent does not belong to the space",
			goerr.T(types.ErrTagValidation),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}

	members := make([]model.SpaceMember, 0, len(space.Members)-1)
	for _, member := range space.Members {
		if member.AgentID != agentID {
			members = append(members, member)
		}
	}
	space.Members = members
	space.UpdatedAt = s.uc.now()
	return s.uc.repo.Space().Update(ctx, space)
}

// Delete removes the space. Owner only. Records keep their tag; access
// resolution skips spaces that no longer exist.
func (s *SpaceUseCase) Delete(ctx context.Context, agentID types.AgentID, spaceID types.SpaceID) error {
	if err := agentID.Validate(); err != nil {
		return err
	}
	space, err := s.uc.repo.Space().Get(ctx, spaceID)
	if err != nil {
		return err
	}
	if agentID != space.OwnerID {
		return goerr.New("only the owner can delete a space",
			goerr.T(types.ErrTagPermission),
			goerr.V(model.SpaceIDKey, spaceID), goerr.V(model.AgentIDKey, agentID))
	}
	return s.uc.repo.Space().Delete(ctx, spaceID)
}

// spaceDefaultSharing is the sharing a private record adopts when tagged
// into the space. Legacy spaces without a default fall back to shared-read.
func spaceDefaultSharing(space *model.SharedSpace) types.SharingPolicy {
	sharing := space.DefaultSharing
	if !sharing.IsValid() || sharing == types.SharingPrivate {
		return types.SharingSharedRead
	}
	return sharing
}
