package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// SpaceMember is an agent's membership in a shared space
type SpaceMember struct {
	AgentID    types.AgentID
	Permission types.Permission
	JoinedAt   time.Time
}

// SharedSpace is a named group of agents. Records tagged into a space become
// visible to its members according to the record's sharing policy.
type SharedSpace struct {
	ID          types.SpaceID
	Name        string
	Description string
	OwnerID     types.AgentID // creator, holds admin implicitly
	Members     []SpaceMember
	// DefaultSharing is applied to a private record when it is tagged into
	// this space
	DefaultSharing types.SharingPolicy
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSharedSpace creates a space with the owner as its first admin member
func NewSharedSpace(name string, ownerID types.AgentID) *SharedSpace {
	now := time.Now().UTC()
	return &SharedSpace{
		ID:      types.NewSpaceID(),
		Name:    name,
		OwnerID: ownerID,
		Members: []SpaceMember{
			{AgentID: ownerID, Permission: types.PermissionAdmin, JoinedAt: now},
		},
		DefaultSharing: types.SharingSharedRead,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Validate checks structural validity of the space
func (s *SharedSpace) Validate() error {
	if err := s.ID.Validate(); err != nil {
		return err
	}
	if s.Name == "" {
		return goerr.New("space name is required",
			goerr.T(types.ErrTagValidation), goerr.V(SpaceIDKey, s.ID))
	}
	if err := s.OwnerID.Validate(); err != nil {
		return err
	}
	if s.DefaultSharing != "" && !s.DefaultSharing.IsValid() {
		return goerr.New("invalid default sharing policy",
			goerr.T(types.ErrTagValidation), goerr.V(SpaceIDKey, s.ID))
	}
	seen := make(map[types.AgentID]bool, len(s.Members))
	for _, member := range s.Members {
		if err := member.AgentID.Validate(); err != nil {
			return err
		}
		if !member.Permission.IsValid() {
			return goerr.New("invalid member permission",
				goerr.T(types.ErrTagValidation),
				goerr.V(SpaceIDKey, s.ID), goerr.V(AgentIDKey, member.AgentID))
		}
		if seen[member.AgentID] {
			return goerr.New("duplicate space member",
				goerr.T(types.ErrTagValidation),
				goerr.V(SpaceIDKey, s.ID), goerr.V(AgentIDKey, member.AgentID))
		}
		seen[member.AgentID] = true
	}
	return nil
}

// MemberPermission returns the permission granted to the agent within the
// space. The owner always holds admin, even if its member entry says less.
func (s *SharedSpace) MemberPermission(agentID types.AgentID) (types.Permission, bool) {
	if agentID == s.OwnerID {
		return types.PermissionAdmin, true
	}
	for _, member := range s.Members {
		if member.AgentID == agentID {
			return member.Permission, true
		}
	}
	return "", false
}

// IsMember reports whether the agent belongs to the space
func (s *SharedSpace) IsMember(agentID types.AgentID) bool {
	_, ok := s.MemberPermission(agentID)
	return ok
}

// Clone returns a deep copy of the space
func (s *SharedSpace) Clone() *SharedSpace {
	if s == nil {
		return nil
	}
	out := *s
	if s.Members != nil {
		out.Members = make([]SpaceMember, len(s.Members))
		copy(out.Members, s.Members)
	}
	return &out
}
