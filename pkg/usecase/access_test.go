package usecase_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

func TestAccessResolutionOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	member := types.AgentID("agent-member")
	stranger := types.AgentID("agent-stranger")

	space := model.NewSharedSpace("ops notes", owner)
	space.Members = append(space.Members, model.SpaceMember{
		AgentID:    member,
		Permission: types.PermissionRead,
		JoinedAt:   env.clock.Now(),
	})
	gt.NoError(t, env.repo.Space().Create(ctx, space)).Required()

	build := func(sharing types.SharingPolicy, overrides map[types.AgentID]types.Permission) *model.Record {
		record := model.NewRecord(owner, "gateway rollout plan for the east region")
		record.Sharing = sharing
		record.SpaceIDs = []types.SpaceID{space.ID}
		record.Overrides = overrides
		return record
	}

	cases := []struct {
		name    string
		record  *model.Record
		agentID types.AgentID
		want    types.Permission
	}{
		{
			name:    "owner always holds admin",
			record:  build(types.SharingPrivate, nil),
			agentID: owner,
			want:    types.PermissionAdmin,
		},
		{
			name:    "private denies space members",
			record:  build(types.SharingPrivate, nil),
			agentID: member,
			want:    "",
		},
		{
			name: "private denies even override holders",
			record: build(types.SharingPrivate, map[types.AgentID]types.Permission{
				member: types.PermissionWrite,
			}),
			agentID: member,
			want:    "",
		},
		{
			name: "override beats the space grant",
			record: build(types.SharingSharedRead, map[types.AgentID]types.Permission{
				member: types.PermissionWrite,
			}),
			agentID: member,
			want:    types.PermissionWrite,
		},
		{
			name: "override narrows the space grant too",
			record: build(types.SharingSharedWrite, map[types.AgentID]types.Permission{
				member: types.PermissionRead,
			}),
			agentID: member,
			want:    types.PermissionRead,
		},
		{
			name:    "shared read grants members read",
			record:  build(types.SharingSharedRead, nil),
			agentID: member,
			want:    types.PermissionRead,
		},
		{
			name:    "shared read denies strangers",
			record:  build(types.SharingSharedRead, nil),
			agentID: stranger,
			want:    "",
		},
		{
			name:    "shared write grants members write",
			record:  build(types.SharingSharedWrite, nil),
			agentID: member,
			want:    types.PermissionWrite,
		},
		{
			name:    "public grants anyone read",
			record:  build(types.SharingPublic, nil),
			agentID: stranger,
			want:    types.PermissionRead,
		},
		{
			name:    "empty sharing is private",
			record:  build("", nil),
			agentID: member,
			want:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perm, err := env.uc.Access.Resolve(ctx, tc.agentID, tc.record)
			gt.NoError(t, err).Required()
			gt.V(t, perm).Equal(tc.want)
		})
	}
}

func TestAccessDanglingSpaceTag(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	reader := types.AgentID("agent-reader")

	record := model.NewRecord(owner, "points at a space that no longer exists")
	record.Sharing = types.SharingSharedRead
	record.SpaceIDs = []types.SpaceID{types.NewSpaceID()}

	perm, err := env.uc.Access.Resolve(ctx, reader, record)
	gt.NoError(t, err).Required()
	gt.V(t, perm).Equal(types.Permission(""))
}

func TestAccessRequire(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	member := types.AgentID("agent-member")

	space := model.NewSharedSpace("shared notes", owner)
	space.Members = append(space.Members, model.SpaceMember{
		AgentID:    member,
		Permission: types.PermissionRead,
		JoinedAt:   env.clock.Now(),
	})
	gt.NoError(t, env.repo.Space().Create(ctx, space)).Required()

	record := model.NewRecord(owner, "readable but not writable for members")
	record.Sharing = types.SharingSharedRead
	record.SpaceIDs = []types.SpaceID{space.ID}

	gt.NoError(t, env.uc.Access.Require(ctx, member, record, types.PermissionRead))

	err := env.uc.Access.Require(ctx, member, record, types.PermissionWrite)
	gt.Error(t, err)
	gt.B(t, goerr.HasTag(err, types.ErrTagPermission)).True()

	gt.B(t, env.uc.Access.CanRead(ctx, member, record)).True()
	gt.B(t, env.uc.Access.CanRead(ctx, types.AgentID("agent-stranger"), record)).False()
}
