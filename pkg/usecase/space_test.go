package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
)

func TestCreateSpace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := types.AgentID("agent-owner")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{
		Name:        "incident response",
		Description: "working notes for the on-call rotation",
	})
	gt.NoError(t, err).Required()
	gt.Value(t, space.OwnerID).Equal(owner)
	gt.Value(t, space.DefaultSharing).Equal(types.SharingSharedRead)
	gt.Array(t, space.Members).Length(1)
	gt.Value(t, space.Members[0].Permission).Equal(types.PermissionAdmin)

	t.Run("name required", func(t *testing.T) {
		_, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("private default rejected", func(t *testing.T) {
		_, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{
			Name:           "invisible",
			DefaultSharing: types.SharingPrivate,
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("unknown default rejected", func(t *testing.T) {
		_, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{
			Name:           "bogus",
			DefaultSharing: types.SharingPolicy("broadcast"),
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})
}

func TestSpaceVisibility(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	member := types.AgentID("agent-member")
	stranger := types.AgentID("agent-stranger")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "triage"})
	gt.NoError(t, err).Required()
	gt.NoError(t, env.uc.Space.Join(ctx, member, space.ID, types.PermissionRead)).Required()

	got, err := env.uc.Space.Get(ctx, member, space.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.ID).Equal(space.ID)

	_, err = env.uc.Space.Get(ctx, stranger, space.ID)
	gt.Error(t, err)
	gt.Bool(t, errors.Is(err, model.ErrNotSpaceMember)).True()
	gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()

	spaces, err := env.uc.Space.List(ctx, member)
	gt.NoError(t, err).Required()
	gt.Array(t, spaces).Length(1)

	spaces, err = env.uc.Space.List(ctx, stranger)
	gt.NoError(t, err).Required()
	gt.Array(t, spaces).Length(0)
}

func TestJoinAndLeaveSpace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	member := types.AgentID("agent-member")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "open door"})
	gt.NoError(t, err).Required()

	gt.NoError(t, env.uc.Space.Join(ctx, member, space.ID, types.PermissionWrite)).Required()

	got, err := env.uc.Space.Get(ctx, member, space.ID)
	gt.NoError(t, err).Required()
	perm, ok := got.MemberPermission(member)
	gt.Bool(t, ok).True()
	gt.Value(t, perm).Equal(types.PermissionWrite)

	t.Run("joining twice fails", func(t *testing.T) {
		err := env.uc.Space.Join(ctx, member, space.ID, types.PermissionRead)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, model.ErrAlreadySpaceMember)).True()
	})

	t.Run("admin membership is not joinable", func(t *testing.T) {
		err := env.uc.Space.Join(ctx, types.AgentID("agent-ambitious"), space.ID, types.PermissionAdmin)
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()
	})

	t.Run("owner cannot leave", func(t *testing.T) {
		err := env.uc.Space.Leave(ctx, owner, space.ID)
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("member leaves", func(t *testing.T) {
		gt.NoError(t, env.uc.Space.Leave(ctx, member, space.ID)).Required()

		_, err := env.uc.Space.Get(ctx, member, space.ID)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, model.ErrNotSpaceMember)).True()
	})

	t.Run("leaving when not a member fails", func(t *testing.T) {
		err := env.uc.Space.Leave(ctx, member, space.ID)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, model.ErrNotSpaceMember)).True()
	})
}

func TestDeleteSpace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-owner")
	member := types.AgentID("agent-member")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "short lived"})
	gt.NoError(t, err).Required()
	gt.NoError(t, env.uc.Space.Join(ctx, member, space.ID, types.PermissionRead)).Required()

	err = env.uc.Space.Delete(ctx, member, space.ID)
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()

	gt.NoError(t, env.uc.Space.Delete(ctx, owner, space.ID)).Required()

	_, err = env.uc.Space.Get(ctx, owner, space.ID)
	gt.Error(t, err)
	gt.Bool(t, errors.Is(err, model.ErrNotFound)).True()
}
