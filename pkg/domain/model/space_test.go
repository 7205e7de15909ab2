package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

func TestNewSharedSpace(t *testing.T) {
	space := model.NewSharedSpace("research", "planner")

	gt.NoError(t, space.ID.Validate())
	gt.Value(t, space.OwnerID).Equal(types.AgentID("planner"))
	gt.Array(t, space.Members).Length(1)
	gt.Value(t, space.Members[0].Permission).Equal(types.PermissionAdmin)
	gt.Value(t, space.DefaultSharing).Equal(types.SharingSharedRead)
	gt.NoError(t, space.Validate())
}

func TestSharedSpace_MemberPermission(t *testing.T) {
	space := model.NewSharedSpace("research", "planner")
	space.Members = append(space.Members, model.SpaceMember{
		AgentID:    "worker",
		Permission: types.PermissionRead,
		JoinedAt:   time.Now(),
	})

	t.Run("owner always admin", func(t *testing.T) {
		perm, ok := space.MemberPermission("planner")
		gt.Bool(t, ok).True()
		gt.Value(t, perm).Equal(types.PermissionAdmin)
	})

	t.Run("member gets declared permission", func(t *testing.T) {
		perm, ok := space.MemberPermission("worker")
		gt.Bool(t, ok).True()
		gt.Value(t, perm).Equal(types.PermissionRead)
	})

	t.Run("non member denied", func(t *testing.T) {
		_, ok := space.MemberPermission("stranger")
		gt.Bool(t, ok).False()
	})

	t.Run("owner entry cannot be downgraded", func(t *testing.T) {
		downgraded := space.Clone()
		downgraded.Members[0].Permission = types.PermissionRead

		perm, ok := downgraded.MemberPermission("planner")
		gt.Bool(t, ok).True()
		gt.Value(t, perm).Equal(types.PermissionAdmin)
	})
}

func TestSharedSpace_Validate(t *testing.T) {
	t.Run("empty name rejected", func(t *testing.T) {
		space := model.NewSharedSpace("", "planner")
		gt.Error(t, space.Validate())
	})

	t.Run("duplicate member rejected", func(t *testing.T) {
		space := model.NewSharedSpace("research", "planner")
		space.Members = append(space.Members, model.SpaceMember{
			AgentID:    "planner",
			Permission: types.PermissionRead,
		})
		gt.Error(t, space.Validate())
	})

	t.Run("invalid member permission rejected", func(t *testing.T) {
		space := model.NewSharedSpace("research", "planner")
		space.Members = append(space.Members, model.SpaceMember{
			AgentID:    "worker",
			Permission: "OWNER",
		})
		gt.Error(t, space.Validate())
	})
}

func TestSharedSpace_Clone(t *testing.T) {
	space := model.NewSharedSpace("research", "planner")
	clone := space.Clone()

	clone.Members[0].AgentID = "other"
	gt.Value(t, space.Members[0].AgentID).Equal(types.AgentID("planner"))
}
