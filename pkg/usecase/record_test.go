package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
)

func TestCreateRecord(t *testing.T) {
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "Deploy window opens Friday 14:00 UTC",
		Category: "operations",
		Metadata: map[string]model.MetaValue{"source": model.MetaString("runbook")},
	})

	gt.Value(t, record.AgentID).Equal(owner)
	gt.Value(t, record.State).Equal(types.LifecycleActive)
	gt.Value(t, record.Sharing).Equal(types.SharingPrivate)
	gt.Number(t, record.Version).Equal(int64(1))
	gt.Value(t, record.ContentHash).Equal(model.HashContent("Deploy window opens Friday 14:00 UTC"))

	stored := env.storedRecord(t, record.ID)
	gt.Value(t, stored.Content).Equal(record.Content)
	gt.Value(t, stored.Category).Equal("operations")

	events := env.recordEvents(t, record.ID)
	gt.Array(t, events).Length(1)
	gt.Value(t, events[0].Kind).Equal(types.EventCreated)
	gt.Number(t, events[0].Sequence).Equal(int64(1))
	gt.Value(t, events[0].Actor).Equal(owner)
}

func TestCreateRecordAdoptsSpaceDefault(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "triage"})
	gt.NoError(t, err).Required()

	record := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "Pager escalation order for the triage rotation",
		SpaceIDs: []types.SpaceID{space.ID},
	})
	gt.Value(t, record.Sharing).Equal(types.SharingSharedRead)

	wide, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{
		Name:           "scratchpad",
		DefaultSharing: types.SharingSharedWrite,
	})
	gt.NoError(t, err).Required()

	writable := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "Shared draft agents may edit in place",
		SpaceIDs: []types.SpaceID{wide.ID},
	})
	gt.Value(t, writable.Sharing).Equal(types.SharingSharedWrite)

	// An explicit sharing choice is never overridden by the space default
	pinned := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "Private note kept private inside the space",
		Sharing:  types.SharingPrivate,
		SpaceIDs: []types.SpaceID{wide.ID},
	})
	gt.Value(t, pinned.Sharing).Equal(types.SharingPrivate)
}

func TestCreateRecordValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := types.AgentID("agent-planner")

	t.Run("empty content", func(t *testing.T) {
		_, err := env.uc.Record.Create(ctx, owner, usecase.CreateRecordInput{Content: "   "})
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, model.ErrEmptyContent)).True()
	})

	t.Run("invalid sharing", func(t *testing.T) {
		_, err := env.uc.Record.Create(ctx, owner, usecase.CreateRecordInput{
			Content: "valid content",
			Sharing: types.SharingPolicy("everyone"),
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("ttl must be in the future", func(t *testing.T) {
		past := env.clock.Now().Add(-time.Hour)
		_, err := env.uc.Record.Create(ctx, owner, usecase.CreateRecordInput{
			Content: "valid content",
			TTL:     &past,
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("space membership required", func(t *testing.T) {
		other := types.AgentID("agent-other")
		space, err := env.uc.Space.Create(ctx, other, usecase.CreateSpaceInput{Name: "not yours"})
		gt.NoError(t, err).Required()

		_, err = env.uc.Record.Create(ctx, owner, usecase.CreateRecordInput{
			Content:  "tagging into someone else's space",
			SpaceIDs: []types.SpaceID{space.ID},
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()
		gt.Bool(t, errors.Is(err, model.ErrNotSpaceMember)).True()
	})
}

func TestGetRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	stranger := types.AgentID("agent-stranger")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{Content: "my private note"})

	got, err := env.uc.Record.Get(ctx, owner, record.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, got.ID).Equal(record.ID)

	_, err = env.uc.Record.Get(ctx, stranger, record.ID)
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()

	_, err = env.uc.Record.Get(ctx, owner, types.NewRecordID())
	gt.Error(t, err)
	gt.Bool(t, errors.Is(err, model.ErrNotFound)).True()
}

func TestUpdateRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{Content: "first revision"})

	content := "second revision"
	updated, err := env.uc.Record.Update(ctx, owner, record.ID, usecase.UpdateRecordInput{
		Content:         &content,
		ExpectedVersion: 1,
	})
	gt.NoError(t, err).Required()
	gt.Number(t, updated.Version).Equal(int64(2))
	gt.Value(t, updated.Content).Equal("second revision")
	gt.Value(t, updated.ContentHash).Equal(model.HashContent("second revision"))
	gt.Value(t, updated.UpdatedAt).Equal(env.clock.Now())

	events := env.recordEvents(t, record.ID)
	gt.Array(t, events).Length(2)
	gt.Value(t, events[1].Kind).Equal(types.EventUpdated)
	gt.Number(t, events[1].Sequence).Equal(int64(2))
	gt.Array(t, events[1].Changed).Length(1)
}

func TestUpdateRecordVersionConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{Content: "first revision"})

	content := "second revision"
	_, err := env.uc.Record.Update(ctx, owner, record.ID, usecase.UpdateRecordInput{
		Content:         &content,
		ExpectedVersion: 1,
	})
	gt.NoError(t, err).Required()

	stale := "acts on an old read"
	_, err = env.uc.Record.Update(ctx, owner, record.ID, usecase.UpdateRecordInput{
		Content:         &stale,
		ExpectedVersion: 1,
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagConflict)).True()

	// The losing update left no write and no event behind
	gt.Number(t, env.storedRecord(t, record.ID).Version).Equal(int64(2))
	gt.Array(t, env.recordEvents(t, record.ID)).Length(2)
}

func TestUpdateRecordNoChange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{Content: "steady state"})

	same := "steady state"
	updated, err := env.uc.Record.Update(ctx, owner, record.ID, usecase.UpdateRecordInput{
		Content:         &same,
		ExpectedVersion: 1,
	})
	gt.NoError(t, err).Required()
	gt.Number(t, updated.Version).Equal(int64(1))
	gt.Array(t, env.recordEvents(t, record.ID)).Length(1)
}

func TestUpdateRecordPermission(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	reader := types.AgentID("agent-reader")

	space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "read only club"})
	gt.NoError(t, err).Required()
	gt.NoError(t, env.uc.Space.Join(ctx, reader, space.ID, types.PermissionRead)).Required()

	record := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "members may read this but not change it",
		SpaceIDs: []types.SpaceID{space.ID},
	})
	gt.Value(t, record.Sharing).Equal(types.SharingSharedRead)

	content := "readers cannot write"
	_, err = env.uc.Record.Update(ctx, reader, record.ID, usecase.UpdateRecordInput{
		Content:         &content,
		ExpectedVersion: 1,
	})
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagPermission)).True()
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	record := env.createRecord(t, owner, usecase.CreateRecordInput{
		Content:  "scheduled for removal",
		Metadata: map[string]model.MetaValue{"source": model.MetaString("runbook")},
	})

	t.Run("token required", func(t *testing.T) {
		err := env.uc.Record.Delete(ctx, owner, record.ID, "")
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("delete drops the payload", func(t *testing.T) {
		conf, err := env.uc.Confirm.Request(ctx, owner, model.ConfirmDelete, record.ID.String())
		gt.NoError(t, err).Required()

		gt.NoError(t, env.uc.Record.Delete(ctx, owner, record.ID, conf.Token)).Required()

		stored := env.storedRecord(t, record.ID)
		gt.Value(t, stored.State).Equal(types.LifecycleDeleted)
		gt.Value(t, stored.Content).Equal("")
		gt.Value(t, stored.ContentHash).Equal("")
		gt.Bool(t, stored.Metadata == nil).True()
		gt.Number(t, stored.Version).Equal(int64(2))

		ts, err := env.repo.Tombstone().Get(ctx, record.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, ts.Reason).Equal(model.TombstoneDeleted)
		gt.Value(t, ts.PurgeAfter).Equal(env.clock.Now().Add(model.DefaultPolicy().DeleteAfter))

		events := env.recordEvents(t, record.ID)
		gt.Array(t, events).Length(2)
		gt.Value(t, events[1].Kind).Equal(types.EventDeleted)
		gt.Bool(t, events[1].Snapshot == nil).True()
	})

	t.Run("repeat delete is a no-op without a token", func(t *testing.T) {
		gt.NoError(t, env.uc.Record.Delete(ctx, owner, record.ID, ""))
	})

	t.Run("token for another subject is rejected", func(t *testing.T) {
		second := env.createRecord(t, owner, usecase.CreateRecordInput{Content: "stays alive"})
		conf, err := env.uc.Confirm.Request(ctx, owner, model.ConfirmDelete, "a-different-subject")
		gt.NoError(t, err).Required()

		err = env.uc.Record.Delete(ctx, owner, second.ID, conf.Token)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, model.ErrConfirmationScope)).True()
		gt.Value(t, env.storedRecord(t, second.ID).State).Equal(types.LifecycleActive)
	})
}

func TestSearchRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	observer := types.AgentID("agent-observer")

	env.createRecord(t, owner, usecase.CreateRecordInput{
		Content: "postgres connection pooling guide", Category: "infra", Sharing: types.SharingPublic,
	})
	env.createRecord(t, owner, usecase.CreateRecordInput{
		Content: "redis eviction policy notes", Category: "infra",
	})
	env.createRecord(t, owner, usecase.CreateRecordInput{
		Content: "postgres upgrade checklist", Category: "dba", Sharing: types.SharingPublic,
	})

	t.Run("text filter", func(t *testing.T) {
		results, err := env.uc.Record.Search(ctx, owner, usecase.SearchQuery{Text: "postgres"})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(2)
	})

	t.Run("category filter", func(t *testing.T) {
		results, err := env.uc.Record.Search(ctx, owner, usecase.SearchQuery{Category: "infra"})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(2)
	})

	t.Run("deleted state is not searchable", func(t *testing.T) {
		_, err := env.uc.Record.Search(ctx, owner, usecase.SearchQuery{
			States: []types.LifecycleState{types.LifecycleDeleted},
		})
		gt.Error(t, err)
		gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
	})

	t.Run("space search hides unreadable records", func(t *testing.T) {
		space, err := env.uc.Space.Create(ctx, owner, usecase.CreateSpaceInput{Name: "search scope"})
		gt.NoError(t, err).Required()
		gt.NoError(t, env.uc.Space.Join(ctx, observer, space.ID, types.PermissionRead)).Required()

		env.createRecord(t, owner, usecase.CreateRecordInput{
			Content:  "shared runbook entry",
			SpaceIDs: []types.SpaceID{space.ID},
		})
		env.createRecord(t, owner, usecase.CreateRecordInput{
			Content:  "private even in the space",
			Sharing:  types.SharingPrivate,
			SpaceIDs: []types.SpaceID{space.ID},
		})

		results, err := env.uc.Record.Search(ctx, observer, usecase.SearchQuery{SpaceID: space.ID})
		gt.NoError(t, err).Required()
		gt.Array(t, results).Length(1)
		gt.Value(t, results[0].Content).Equal("shared runbook entry")
	})
}

func TestListOwn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	owner := types.AgentID("agent-planner")
	other := types.AgentID("agent-other")
	env.createRecord(t, owner, usecase.CreateRecordInput{Content: "mine first"})
	env.createRecord(t, owner, usecase.CreateRecordInput{Content: "mine second"})
	env.createRecord(t, other, usecase.CreateRecordInput{Content: "not mine"})

	records, err := env.uc.Record.ListOwn(ctx, owner, 0, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, records).Length(2)

	_, err = env.uc.Record.ListOwn(ctx, owner, -1, 0)
	gt.Error(t, err)
	gt.Bool(t, goerr.HasTag(err, types.ErrTagValidation)).True()
}
