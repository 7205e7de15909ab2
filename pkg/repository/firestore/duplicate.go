package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// relationDoc keys documents by the unordered pair so each record pair has at
// most one relation regardless of scan direction. RecordIDs carries both IDs
// for array-contains lookups.
type relationDoc struct {
	ID         string    `firestore:"ID"`
	SourceID   string    `firestore:"SourceID"`
	TargetID   string    `firestore:"TargetID"`
	RecordIDs  []string  `firestore:"RecordIDs"`
	Score      float64   `firestore:"Score"`
	Class      string    `firestore:"Class"`
	Resolution string    `firestore:"Resolution"`
	CreatedAt  time.Time `firestore:"CreatedAt"`
}

type recommendationDoc struct {
	ID            string            `firestore:"ID"`
	SourceID      string            `firestore:"SourceID"`
	TargetID      string            `firestore:"TargetID"`
	PairKey       string            `firestore:"PairKey"`
	AgentID       string            `firestore:"AgentID"`
	Score         float64           `firestore:"Score"`
	MergedContent string            `firestore:"MergedContent"`
	Conflicts     []metaConflictDoc `firestore:"Conflicts,omitempty"`
	Applied       bool              `firestore:"Applied"`
	CreatedAt     time.Time         `firestore:"CreatedAt"`
	AppliedAt     *time.Time        `firestore:"AppliedAt,omitempty"`
}

type metaConflictDoc struct {
	Key     string      `firestore:"Key"`
	Kept    interface{} `firestore:"Kept"`
	Dropped interface{} `firestore:"Dropped"`
}

func toRelationDoc(rel *model.DuplicateRelation) *relationDoc {
	return &relationDoc{
		ID:         rel.ID,
		SourceID:   string(rel.SourceID),
		TargetID:   string(rel.TargetID),
		RecordIDs:  []string{string(rel.SourceID), string(rel.TargetID)},
		Score:      rel.Score,
		Class:      string(rel.Class),
		Resolution: string(rel.Resolution),
		CreatedAt:  rel.CreatedAt,
	}
}

func fromRelationDoc(d *relationDoc) *model.DuplicateRelation {
	return &model.DuplicateRelation{
		ID:         d.ID,
		SourceID:   types.RecordID(d.SourceID),
		TargetID:   types.RecordID(d.TargetID),
		Score:      d.Score,
		Class:      types.DupClass(d.Class),
		Resolution: types.DupResolution(d.Resolution),
		CreatedAt:  d.CreatedAt,
	}
}

func toRecommendationDoc(rec *model.MergeRecommendation) *recommendationDoc {
	doc := &recommendationDoc{
		ID:            rec.ID,
		SourceID:      string(rec.SourceID),
		TargetID:      string(rec.TargetID),
		PairKey:       model.PairKey(rec.SourceID, rec.TargetID),
		AgentID:       string(rec.AgentID),
		Score:         rec.Score,
		MergedContent: rec.MergedContent,
		Applied:       rec.Applied(),
		CreatedAt:     rec.CreatedAt,
	}

	for _, conflict := range rec.Conflicts {
		doc.Conflicts = append(doc.Conflicts, metaConflictDoc{
			Key:     conflict.Key,
			Kept:    conflict.Kept.ToNative(),
			Dropped: conflict.Dropped.ToNative(),
		})
	}
	if rec.AppliedAt != nil {
		appliedAt := *rec.AppliedAt
		doc.AppliedAt = &appliedAt
	}

	return doc
}

func fromRecommendationDoc(d *recommendationDoc) (*model.MergeRecommendation, error) {
	rec := &model.MergeRecommendation{
		ID:            d.ID,
		SourceID:      types.RecordID(d.SourceID),
		TargetID:      types.RecordID(d.TargetID),
		AgentID:       types.AgentID(d.AgentID),
		Score:         d.Score,
		MergedContent: d.MergedContent,
		CreatedAt:     d.CreatedAt,
	}

	for _, conflict := range d.Conflicts {
		kept, err := model.MetaValueFromNative(conflict.Kept)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert kept conflict value", goerr.V(model.MetaKeyKey, conflict.Key))
		}
		dropped, err := model.MetaValueFromNative(conflict.Dropped)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert dropped conflict value", goerr.V(model.MetaKeyKey, conflict.Key))
		}
		rec.Conflicts = append(rec.Conflicts, model.MetaConflict{
			Key:     conflict.Key,
			Kept:    kept,
			Dropped: dropped,
		})
	}
	if d.AppliedAt != nil {
		appliedAt := *d.AppliedAt
		rec.AppliedAt = &appliedAt
	}

	return rec, nil
}

type duplicateRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newDuplicateRepository(client *firestore.Client) *duplicateRepository {
	return &duplicateRepository{
		client: client,
	}
}

func (r *duplicateRepository) relationsCollection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "duplicate_relations")
}

func (r *duplicateRepository) recommendationsCollection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + "merge_recommendations")
}

func (r *duplicateRepository) PutRelation(ctx context.Context, rel *model.DuplicateRelation) error {
	docRef := r.relationsCollection().Doc(rel.PairKey())
	if _, err := docRef.Set(ctx, toRelationDoc(rel)); err != nil {
		return goerr.Wrap(err, "failed to put duplicate relation",
			goerr.V("source_id", rel.SourceID), goerr.V("target_id", rel.TargetID))
	}

	return nil
}

func (r *duplicateRepository) GetRelationByPair(ctx context.Context, a, b types.RecordID) (*model.DuplicateRelation, error) {
	docRef := r.relationsCollection().Doc(model.PairKey(a, b))
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "duplicate relation not found",
				goerr.V("source_id", a), goerr.V("target_id", b))
		}
		return nil, goerr.Wrap(err, "failed to get duplicate relation")
	}

	var d relationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal duplicate relation")
	}

	return fromRelationDoc(&d), nil
}

func (r *duplicateRepository) ListRelationsByRecord(ctx context.Context, id types.RecordID) ([]*model.DuplicateRelation, error) {
	iter := r.relationsCollection().
		Where("RecordIDs", "array-contains", string(id)).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	relations := make([]*model.DuplicateRelation, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate duplicate relations", goerr.V(model.RecordIDKey, id))
		}

		var d relationDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal duplicate relation")
		}

		relations = append(relations, fromRelationDoc(&d))
	}

	return relations, nil
}

func (r *duplicateRepository) PutRecommendation(ctx context.Context, rec *model.MergeRecommendation) error {
	docRef := r.recommendationsCollection().Doc(rec.ID)
	if _, err := docRef.Set(ctx, toRecommendationDoc(rec)); err != nil {
		return goerr.Wrap(err, "failed to put merge recommendation", goerr.V("recommendation_id", rec.ID))
	}

	return nil
}

func (r *duplicateRepository) GetRecommendation(ctx context.Context, id string) (*model.MergeRecommendation, error) {
	docRef := r.recommendationsCollection().Doc(id)
	doc, err := docRef.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "merge recommendation not found", goerr.V("recommendation_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get merge recommendation", goerr.V("recommendation_id", id))
	}

	var d recommendationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal merge recommendation")
	}

	return fromRecommendationDoc(&d)
}

func (r *duplicateRepository) GetRecommendationByPair(ctx context.Context, a, b types.RecordID) (*model.MergeRecommendation, error) {
	iter := r.recommendationsCollection().
		Where("PairKey", "==", model.PairKey(a, b)).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(model.ErrNotFound, "merge recommendation not found",
			goerr.V("source_id", a), goerr.V("target_id", b))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query merge recommendation")
	}

	var d recommendationDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal merge recommendation")
	}

	return fromRecommendationDoc(&d)
}

func (r *duplicateRepository) ListPendingByAgent(ctx context.Context, agentID types.AgentID) ([]*model.MergeRecommendation, error) {
	iter := r.recommendationsCollection().
		Where("AgentID", "==", string(agentID)).
		Where("Applied", "==", false).
		OrderBy("CreatedAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	recommendations := make([]*model.MergeRecommendation, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate merge recommendations", goerr.V(model.AgentIDKey, agentID))
		}

		var d recommendationDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal merge recommendation")
		}

		rec, err := fromRecommendationDoc(&d)
		if err != nil {
			return nil, err
		}
		recommendations = append(recommendations, rec)
	}

	return recommendations, nil
}
