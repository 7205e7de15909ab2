package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// DuplicateRelation is a classified pair of records found by the
// deduplication engine, persisted as an audit entry. Only distinct pairs
// leave no trace.
type DuplicateRelation struct {
	ID         string
	SourceID   types.RecordID // newer record, candidate to be superseded
	TargetID   types.RecordID // older record, candidate survivor
	Score      float64
	Class      types.DupClass
	Resolution types.DupResolution
	CreatedAt  time.Time
}

// NewDuplicateRelation creates an audit relation for a classified pair
func NewDuplicateRelation(sourceID, targetID types.RecordID, score float64, class types.DupClass) *DuplicateRelation {
	return &DuplicateRelation{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Score:     score,
		Class:     class,
		CreatedAt: time.Now().UTC(),
	}
}

// PairKey is the canonical identity of the pair regardless of direction,
// used to detect an already-resolved pair.
func (d *DuplicateRelation) PairKey() string {
	return PairKey(d.SourceID, d.TargetID)
}

// PairKey returns the canonical key for a record pair. The smaller ID comes
// first so both directions map to the same key.
func PairKey(a, b types.RecordID) string {
	if string(a) < string(b) {
		return string(a) + "|" + string(b)
	}
	return string(b) + "|" + string(a)
}

// Validate checks structural validity of the relation
func (d *DuplicateRelation) Validate() error {
	if err := d.SourceID.Validate(); err != nil {
		return err
	}
	if err := d.TargetID.Validate(); err != nil {
		return err
	}
	if d.SourceID == d.TargetID {
		return goerr.Wrap(ErrSelfMerge, "duplicate pair must reference two records",
			goerr.T(types.ErrTagValidation), goerr.V(RecordIDKey, d.SourceID))
	}
	if !d.Class.IsValid() {
		return goerr.New("invalid duplicate class",
			goerr.T(types.ErrTagValidation), goerr.V("class", d.Class))
	}
	return nil
}

// MergeRecommendation is the proposal produced for a near duplicate. It is
// never auto-applied: a caller must accept it before the merge runs.
type MergeRecommendation struct {
	ID            string
	SourceID      types.RecordID // record to be superseded on apply
	TargetID      types.RecordID // surviving record (the older of the pair)
	AgentID       types.AgentID  // owner of the target record, who reviews the proposal
	Score         float64
	MergedContent string         // proposed content for the survivor
	Conflicts     []MetaConflict // metadata keys the union could not reconcile
	CreatedAt     time.Time
	AppliedAt     *time.Time // set once the merge has been applied
}

// NewMergeRecommendation creates a pending recommendation for a near pair
func NewMergeRecommendation(sourceID, targetID types.RecordID, owner types.AgentID, score float64, mergedContent string, conflicts []MetaConflict) *MergeRecommendation {
	return &MergeRecommendation{
		ID:            uuid.New().String(),
		SourceID:      sourceID,
		TargetID:      targetID,
		AgentID:       owner,
		Score:         score,
		MergedContent: mergedContent,
		Conflicts:     conflicts,
		CreatedAt:     time.Now().UTC(),
	}
}

// PairKey is the canonical identity of the recommended pair
func (m *MergeRecommendation) PairKey() string {
	return PairKey(m.SourceID, m.TargetID)
}

// Applied reports whether the recommendation has already been applied
func (m *MergeRecommendation) Applied() bool {
	return m.AppliedAt != nil
}

// Validate checks structural validity of the recommendation
func (m *MergeRecommendation) Validate() error {
	if err := m.SourceID.Validate(); err != nil {
		return err
	}
	if err := m.TargetID.Validate(); err != nil {
		return err
	}
	if m.SourceID == m.TargetID {
		return goerr.Wrap(ErrSelfMerge, "merge recommendation must reference two records",
			goerr.T(types.ErrTagValidation), goerr.V(RecordIDKey, m.SourceID))
	}
	return nil
}
