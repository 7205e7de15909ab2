package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// MaxContentSize is the upper bound on record content in bytes. It keeps a
// record comfortably inside a single Firestore document.
const MaxContentSize = 64 * 1024

// EmbeddingDimension is the dimension of record embedding vectors
// Gemini text-embedding-004 uses 768 dimensions
const EmbeddingDimension = 768

// Record represents a single memory entry owned by an agent
type Record struct {
	ID          types.RecordID
	AgentID     types.AgentID // owning agent
	Content     string
	ContentHash string             // hex SHA-256 of the normalized content
	Embedding   types.EmbeddingRef // opaque handle into the vector index
	Category    string             // free-form label
	Metadata    map[string]MetaValue
	State       types.LifecycleState
	Sharing     types.SharingPolicy
	SpaceIDs    []types.SpaceID // shared spaces the record is tagged into
	Overrides   map[types.AgentID]types.Permission // per-record grants, beat the space-derived policy
	MergedInto  types.RecordID  // survivor back-reference when superseded by a merge
	ArchiveURI  string          // cold snapshot object path, set when archived
	Version     int64           // monotonic, incremented on every successful mutation
	TTL         *time.Time      // hard expiry deadline, nil means none
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StateChangedAt time.Time // when State last changed, drives age-based transitions
	LastAccessedAt time.Time // last read or write, drives the staleness clock
}

// NewRecord creates a record in its initial state: Active, private, version 1
func NewRecord(agentID types.AgentID, content string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:             types.NewRecordID(),
		AgentID:        agentID,
		Content:        content,
		ContentHash:    HashContent(content),
		State:          types.LifecycleActive,
		Sharing:        types.SharingPrivate,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		StateChangedAt: now,
		LastAccessedAt: now,
	}
}

// NormalizeContent collapses whitespace runs and lowercases the content.
// Two records whose contents normalize identically are exact duplicates.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// HashContent returns the hex SHA-256 digest of the normalized content
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Validate checks structural validity of the record
func (r *Record) Validate() error {
	if err := r.ID.Validate(); err != nil {
		return err
	}
	if err := r.AgentID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Content) == "" {
		return goerr.Wrap(ErrEmptyContent, "record content is required",
			goerr.T(types.ErrTagValidation), goerr.V(RecordIDKey, r.ID))
	}
	if len(r.Content) > MaxContentSize {
		return goerr.Wrap(ErrContentTooLarge, "record content too large",
			goerr.T(types.ErrTagValidation),
			goerr.V(RecordIDKey, r.ID), goerr.V("size", len(r.Content)))
	}
	if !r.State.Normalize().IsValid() {
		return goerr.New("invalid lifecycle state",
			goerr.T(types.ErrTagValidation),
			goerr.V(RecordIDKey, r.ID), goerr.V(StateKey, r.State))
	}
	if !r.Sharing.Normalize().IsValid() {
		return goerr.New("invalid sharing policy",
			goerr.T(types.ErrTagValidation),
			goerr.V(RecordIDKey, r.ID), goerr.V("sharing", r.Sharing))
	}
	if r.Version < 1 {
		return goerr.New("record version must be positive",
			goerr.T(types.ErrTagValidation),
			goerr.V(RecordIDKey, r.ID), goerr.V(VersionKey, r.Version))
	}
	for _, spaceID := range r.SpaceIDs {
		if err := spaceID.Validate(); err != nil {
			return err
		}
	}
	for agentID, perm := range r.Overrides {
		if err := agentID.Validate(); err != nil {
			return err
		}
		if !perm.IsValid() {
			return goerr.New("invalid override permission",
				goerr.T(types.ErrTagValidation),
				goerr.V(RecordIDKey, r.ID), goerr.V(AgentIDKey, agentID))
		}
	}
	for key, value := range r.Metadata {
		if err := value.Validate(); err != nil {
			return goerr.Wrap(err, "invalid metadata", goerr.V(MetaKeyKey, key))
		}
	}
	return nil
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = CloneMetadata(r.Metadata)
	if r.SpaceIDs != nil {
		out.SpaceIDs = make([]types.SpaceID, len(r.SpaceIDs))
		copy(out.SpaceIDs, r.SpaceIDs)
	}
	if r.Overrides != nil {
		out.Overrides = make(map[types.AgentID]types.Permission, len(r.Overrides))
		for agentID, perm := range r.Overrides {
			out.Overrides[agentID] = perm
		}
	}
	if r.TTL != nil {
		ttl := *r.TTL
		out.TTL = &ttl
	}
	return &out
}

// InSpace reports whether the record is tagged into the given space
func (r *Record) InSpace(spaceID types.SpaceID) bool {
	for _, id := range r.SpaceIDs {
		if id == spaceID {
			return true
		}
	}
	return false
}

// Expired reports whether the record's TTL deadline has passed
func (r *Record) Expired(now time.Time) bool {
	return r.TTL != nil && !r.TTL.After(now)
}

// LastActivity is the staleness clock: the latest of the record's update and
// read access times
func (r *Record) LastActivity() time.Time {
	if r.LastAccessedAt.After(r.UpdatedAt) {
		return r.LastAccessedAt
	}
	return r.UpdatedAt
}
