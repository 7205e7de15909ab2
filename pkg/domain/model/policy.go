package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
)

// PolicyConfig holds the tunable thresholds and windows of the memory core.
// Values come from the policy TOML file or flag defaults; the engines treat
// the struct as immutable after startup.
type PolicyConfig struct {
	// Deduplication thresholds. Similarity at or above NearThreshold
	// produces a merge recommendation; between RelatedFloor and
	// NearThreshold an audit relation is recorded; below RelatedFloor the
	// pair is distinct.
	NearThreshold float64
	RelatedFloor  float64
	VectorWeight  float64 // weight of embedding cosine similarity
	LexicalWeight float64 // weight of token overlap similarity
	ScanLimit     int     // vector neighbors fetched per duplicate scan

	// Lifecycle windows
	StaleAfter   time.Duration // inactivity before Active moves to Stale
	ArchiveAfter time.Duration // time in Stale before Archived
	ExpireAfter  time.Duration // time in Archived before Expired
	DeleteAfter  time.Duration // time in Expired before Deleted; also the purge grace for deleted rows

	// Synchronization bus
	Retention time.Duration // replay window; older events force a resync

	// Coordination
	SweepInterval   time.Duration // periodic sweep cadence
	LockWait        time.Duration // bounded wait for per-record locks
	StoreRetry      int           // attempts for transient store failures
	OracleTimeout   time.Duration // budget for one similarity-oracle call
	ConfirmationTTL time.Duration // validity of destructive-operation tokens
}

// DefaultPolicy returns the built-in policy values
func DefaultPolicy() *PolicyConfig {
	return &PolicyConfig{
		NearThreshold: 0.85,
		RelatedFloor:  0.5,
		VectorWeight:  0.7,
		LexicalWeight: 0.3,
		ScanLimit:     16,

		StaleAfter:   14 * 24 * time.Hour,
		ArchiveAfter: 30 * 24 * time.Hour,
		ExpireAfter:  30 * 24 * time.Hour,
		DeleteAfter:  7 * 24 * time.Hour,

		Retention: 7 * 24 * time.Hour,

		SweepInterval:   time.Hour,
		LockWait:        5 * time.Second,
		StoreRetry:      3,
		OracleTimeout:   3 * time.Second,
		ConfirmationTTL: 15 * time.Minute,
	}
}

// Validate checks that the policy values are coherent
func (p *PolicyConfig) Validate() error {
	if p.NearThreshold <= 0 || p.NearThreshold > 1 {
		return goerr.New("near threshold must be in (0, 1]",
			goerr.T(types.ErrTagValidation), goerr.V("near_threshold", p.NearThreshold))
	}
	if p.RelatedFloor < 0 || p.RelatedFloor >= p.NearThreshold {
		return goerr.New("related floor must be in [0, near threshold)",
			goerr.T(types.ErrTagValidation),
			goerr.V("related_floor", p.RelatedFloor), goerr.V("near_threshold", p.NearThreshold))
	}
	if p.VectorWeight < 0 || p.LexicalWeight < 0 || p.VectorWeight+p.LexicalWeight == 0 {
		return goerr.New("similarity weights must be non-negative and not both zero",
			goerr.T(types.ErrTagValidation),
			goerr.V("vector_weight", p.VectorWeight), goerr.V("lexical_weight", p.LexicalWeight))
	}
	for name, d := range map[string]time.Duration{
		"stale_after":      p.StaleAfter,
		"archive_after":    p.ArchiveAfter,
		"expire_after":     p.ExpireAfter,
		"delete_after":     p.DeleteAfter,
		"retention":        p.Retention,
		"sweep_interval":   p.SweepInterval,
		"lock_wait":        p.LockWait,
		"oracle_timeout":   p.OracleTimeout,
		"confirmation_ttl": p.ConfirmationTTL,
	} {
		if d <= 0 {
			return goerr.New("policy duration must be positive",
				goerr.T(types.ErrTagValidation), goerr.V("field", name), goerr.V("value", d.String()))
		}
	}
	if p.StoreRetry < 1 {
		return goerr.New("store retry count must be at least 1",
			goerr.T(types.ErrTagValidation), goerr.V("store_retry", p.StoreRetry))
	}
	if p.ScanLimit < 1 {
		return goerr.New("scan limit must be at least 1",
			goerr.T(types.ErrTagValidation), goerr.V("scan_limit", p.ScanLimit))
	}
	return nil
}

// Clone returns a copy of the policy
func (p *PolicyConfig) Clone() *PolicyConfig {
	out := *p
	return &out
}
