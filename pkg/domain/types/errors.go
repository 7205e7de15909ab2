package types

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy tags. Every failure surfaced by the core carries exactly one
// of these tags so callers can decide retry behavior without string matching.
//
//   - Validation: malformed input, caller's fault, never retried automatically
//   - Permission: terminal denial, never retried
//   - Conflict:   optimistic-concurrency version conflict, retryable after refresh
//   - LockTimeout: bounded lock wait expired, retryable with backoff
//   - StoreUnavailable: transient store failure, retried by the coordinator
//     with bounded attempts before surfacing
//   - OracleUnavailable: similarity oracle timed out; degraded mode, scan skipped
var (
	ErrTagValidation        = goerr.NewTag("validation")
	ErrTagPermission        = goerr.NewTag("permission_denied")
	ErrTagConflict          = goerr.NewTag("version_conflict")
	ErrTagLockTimeout       = goerr.NewTag("lock_timeout")
	ErrTagStoreUnavailable  = goerr.NewTag("store_unavailable")
	ErrTagOracleUnavailable = goerr.NewTag("oracle_unavailable")
)

// Retryable reports whether the error is worth retrying by the caller
// (after a refresh for conflicts, with backoff for lock timeouts).
// Validation and permission failures are terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return goerr.HasTag(err, ErrTagConflict) ||
		goerr.HasTag(err, ErrTagLockTimeout) ||
		goerr.HasTag(err, ErrTagStoreUnavailable)
}
