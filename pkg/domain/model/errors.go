package model

import "github.com/m-mizutani/goerr/v2"

// Shared persistence errors. Every repository backend wraps these so callers
// can branch with errors.Is regardless of the backend in use.
var (
	ErrNotFound      = goerr.New("not found")
	ErrAlreadyExists = goerr.New("already exists")
)

// Model-level validation errors
var (
	ErrUnknownMetaKind    = goerr.New("unknown metadata kind")
	ErrEmptyContent       = goerr.New("record content is empty")
	ErrContentTooLarge    = goerr.New("record content exceeds size limit")
	ErrInvalidTransition  = goerr.New("illegal lifecycle transition")
	ErrSelfMerge          = goerr.New("record cannot merge into itself")
	ErrConfirmationUsed   = goerr.New("confirmation token already used")
	ErrConfirmationStale  = goerr.New("confirmation token expired")
	ErrConfirmationScope  = goerr.New("confirmation token does not cover this operation")
	ErrNotSpaceMember     = goerr.New("agent is not a member of the space")
	ErrAlreadySpaceMember = goerr.New("agent is already a member of the space")
)

// Context keys for error values
const (
	RecordIDKey = "record_id"
	AgentIDKey  = "agent_id"
	SpaceIDKey  = "space_id"
	VersionKey  = "version"
	MetaKeyKey  = "meta_key"
	StateKey    = "state"
	TokenKey    = "token"
)
