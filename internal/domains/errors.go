package domains

import "github.com/pkg/errors"

// Error taxonomy shared by the coordinator, reversal service and processors
var (
	ErrUnknownDomain      = errors.New("unknown event domain")
	ErrUnsupportedAction  = errors.New("action has no defined inverse")
	ErrInvalidPayload     = errors.New("event payload missing or malformed")
	ErrNotFound           = errors.New("event token not found")
	ErrNotReversible      = errors.New("event is not in a reversible status")
	ErrAlreadyReversed    = errors.New("event already reversed")
	ErrTooLate            = errors.New("event can only be reversed on its calendar day")
	ErrForbidden          = errors.New("event belongs to a different user")
	ErrLedgerFailure      = errors.New("xp ledger rejected or unreachable")
	ErrPersistenceFailure = errors.New("event log write failed")
	ErrDuplicateToken     = errors.New("token already used by a prior event")
)
