package ledger

import "errors"

var (
	// ErrInsufficientBalance is returned when the sender holds less than the requested amount.
	// The ledger is left untouched.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInvalidArgument covers malformed input that never reaches balance accounting.
	ErrInvalidArgument = errors.New("ledger: invalid argument")

	// ErrInvariantViolation means conservation or overflow safety would be broken.
	// It signals a defect; the operation is aborted and nothing is applied.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)

// IsRecoverable reports whether err is an expected, caller-visible failure.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrInvalidArgument)
}
