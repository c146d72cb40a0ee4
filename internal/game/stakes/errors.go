package stakes

import "errors"

// Validation and invariant errors reported to the requesting client. None
// of these are retried automatically and none leave partial mutations.
var (
	ErrPhaseClosed         = errors.New("betting is closed")
	ErrPhaseNotOpen        = errors.New("cancellation window is closed")
	ErrPhaseNotFlying      = errors.New("round is not in flight")
	ErrInvalidAmount       = errors.New("invalid stake amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateStake      = errors.New("user already has an open stake this round")
	ErrNoOpenStake         = errors.New("no open stake this round")
)
