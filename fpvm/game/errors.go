package game

import "errors"

var (
	ErrGameNotInProgress     = errors.New("game not in progress")
	ErrClockExpired          = errors.New("game clock expired")
	ErrClockNotExpired       = errors.New("game clock not expired")
	ErrInvalidParent         = errors.New("invalid parent claim")
	ErrClaimNotFound         = errors.New("claim not found")
	ErrClaimAlreadyCountered = errors.New("claim already countered")
	ErrGameDepthExceeded     = errors.New("game depth exceeded")
	ErrInsufficientBond      = errors.New("insufficient bond")
	ErrStepAlreadyExecuted   = errors.New("step already executed")
	ErrStepDepth             = errors.New("claim is not at step depth")
	ErrPostStateMismatch     = errors.New("post-state mismatch")
	ErrValidStep             = errors.New("step confirms the claim")
	ErrNoCredit              = errors.New("no credit")
	ErrInvalidConfig         = errors.New("invalid game config")
)
