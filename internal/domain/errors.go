package domain

import "errors"

// Infrastructure errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
)

// Engine rejections. Each one names the invariant that failed; callers wrap
// them with detail and match with errors.Is.
var (
	ErrPollNotFound          = errors.New("poll not found")
	ErrInvalidPoll           = errors.New("invalid poll parameters")
	ErrInvalidOption         = errors.New("invalid option")
	ErrInvalidCredits        = errors.New("invalid credits")
	ErrInvalidMethod         = errors.New("invalid voting method")
	ErrInvalidAmount         = errors.New("invalid share amount")
	ErrPollClosed            = errors.New("poll closed")
	ErrPollActive            = errors.New("poll has not ended")
	ErrAlreadyVoted          = errors.New("already voted")
	ErrMethodMismatch        = errors.New("voting method mismatch")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientLiquidity = errors.New("insufficient market liquidity")
	ErrNotAWinner            = errors.New("not a winner")
	ErrAlreadyClaimed        = errors.New("already claimed")
	ErrNothingToClaim        = errors.New("nothing to claim")
)
