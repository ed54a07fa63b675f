/**
 * @description
 * Error taxonomy shared by the circle, goal and reputation engines. Every failure an
 * operation can report is one of the sentinel values below so callers can branch with
 * errors.Is, and the API layer can map the Kind to an HTTP status.
 */

package domain

import "errors"

// Kind classifies a domain error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindAuthorization
	KindResource
	KindNotFound
)

// Error is a named domain failure.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

// KindOf returns the Kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of the first domain error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Validation errors.
var (
	ErrInvalidContributionAmount = newError(KindValidation, "INVALID_CONTRIBUTION_AMOUNT", "contribution amount is outside the platform limits")
	ErrInvalidMemberCount        = newError(KindValidation, "INVALID_MEMBER_COUNT", "member count is outside the allowed range")
	ErrInvalidFrequency          = newError(KindValidation, "INVALID_FREQUENCY", "frequency must be DAILY, WEEKLY or MONTHLY")
	ErrInvalidVisibility         = newError(KindValidation, "INVALID_VISIBILITY", "visibility must be PRIVATE or PUBLIC")
	ErrInvalidAddress            = newError(KindValidation, "INVALID_ADDRESS", "address is required")
	ErrInvalidAmount             = newError(KindValidation, "INVALID_AMOUNT", "amount must be positive")
	ErrInvalidGoalAmount         = newError(KindValidation, "INVALID_GOAL_AMOUNT", "goal target must be positive and within the platform limit, and contribution must not exceed target")
	ErrDeadlineInPast            = newError(KindValidation, "DEADLINE_IN_PAST", "deadline must be in the future")
)

// State errors.
var (
	ErrCircleNotJoinable         = newError(KindState, "CIRCLE_NOT_JOINABLE", "circle is not accepting members")
	ErrCircleFull                = newError(KindState, "CIRCLE_FULL", "circle is full")
	ErrAlreadyMember             = newError(KindState, "ALREADY_MEMBER", "address is already a member of this circle")
	ErrCircleNotActive           = newError(KindState, "CIRCLE_NOT_ACTIVE", "circle is not active")
	ErrCircleNotCancellable      = newError(KindState, "CIRCLE_NOT_CANCELLABLE", "circle can only be cancelled before activation")
	ErrAlreadyContributed        = newError(KindState, "ALREADY_CONTRIBUTED", "member already contributed this round")
	ErrAlreadyForfeited          = newError(KindState, "ALREADY_FORFEITED", "member was already forfeited this round")
	ErrRecipientCannotContribute = newError(KindState, "RECIPIENT_CANNOT_CONTRIBUTE", "the round recipient does not contribute to their own round")
	ErrGracePeriodActive         = newError(KindState, "GRACE_PERIOD_ACTIVE", "the round grace period has not elapsed")
	ErrVotingTooEarly            = newError(KindState, "VOTING_TOO_EARLY", "voting cannot start before the waiting period has elapsed")
	ErrVotingAlreadyOpen         = newError(KindState, "VOTING_ALREADY_OPEN", "an early-start vote is already open")
	ErrVotingNotOpen             = newError(KindState, "VOTING_NOT_OPEN", "no early-start vote is open")
	ErrAlreadyVoted              = newError(KindState, "ALREADY_VOTED", "member already voted")
	ErrNotEnoughMembers          = newError(KindState, "NOT_ENOUGH_MEMBERS", "circle does not have enough members to start")
	ErrReentrantCall             = newError(KindState, "REENTRANT_CALL", "re-entrant call rejected while an operation is in flight")
	ErrGoalNotActive             = newError(KindState, "GOAL_NOT_ACTIVE", "goal is not active")
	ErrGoalTargetReached         = newError(KindState, "GOAL_TARGET_REACHED", "goal target already reached")
	ErrContributionTooSoon       = newError(KindState, "CONTRIBUTION_TOO_SOON", "a contribution was already made in this period")
	ErrGoalNotCompletable        = newError(KindState, "GOAL_NOT_COMPLETABLE", "goal has neither reached its target nor its deadline")
	ErrNothingToWithdraw         = newError(KindState, "NOTHING_TO_WITHDRAW", "goal has no balance to withdraw")
)

// Authorization errors.
var (
	ErrNotCreator         = newError(KindAuthorization, "NOT_CREATOR", "caller is not the circle creator")
	ErrNotMember          = newError(KindAuthorization, "NOT_MEMBER", "caller is not a member of this circle")
	ErrNotInvited         = newError(KindAuthorization, "NOT_INVITED", "caller was not invited to this private circle")
	ErrNotGoalOwner       = newError(KindAuthorization, "NOT_GOAL_OWNER", "caller does not own this goal")
	ErrNotOwner           = newError(KindAuthorization, "NOT_OWNER", "caller is not the platform owner")
	ErrUnauthorizedCaller = newError(KindAuthorization, "UNAUTHORIZED_CALLER", "caller is not authorized to update reputation")
)

// Resource errors.
var (
	ErrInsufficientBalance = newError(KindResource, "INSUFFICIENT_BALANCE", "insufficient balance")
	ErrTransferFailed      = newError(KindResource, "TRANSFER_FAILED", "asset transfer failed")
)

// Lookup errors.
var (
	ErrCircleNotFound = newError(KindNotFound, "CIRCLE_NOT_FOUND", "circle not found")
	ErrGoalNotFound   = newError(KindNotFound, "GOAL_NOT_FOUND", "goal not found")
)
