package pallet

import "errors"

// Dispatch errors. They are returned to the submitter and never undo
// previously applied extrinsics.
var (
	ErrTaskIdIncrementFailed        = errors.New("task id increment failed")
	ErrTaskAlreadyExists            = errors.New("task already exists")
	ErrTaskNotExist                 = errors.New("task does not exist")
	ErrTaskMustBeInClearState       = errors.New("task must be in clear state")
	ErrTaskHasNoResult              = errors.New("task has no result")
	ErrTaskDataInvalidJson          = errors.New("task data is not valid json")
	ErrDepositTooSmallForNewAccount = errors.New("deposit too small for new account")
	ErrDepositOverflow              = errors.New("deposit overflow")
	ErrDataTooLong                  = errors.New("value exceeds bounded length")

	ErrBadOrigin    = errors.New("bad origin: signed origin required")
	ErrBadSignature = errors.New("bad extrinsic signature")
	ErrUnknownCall  = errors.New("unknown call")
	ErrInvalidState = errors.New("invalid task state")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrKeepAlive           = errors.New("transfer would kill account")
	ErrExistentialDeposit  = errors.New("amount below existential deposit")
)

var dispatchErrors = []error{
	ErrTaskIdIncrementFailed, ErrTaskAlreadyExists, ErrTaskNotExist,
	ErrTaskMustBeInClearState, ErrTaskHasNoResult, ErrTaskDataInvalidJson,
	ErrDepositTooSmallForNewAccount, ErrDepositOverflow, ErrDataTooLong,
	ErrBadOrigin, ErrBadSignature, ErrUnknownCall, ErrInvalidState,
	ErrInsufficientBalance, ErrKeepAlive, ErrExistentialDeposit,
}

// IsDispatchError reports whether err is a final dispatch outcome rather than
// a storage failure worth retrying.
func IsDispatchError(err error) bool {
	for _, de := range dispatchErrors {
		if errors.Is(err, de) {
			return true
		}
	}
	return false
}
