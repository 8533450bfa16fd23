package license

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a setup or permission failure reported through
// Callback.ApplicationError. These never reach the licensing authority.
type ErrorCode int

// Application error codes. The numbering is stable. The Checker produces
// ErrorMissingPermission, ErrorUnexpectedServiceFailure and
// ErrorCheckerClosed; the others are reserved so callers that switch on the
// full set keep compiling. An unusable public key is refused by NewChecker
// instead of surfacing as ErrorInvalidPublicKey.
const (
	ErrorInvalidPackageName       ErrorCode = 1
	ErrorNonMatchingUID           ErrorCode = 2
	ErrorNotMarketManaged         ErrorCode = 3
	ErrorCheckInProgress          ErrorCode = 4
	ErrorInvalidPublicKey         ErrorCode = 5
	ErrorMissingPermission        ErrorCode = 6
	ErrorUnexpectedServiceFailure ErrorCode = 7
	ErrorCheckerClosed            ErrorCode = 8
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorInvalidPackageName:
		return "INVALID_PACKAGE_NAME"
	case ErrorNonMatchingUID:
		return "NON_MATCHING_UID"
	case ErrorNotMarketManaged:
		return "NOT_MARKET_MANAGED"
	case ErrorCheckInProgress:
		return "CHECK_IN_PROGRESS"
	case ErrorInvalidPublicKey:
		return "INVALID_PUBLIC_KEY"
	case ErrorMissingPermission:
		return "MISSING_PERMISSION"
	case ErrorUnexpectedServiceFailure:
		return "UNEXPECTED_SERVICE_FAILURE"
	case ErrorCheckerClosed:
		return "CHECKER_CLOSED"
	default:
		return fmt.Sprintf("ERROR(%d)", int(c))
	}
}

var (
	// ErrInvalidConfig is returned by NewChecker when a required collaborator
	// is missing or the public key is unusable.
	ErrInvalidConfig = errors.New("invalid checker configuration")
	// ErrPermissionDenied is returned by Channel.Establish when the caller is not
	// allowed to reach the licensing service at all.
	ErrPermissionDenied = errors.New("permission denied for licensing service")
	// ErrNotConnected is returned by Channel.SendCheck before the channel is ready.
	ErrNotConnected = errors.New("licensing channel not connected")
	// ErrCheckerClosed is returned by Checker operations after Close.
	ErrCheckerClosed = errors.New("checker closed")
	// ErrCheckTimeout is the failure recorded when a dispatched check times out.
	ErrCheckTimeout = errors.New("license check timed out")
)
