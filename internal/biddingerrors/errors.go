package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation errors, recovered locally and shown inline
var (
	ErrInvalidAmount = errors.New("invalid bid amount")
	ErrBelowMinimum  = errors.New("bid below minimum")
	ErrAuctionClosed = errors.New("auction closed")
)

// Transport and backend errors
var (
	ErrNetworkFailure  = errors.New("network failure")
	ErrServerRejected  = errors.New("bid rejected by server")
	ErrAuctionNotFound = errors.New("auction not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
)

// Repository and service errors
var (
	ErrInvalidAuction = errors.New("invalid auction")
	ErrNoBids         = errors.New("no bids found for auction")
)

// Session errors
var (
	ErrNotBuyer      = errors.New("only buyers can place bids")
	ErrNoSession     = errors.New("no auction open in session")
	ErrSessionClosed = errors.New("session closed")
)

// BelowMinimumError carries the minimum acceptable bid for display
type BelowMinimumError struct {
	Minimum decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("bid must be at least %s", e.Minimum.StringFixed(2))
}

func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBelowMinimum
}

// ServerRejectedError carries the backend's human-readable rejection reason
type ServerRejectedError struct {
	Reason string
}

func (e *ServerRejectedError) Error() string {
	if e.Reason == "" {
		return ErrServerRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrServerRejected.Error(), e.Reason)
}

func (e *ServerRejectedError) Is(target error) bool {
	return target == ErrServerRejected
}

// Reason returns the user-displayable reason for err
func Reason(err error) string {
	var below *BelowMinimumError
	var rejected *ServerRejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &below):
		return below.Error()
	case errors.As(err, &rejected) && rejected.Reason != "":
		return rejected.Reason
	case errors.Is(err, ErrInvalidAmount):
		return "bid must be a positive number"
	case errors.Is(err, ErrAuctionClosed):
		return "this auction has ended and is no longer accepting bids"
	case errors.Is(err, ErrNetworkFailure):
		return "could not reach the marketplace, please retry"
	case errors.Is(err, ErrUnauthorized):
		return "your session has expired, please log in again"
	case errors.Is(err, ErrNotBuyer):
		return "only buyers can place bids"
	case errors.Is(err, ErrForbidden):
		return "you are not allowed to do that"
	case errors.Is(err, ErrAuctionNotFound):
		return "auction not found"
	default:
		return "failed to place bid"
	}
}
