package server

import (
	"GasFutures/internal/book"
	"GasFutures/internal/core"
	"GasFutures/internal/ingestion"
	"GasFutures/internal/ledger"
	"GasFutures/internal/math"
	"GasFutures/internal/state"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
)

// codeFor maps domain errors onto gRPC codes. The HTTP gateway derives the
// response status from the code, so both transports agree.
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, core.ErrUnknownMarket),
		errors.Is(err, state.ErrPositionNotFound),
		errors.Is(err, book.ErrOrderNotFound):
		return codes.NotFound
	case errors.Is(err, core.ErrDuplicateCommand),
		errors.Is(err, core.ErrMarketExists),
		errors.Is(err, book.ErrDuplicateOrder):
		return codes.AlreadyExists
	case errors.Is(err, book.ErrNotOrderOwner):
		return codes.PermissionDenied
	case errors.Is(err, ingestion.ErrListingCooldown):
		return codes.ResourceExhausted
	case errors.Is(err, ingestion.ErrCooldownUnavailable):
		return codes.Unavailable
	case errors.Is(err, state.ErrInsufficientMargin),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, state.ErrMarketNotActive),
		errors.Is(err, state.ErrMarketNotExpired),
		errors.Is(err, state.ErrNotLiquidatable),
		errors.Is(err, state.ErrAlreadySettled),
		errors.Is(err, state.ErrPriceDeviation),
		errors.Is(err, state.ErrEmptySampleBuffer),
		errors.Is(err, core.ErrClockRegression):
		return codes.FailedPrecondition
	case errors.Is(err, state.ErrInvalidParameters),
		errors.Is(err, book.ErrInvalidOrder),
		errors.Is(err, ingestion.ErrUnknownCommandType),
		errors.Is(err, core.ErrUnknownCommand),
		errors.Is(err, errBadRequest):
		return codes.InvalidArgument
	case errors.Is(err, math.ErrArithmeticOverflow):
		return codes.OutOfRange
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

var errBadRequest = errors.New("bad request")
