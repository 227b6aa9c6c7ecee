package state

import (
	"errors"
	"fmt"
)

var (
	ErrPriceDeviation     = errors.New("price deviation exceeds limit")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrMarketNotActive    = errors.New("market not active")
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrEmptySampleBuffer  = errors.New("empty sample buffer")
	ErrAlreadySettled     = errors.New("market already settled")

	ErrStaleReading     = fmt.Errorf("%w: reading not after last accepted sample", ErrInvalidParameters)
	ErrReduceOnly       = fmt.Errorf("%w: only reducing orders accepted after expiry", ErrMarketNotActive)
	ErrMarketNotExpired = errors.New("market not expired")
	ErrNotLiquidatable  = errors.New("position not liquidatable")
	ErrPositionNotFound = errors.New("position not found")
	ErrNoMarkPrice      = fmt.Errorf("%w: no accepted index price", ErrMarketNotActive)
)
