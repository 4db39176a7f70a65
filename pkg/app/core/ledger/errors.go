package ledger

import "errors"

// Validation failures returned synchronously from commands. None are retried.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrInvalidStopLevel    = errors.New("invalid stop level")
	ErrPositionNotFound    = errors.New("position not found")
	ErrOrderNotFound       = errors.New("order not found")

	ErrInvalidSize     = errors.New("invalid size")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidFraction = errors.New("fraction must be in (0, 1]")
	ErrUnknownAsset    = errors.New("unknown asset")
	ErrInvalidSide     = errors.New("invalid direction")
)
