package oracle

import "errors"

var (
	ErrNotOwner    = errors.New("oracle: caller is not the owner")
	ErrZeroAddress = errors.New("oracle: zero address")
	ErrLengthMismatch = errors.New("oracle: array length mismatch")

	// Adapter failures.
	ErrNoMaxDelay      = errors.New("oracle: no max delay configured for token")
	ErrPriceOutdated   = errors.New("oracle: price feed outdated")
	ErrNoSymbolMapping = errors.New("oracle: no symbol mapping for token")
	ErrFeedNotFound    = errors.New("oracle: feed not found for token")
	ErrInvalidPrice    = errors.New("oracle: feed returned invalid price")

	// Aggregator failures.
	ErrNoPrimarySource   = errors.New("oracle: no primary source configured")
	ErrNoValidSource     = errors.New("oracle: no valid price source")
	ErrExceedDeviation   = errors.New("oracle: source prices exceed deviation")
	ErrExceedSourceLen   = errors.New("oracle: too many primary sources")
	ErrOutOfDeviationCap = errors.New("oracle: deviation outside configured cap")

	// Router failures.
	ErrNoRoute     = errors.New("oracle: no route configured for token")
	ErrPriceFailed = errors.New("oracle: price source call failed")
	ErrPaused      = errors.New("oracle: price reads paused")
	ErrInvalidThreshold = errors.New("oracle: liquidation threshold out of range")
)
