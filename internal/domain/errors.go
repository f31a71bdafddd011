package domain

import "errors"

// Error taxonomy. Callers wrap these with context and match with errors.Is.
var (
	// ErrInvalidConfiguration reports a parameter outside its allowed range.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInsufficientData reports a series too short to derive statistics.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrExternalDataUnavailable reports a market-data provider failure.
	ErrExternalDataUnavailable = errors.New("external data unavailable")

	// ErrModelNotTrained reports a prediction request on an untrained model.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrLookAhead reports an input that would leak future information, such
	// as unordered bars or a mismatched signal series.
	ErrLookAhead = errors.New("look-ahead violation")
)
