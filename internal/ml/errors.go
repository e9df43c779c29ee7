package ml

import "errors"

var (
	// ErrInvalidReading is returned for non-finite input values
	ErrInvalidReading = errors.New("invalid reading")
	// ErrOracleFailure wraps any error or panic raised while scaling or scoring
	ErrOracleFailure = errors.New("oracle failure")
	// ErrNoOracle is returned when no scoring artifact is registered for a sensor type
	ErrNoOracle = errors.New("no oracle registered for sensor type")
	// ErrInvalidArtifact is returned when a scoring artifact fails validation
	ErrInvalidArtifact = errors.New("invalid scoring artifact")
)
