package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAnomaly is returned when an anomaly id is reused
	ErrDuplicateAnomaly = errors.New("anomaly already exists")
	// ErrDuplicateRecommendation marks a lost race on the one-recommendation-per-anomaly
	// constraint. GetOrCreateRecommendation resolves it by returning the winner.
	ErrDuplicateRecommendation = errors.New("recommendation already exists for anomaly")
)
