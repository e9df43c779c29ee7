package agent

import "errors"

var (
	// ErrHistoryUnavailable marks a failed history read; rule evaluation
	// falls back to the default rule when it occurs
	ErrHistoryUnavailable = errors.New("history unavailable")
	// ErrUnknownTemplate is a wiring bug: a decision named a template with no text
	ErrUnknownTemplate = errors.New("unknown explanation template")
)
