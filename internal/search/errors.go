package search

import "github.com/rotisserie/eris"

var (
	// ErrInvalidInput marks client errors; no store query was made.
	ErrInvalidInput = eris.New("search: invalid input")
	// ErrUnavailable marks a store that could not answer within the deadline.
	ErrUnavailable = eris.New("search: store unavailable")
)
