package api

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnauthenticated signals that no usable credentials remain: the access
// token was rejected and the refresh path failed or was unavailable. The
// token store has already been cleared when this is returned.
var ErrUnauthenticated = errors.New("api: unauthenticated")

// APIError is any non-2xx response that is not a 401 recovered by the
// refresh protocol and not a field-level validation failure.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: server returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api: server returned %d", e.Status)
}

// ValidationError carries field-keyed messages from a 400 response, e.g.
// registration rejecting a taken username. Messages are surfaced verbatim.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "api: validation failed"
	}
	// Deterministic "first" field for display.
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	first := keys[0]
	if msgs := e.Fields[first]; len(msgs) > 0 {
		return fmt.Sprintf("api: %s: %s", first, msgs[0])
	}
	return fmt.Sprintf("api: %s: invalid", first)
}
