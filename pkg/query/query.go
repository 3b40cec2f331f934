// Package query answers catalog reads: protocol search with sorting and
// pagination, and protocol name suggestions. All reads go through store.Store.
package query

import "errors"

var (
	// ErrServiceUnavailable is returned when the index store cannot be reached.
	ErrServiceUnavailable = errors.New("service unavailable: index store unreachable")
	// ErrQueryFailed wraps store errors during a query. Retrying may succeed.
	ErrQueryFailed = errors.New("query failed")
	// ErrInvalidFilter is returned for a where expression that does not compile or evaluate.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidRequest is returned for missing or unknown request parameters.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyPrefix is returned by Suggest for a blank prefix.
	ErrEmptyPrefix = errors.New("empty prefix")
)
