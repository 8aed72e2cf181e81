package executor

import "time"

// Row is an untyped result row keyed by column name.
type Row = map[string]any

// QueryResult is the envelope returned by every executor call. A non-empty
// Error marks a failure even though no Go error was returned.
type QueryResult[T any] struct {
	Data          []T           `json:"data"`
	Count         int           `json:"count"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

func (r *QueryResult[T]) Failed() bool {
	return r.Error != ""
}

// Err converts the envelope error into a Go error, or nil on success.
func (r *QueryResult[T]) Err() error {
	if r.Error == "" {
		return nil
	}
	return &QueryError{Message: r.Error}
}

// First returns the first row, if any.
func (r *QueryResult[T]) First() (T, bool) {
	if len(r.Data) == 0 {
		var zero T
		return zero, false
	}
	return r.Data[0], true
}

// QueryError carries an envelope error across a Go error boundary.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return "query failed: " + e.Message
}
