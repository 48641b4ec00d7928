package query

import "errors"

var (
	// ErrQueryFailed is returned when a statement ends in the failed or
	// cancelled state.
	ErrQueryFailed = errors.New("query failed")
	// ErrQueryTimeout is returned when a statement does not finish within
	// the poller's maximum wait.
	ErrQueryTimeout = errors.New("query timed out")
	// ErrEmptyResult is returned when a statement that must produce a row
	// produced none.
	ErrEmptyResult = errors.New("query returned no rows")
	// ErrUnknownQuery is returned for query ids the service does not hold.
	ErrUnknownQuery = errors.New("unknown query id")
	// ErrNotFinished is returned by Fetch before the statement succeeded.
	ErrNotFinished = errors.New("query has not finished")
	// ErrUnsupportedDriver is returned by Open for unknown driver names.
	ErrUnsupportedDriver = errors.New("unsupported query driver")
)
