package model

import "errors"

var (
	// ErrInvalidRequest is returned for requests rejected before any simulation work
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstreamFailure is returned when the candle source fails
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrNotFound is returned when a stored record does not exist
	ErrNotFound = errors.New("not found")
)

// jsonBytes extracts a JSON document from a database value
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("type assertion to []byte failed")
	}
}
