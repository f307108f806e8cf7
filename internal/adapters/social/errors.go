package social

import "errors"

var (
	// ErrRateLimited is returned when the feed provider answers 429.
	ErrRateLimited = errors.New("social: rate limited by provider")
	// ErrUnexpectedStatus is returned for any non-2xx, non-429 response.
	ErrUnexpectedStatus = errors.New("social: unexpected response status")
	// ErrEmptyHandle is returned when a lookup is attempted with no handle.
	ErrEmptyHandle = errors.New("social: empty handle")
)
