package scrape

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify failures with errors.Is.
var (
	// ErrNetwork covers timeouts, DNS and connection failures, and
	// non-2xx responses. Recovered at page/asset granularity.
	ErrNetwork = errors.New("network error")
	// ErrAborted means the cancellation signal fired before or during a
	// call. It propagates up and ends the run cleanly.
	ErrAborted = errors.New("aborted")
)

// FetchError carries the failing URL and, when available, the HTTP
// status code. It wraps one of the sentinel kinds above.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       error
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Kind
}

// NewNetworkError wraps err as a page/asset-level network failure.
func NewNetworkError(url string, status int, err error) error {
	return &FetchError{URL: url, StatusCode: status, Kind: ErrNetwork, Err: err}
}

// NewAbortedError wraps a cancellation observed while fetching url.
func NewAbortedError(url string, err error) error {
	return &FetchError{URL: url, Kind: ErrAborted, Err: err}
}
