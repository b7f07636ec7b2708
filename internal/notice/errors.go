package notice

import (
	"errors"
	"fmt"
)

// ErrBlocked reports that a response matched the district's block signature.
// The fetcher handles it internally via the proxy fallback; callers only see
// it when both transports were refused.
var ErrBlocked = errors.New("blocked by target site")

// FetchError wraps a failure to retrieve a page after the retry budget and
// the proxy fallback are both exhausted. Callers treat it as "no data this
// run for this district", never as a fatal pipeline error.
type FetchError struct {
	District DistrictCode
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.District, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed or changed page structure for one district.
// The coordinator logs it and continues with the remaining districts.
type ParseError struct {
	District DistrictCode
	URL      string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %s", e.URL, e.District, e.Reason)
}

// AnalysisError reports a failed language-model call after retries. The raw
// record stays unanalyzed and is picked up again on the next run.
type AnalysisError struct {
	RawID string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze raw %s: %v", e.RawID, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// DeliveryError reports a failed notification send. The item is left unsent
// and retried on the next invocation, never partially marked sent.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to channel %s: %v", e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Recoverable reports whether err belongs to the expected taxonomy of
// per-item and per-district failures. Anything else aborts the run.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	var fe *FetchError
	var pe *ParseError
	var ae *AnalysisError
	var de *DeliveryError
	return errors.As(err, &fe) || errors.As(err, &pe) || errors.As(err, &ae) || errors.As(err, &de)
}
