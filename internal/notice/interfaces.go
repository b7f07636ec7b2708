package notice

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// FetchRequest captures everything needed to retrieve one page.
type FetchRequest struct {
	District DistrictCode
	Method   string
	URL      string
	Header   http.Header
	Form     url.Values
	Timeout  time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	UsedProxy  bool
	Duration   time.Duration
}

// Fetcher retrieves a page, transparently falling back to the anonymizing
// proxy when the direct transport is blocked.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Scraper produces the announcements currently visible on one district site.
// An empty slice is a valid, expected outcome. Implementations never
// deduplicate or persist.
type Scraper interface {
	District() District
	Scrape(ctx context.Context) ([]RawCandidate, error)
}

// Store is the single source of truth for all cross-run pipeline state.
type Store interface {
	SaveRaw(ctx context.Context, rec RawRecord) error
	RawFingerprints(ctx context.Context, district DistrictCode) (map[string]bool, error)
	UnanalyzedRaw(ctx context.Context) ([]RawRecord, error)

	SaveAnalyzed(ctx context.Context, rec AnalyzedRecord) error
	UnsentAnalyzed(ctx context.Context, includeNeedsReview bool) ([]AnalyzedRecord, error)

	SaveSent(ctx context.Context, rec SentRecord) error

	SaveLog(ctx context.Context, entry ExecutionLog) error
	SaveMetric(ctx context.Context, metric ExecutionMetric) error

	CleanupOrphanSent(ctx context.Context) (int, error)
	CleanupDuplicateSent(ctx context.Context) (int, error)
}

// Analyzer extracts structured fields from raw announcement text. Treated as
// a black box with bounded latency and a rate limit.
type Analyzer interface {
	Analyze(ctx context.Context, rawText string) (NoticeFields, error)
}

// Notifier delivers one formatted message to one channel.
type Notifier interface {
	Send(ctx context.Context, channelID, text string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed call is re-attempted.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
