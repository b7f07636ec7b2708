package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/notify"
	"github.com/busanfuneral/notice-pipeline/internal/store/memory"
)

type fakeScraper struct {
	district   notice.District
	candidates []notice.RawCandidate
	err        error

	mu    sync.Mutex
	calls int
}

func (s *fakeScraper) District() notice.District { return s.district }

func (s *fakeScraper) Scrape(ctx context.Context) ([]notice.RawCandidate, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

type fakeAnalyzer struct {
	fn func(rawText string) (notice.NoticeFields, error)
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, rawText string) (notice.NoticeFields, error) {
	if a.fn != nil {
		return a.fn(rawText)
	}
	return notice.NoticeFields{Name: "김철수"}, nil
}

type sentMsg struct {
	channel string
	text    string
}

type fakeNotifier struct {
	mu           sync.Mutex
	failChannels map[string]bool
	sent         []sentMsg
}

func (n *fakeNotifier) Send(ctx context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failChannels[channelID] {
		return &notice.DeliveryError{ChannelID: channelID, Err: fmt.Errorf("telegram 502")}
	}
	n.sent = append(n.sent, sentMsg{channel: channelID, text: text})
	return nil
}

func (n *fakeNotifier) byChannel(ch string) []sentMsg {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMsg
	for _, m := range n.sent {
		if m.channel == ch {
			out = append(out, m)
		}
	}
	return out
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

func quickRetry() notice.RetryPolicy {
	return notice.NewExponentialRetryPolicy(1, time.Millisecond, time.Millisecond)
}

type fixture struct {
	store    *memory.Store
	notifier *fakeNotifier
	coord    *Coordinator
	router   notify.Router
}

func newFixture(t *testing.T, scrapers []notice.Scraper, analyzer notice.Analyzer, notifier *fakeNotifier) *fixture {
	t.Helper()
	store := memory.New()
	clock := &stepClock{t: time.Unix(1700000000, 0).UTC()}
	ids := &seqIDs{}
	router := notify.Router{ConsolidatedID: "-100999", OpsID: "-100111"}

	var districts []notice.District
	for _, s := range scrapers {
		districts = append(districts, s.District())
	}

	collector := NewCollector(scrapers, store, clock, ids, nil, nil)
	analyzeStage := NewAnalyzeStage(analyzer, store, clock, ids, quickRetry(), nil)
	distributor := NewDistributor(notifier, router, districts, store, clock, ids, nil)
	coord := NewCoordinator(collector, analyzeStage, distributor, store, notifier, router, clock, nil)

	return &fixture{store: store, notifier: notifier, coord: coord, router: router}
}

func haeundaeScraper(texts ...string) *fakeScraper {
	var cands []notice.RawCandidate
	for i, txt := range texts {
		cands = append(cands, notice.RawCandidate{
			District: notice.Haeundae,
			URL:      fmt.Sprintf("https://www.haeundae.go.kr/board/view.do?idx=%d", i+1),
			RawText:  txt,
		})
	}
	return &fakeScraper{
		district: notice.District{
			Code:      notice.Haeundae,
			Name:      "해운대구",
			ChannelID: "-100200",
		},
		candidates: cands,
	}
}

func TestRunEndToEndSingleCandidate(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인 김철수 부산장례식장")
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, &fakeAnalyzer{}, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)

	raw, analyzed, sent := f.store.Counts()
	require.Equal(t, 1, raw)
	require.Equal(t, 1, analyzed)
	require.Equal(t, 1, sent)
	require.Equal(t, 1, report.Collector.TotalNew())
	require.Equal(t, 1, report.Analyzer.Analyzed)
	require.Equal(t, 1, report.Distributor.Sent)

	for _, rec := range f.store.Sent() {
		require.Equal(t, []string{"-100200", "-100999"}, rec.ChannelIDs)
	}
	require.Len(t, notifier.byChannel("-100200"), 1)
	require.Len(t, notifier.byChannel("-100999"), 1)
	require.Contains(t, notifier.byChannel("-100200")[0].text, "[해운대구] 부고 알림")

	// Metric row and audit lines were persisted.
	require.Len(t, f.store.Metrics(), 1)
	require.NotEmpty(t, f.store.Logs())
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인 김철수 부산장례식장")
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, &fakeAnalyzer{}, notifier)

	_, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	_, err = f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)

	raw, analyzed, sent := f.store.Counts()
	require.Equal(t, 1, raw)
	require.Equal(t, 1, analyzed)
	require.Equal(t, 1, sent)

	// The district channel saw the notice exactly once across both runs.
	require.Len(t, notifier.byChannel("-100200"), 1)
}

func TestDistrictFailureIsolation(t *testing.T) {
	t.Parallel()

	var scrapers []notice.Scraper
	codes := []notice.DistrictCode{
		notice.Bukgu, notice.Donggu, notice.Dongnae, notice.Gangseo,
		notice.Geumjeong, notice.Gijang, notice.Haeundae, notice.Jingu,
		notice.Junggu, notice.Namgu, notice.Saha, notice.Sasang,
		notice.Seogu, notice.Suyeong, notice.Yeongdogu, notice.Yeonje,
	}
	for i, code := range codes {
		s := &fakeScraper{
			district: notice.District{Code: code, ChannelID: fmt.Sprintf("-1%03d", i)},
			candidates: []notice.RawCandidate{{
				District: code,
				URL:      fmt.Sprintf("https://example.org/%s/1", code),
				RawText:  fmt.Sprintf("부고 %s", code),
			}},
		}
		if code == notice.Jingu {
			s.err = &notice.ParseError{District: code, URL: "https://example.org/JINGU/1", Reason: "list selector matched nothing"}
		}
		scrapers = append(scrapers, s)
	}

	notifier := &fakeNotifier{}
	f := newFixture(t, scrapers, &fakeAnalyzer{}, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull, CollectConcurrency: 4})
	require.NoError(t, err)

	require.Equal(t, 1, report.Collector.Failures())
	require.Equal(t, 15, report.Collector.TotalNew())

	raw, analyzed, sent := f.store.Counts()
	require.Equal(t, 15, raw)
	require.Equal(t, 15, analyzed)
	require.Equal(t, 15, sent)

	for _, d := range report.Collector.Districts {
		if d.District == notice.Jingu {
			require.False(t, d.Success)
			require.Contains(t, d.Error, "list selector")
		} else {
			require.True(t, d.Success)
		}
	}
}

func TestPartialDeliveryLeavesRecordUnsent(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인 김철수")
	notifier := &fakeNotifier{failChannels: map[string]bool{"-100999": true}}
	f := newFixture(t, []notice.Scraper{scraper}, &fakeAnalyzer{}, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	require.Equal(t, 0, report.Distributor.Sent)
	require.Equal(t, 1, report.Distributor.Failed)

	_, _, sent := f.store.Counts()
	require.Equal(t, 0, sent)

	// Consolidated channel recovers; the whole delivery is retried.
	notifier.mu.Lock()
	notifier.failChannels = nil
	notifier.mu.Unlock()

	report, err = f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunSkipCollection})
	require.NoError(t, err)
	require.Equal(t, 1, report.Distributor.Sent)

	_, _, sent = f.store.Counts()
	require.Equal(t, 1, sent)
	// At-least-once: the district channel saw the notice twice.
	require.Len(t, notifier.byChannel("-100200"), 2)
	require.Len(t, notifier.byChannel("-100999"), 1)
}

func TestAnalysisFailureLeavesRawForNextRun(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인 김철수")
	broken := true
	analyzer := &fakeAnalyzer{fn: func(rawText string) (notice.NoticeFields, error) {
		if broken {
			return notice.NoticeFields{}, &notice.AnalysisError{Err: fmt.Errorf("rate limited")}
		}
		return notice.NoticeFields{Name: "김철수"}, nil
	}}
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, analyzer, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	require.Equal(t, 1, report.Analyzer.Failed)

	raw, analyzed, _ := f.store.Counts()
	require.Equal(t, 1, raw)
	require.Equal(t, 0, analyzed)

	broken = false
	report, err = f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunSkipCollection})
	require.NoError(t, err)
	require.Equal(t, 1, report.Analyzer.Analyzed)

	raw, analyzed, sent := f.store.Counts()
	require.Equal(t, 1, raw)
	require.Equal(t, 1, analyzed)
	require.Equal(t, 1, sent)
}

func TestEmptyExtractionBecomesNeedsReview(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("판독 불가 게시글")
	analyzer := &fakeAnalyzer{fn: func(string) (notice.NoticeFields, error) {
		return notice.NoticeFields{}, nil
	}}
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, analyzer, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	require.Equal(t, 1, report.Analyzer.Analyzed)
	require.Equal(t, 1, report.Analyzer.NeedsReview)
	// Needs-review records are held back by default.
	require.Equal(t, 0, report.Distributor.Sent)

	report, err = f.coord.Run(context.Background(), notice.RunContext{
		Mode:               notice.RunSkipCollection,
		IncludeNeedsReview: true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Distributor.Sent)

	msgs := notifier.byChannel("-100200")
	require.Len(t, msgs, 1)
	require.True(t, strings.Contains(msgs[0].text, "원문 확인 필요"))
}

func TestExtractionWithoutNameBecomesNeedsReview(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("이름 없는 부고")
	analyzer := &fakeAnalyzer{fn: func(string) (notice.NoticeFields, error) {
		return notice.NoticeFields{FuneralPlace: "부산장례식장"}, nil
	}}
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, analyzer, notifier)

	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	require.Equal(t, 1, report.Analyzer.Analyzed)
	require.Equal(t, 1, report.Analyzer.NeedsReview)
	require.Equal(t, 0, report.Distributor.Sent)
}

func TestScrubDropsUndatedSchedules(t *testing.T) {
	t.Parallel()

	got := scrubFields(notice.NoticeFields{
		Name:              "김철수",
		DeathDatetime:     "2026년 8월 29일 오전 3시",
		DepartureDatetime: "미상",
		CremationDatetime: "확인 불가",
	})
	require.Equal(t, "2026년 8월 29일 오전 3시", got.DeathDatetime)
	require.Empty(t, got.DepartureDatetime)
	require.Empty(t, got.CremationDatetime)
}

func TestSkipCollectionDoesNotScrape(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인 김철수")
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, &fakeAnalyzer{}, notifier)

	_, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunSkipCollection})
	require.NoError(t, err)
	require.Equal(t, 0, scraper.calls)

	raw, _, _ := f.store.Counts()
	require.Equal(t, 0, raw)
}

func TestDuplicateTextAcrossRunsNotReinserted(t *testing.T) {
	t.Parallel()

	scraper := haeundaeScraper("고인  김철수\n부산장례식장")
	notifier := &fakeNotifier{}
	f := newFixture(t, []notice.Scraper{scraper}, &fakeAnalyzer{}, notifier)

	_, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)

	// Same announcement, different whitespace.
	scraper.candidates[0].RawText = "고인 김철수 부산장례식장"
	report, err := f.coord.Run(context.Background(), notice.RunContext{Mode: notice.RunFull})
	require.NoError(t, err)
	require.Equal(t, 0, report.Collector.TotalNew())
	require.Equal(t, 1, report.Collector.Districts[0].Duplicate)

	raw, _, _ := f.store.Counts()
	require.Equal(t, 1, raw)
}
