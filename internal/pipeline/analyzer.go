package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/logging"
	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

const defaultAnalyzeConcurrency = 2

// AnalyzeStage turns stored raw announcements into structured records. Each
// raw record gets at most one analyzed counterpart; a failed service call
// leaves the raw record for the next run.
type AnalyzeStage struct {
	analyzer notice.Analyzer
	store    notice.Store
	clock    notice.Clock
	ids      notice.IDGenerator
	retry    notice.RetryPolicy
	logger   *zap.Logger
}

// NewAnalyzeStage wires the analysis stage.
func NewAnalyzeStage(analyzer notice.Analyzer, store notice.Store, clock notice.Clock, ids notice.IDGenerator, retry notice.RetryPolicy, logger *zap.Logger) *AnalyzeStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = notice.NewExponentialRetryPolicy(0, 0, 0)
	}
	return &AnalyzeStage{
		analyzer: analyzer,
		store:    store,
		clock:    clock,
		ids:      ids,
		retry:    retry,
		logger:   logging.Stage(logger, "analyze"),
	}
}

// Run analyzes every unanalyzed raw record with at most concurrency
// in-flight service calls. The returned error is a store failure.
func (a *AnalyzeStage) Run(ctx context.Context, concurrency int) (notice.AnalyzerReport, error) {
	if concurrency <= 0 {
		concurrency = defaultAnalyzeConcurrency
	}
	start := a.clock.Now()
	report := notice.AnalyzerReport{PerDistrict: make(map[notice.DistrictCode]int)}

	pending, err := a.store.UnanalyzedRaw(ctx)
	if err != nil {
		return report, fmt.Errorf("load unanalyzed: %w", err)
	}

	jobs := make(chan notice.RawRecord)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				rec, err := a.analyzeOne(ctx, raw)
				mu.Lock()
				switch {
				case err != nil && !notice.Recoverable(err):
					if fatalErr == nil {
						fatalErr = err
					}
				case err != nil:
					report.Failed++
					metrics.ObserveStageItem("analyze", string(raw.District), "failed")
				default:
					report.Analyzed++
					report.PerDistrict[raw.District]++
					if rec.Status == notice.AnalysisNeedsReview {
						report.NeedsReview++
						metrics.ObserveStageItem("analyze", string(raw.District), "needs-review")
					} else {
						metrics.ObserveStageItem("analyze", string(raw.District), "ok")
					}
				}
				mu.Unlock()
			}
		}()
	}

	for _, raw := range pending {
		jobs <- raw
	}
	close(jobs)
	wg.Wait()

	report.Duration = a.clock.Now().Sub(start)
	metrics.ObserveStage("analyze", report.Duration)
	return report, fatalErr
}

// usableFields reports whether an extraction carries enough to notify on.
// The deceased's name is the anchor field; without it the message is noise
// and the record goes to manual review instead.
func usableFields(f notice.NoticeFields) bool {
	return strings.TrimSpace(f.Name) != ""
}

// scrubFields drops datetime values the model hallucinated without any
// digit in them ("미상", "확인 불가" and friends).
func scrubFields(f notice.NoticeFields) notice.NoticeFields {
	f.DeathDatetime = keepIfDated(f.DeathDatetime)
	f.DepartureDatetime = keepIfDated(f.DepartureDatetime)
	f.CremationDatetime = keepIfDated(f.CremationDatetime)
	return f
}

func keepIfDated(v string) string {
	if strings.IndexFunc(v, func(r rune) bool { return r >= '0' && r <= '9' }) < 0 {
		return ""
	}
	return v
}

// analyzeOne calls the extraction service with retries and persists the
// outcome. A reply that parses but carries no usable field is stored as
// needs-review so the record does not loop forever.
func (a *AnalyzeStage) analyzeOne(ctx context.Context, raw notice.RawRecord) (notice.AnalyzedRecord, error) {
	var fields notice.NoticeFields
	err := notice.Retry(ctx, a.retry, func() error {
		var callErr error
		fields, callErr = a.analyzer.Analyze(ctx, raw.RawText)
		return callErr
	})

	fields = scrubFields(fields)
	status := notice.AnalysisOK
	switch {
	case err != nil && notice.Recoverable(err):
		a.logger.Warn("analysis failed, raw record kept for next run",
			zap.String("raw_id", raw.ID),
			logging.District(raw.District),
			zap.Error(err))
		return notice.AnalyzedRecord{}, &notice.AnalysisError{RawID: raw.ID, Err: err}
	case err != nil:
		return notice.AnalyzedRecord{}, err
	case !usableFields(fields):
		status = notice.AnalysisNeedsReview
	}

	id, err := a.ids.NewID()
	if err != nil {
		return notice.AnalyzedRecord{}, fmt.Errorf("generate analyzed id: %w", err)
	}
	rec := notice.AnalyzedRecord{
		ID:         id,
		RawID:      raw.ID,
		District:   raw.District,
		URL:        raw.URL,
		Fields:     fields,
		Status:     status,
		AnalyzedAt: a.clock.Now(),
	}
	if err := a.store.SaveAnalyzed(ctx, rec); err != nil {
		return notice.AnalyzedRecord{}, fmt.Errorf("save analyzed for raw %s: %w", raw.ID, err)
	}
	return rec, nil
}
