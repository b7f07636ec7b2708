// Package pipeline implements the three-stage run: collect raw announcements,
// extract structured fields, deliver notifications. Stage order is fixed and
// all cross-run state lives in the store.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/logging"
	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// ProxyUsage reports whether a district needed the proxy transport during
// the current run. Satisfied by the fetch client.
type ProxyUsage interface {
	UsedProxy(district notice.DistrictCode) bool
}

const defaultCollectConcurrency = 4

// Collector runs every district adapter and persists the announcements not
// seen before. District failures are isolated; a store failure aborts.
type Collector struct {
	scrapers []notice.Scraper
	store    notice.Store
	clock    notice.Clock
	ids      notice.IDGenerator
	proxy    ProxyUsage
	logger   *zap.Logger
}

// NewCollector wires the collection stage. proxy may be nil.
func NewCollector(scrapers []notice.Scraper, store notice.Store, clock notice.Clock, ids notice.IDGenerator, proxy ProxyUsage, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		scrapers: scrapers,
		store:    store,
		clock:    clock,
		ids:      ids,
		proxy:    proxy,
		logger:   logging.Stage(logger, "collect"),
	}
}

// Run scrapes all districts with at most concurrency workers. The returned
// error is a store failure; per-district scrape and parse failures are
// reported inside the CollectorReport only.
func (c *Collector) Run(ctx context.Context, concurrency int) (notice.CollectorReport, error) {
	if concurrency <= 0 {
		concurrency = defaultCollectConcurrency
	}
	start := c.clock.Now()

	jobs := make(chan notice.Scraper)
	results := make([]notice.DistrictResult, 0, len(c.scrapers))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				res, err := c.collectDistrict(ctx, s)
				mu.Lock()
				results = append(results, res)
				if err != nil && fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
			}
		}()
	}

	for _, s := range c.scrapers {
		jobs <- s
	}
	close(jobs)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].District < results[j].District })

	report := notice.CollectorReport{
		Duration:  c.clock.Now().Sub(start),
		Districts: results,
	}
	metrics.ObserveStage("collect", report.Duration)
	return report, fatalErr
}

// collectDistrict scrapes one district and persists its unseen announcements.
// The returned error is fatal (store failure); recoverable failures land in
// the result.
func (c *Collector) collectDistrict(ctx context.Context, s notice.Scraper) (notice.DistrictResult, error) {
	district := s.District()
	started := c.clock.Now()
	res := notice.DistrictResult{District: district.Code}

	defer func() {
		res.Duration = c.clock.Now().Sub(started)
		if c.proxy != nil {
			res.UsedProxy = c.proxy.UsedProxy(district.Code)
		}
	}()

	candidates, err := s.Scrape(ctx)
	if err != nil {
		if !notice.Recoverable(err) {
			res.Error = err.Error()
			return res, err
		}
		c.logger.Warn("district collection failed",
			logging.District(district.Code),
			zap.Error(err))
		res.Error = err.Error()
		metrics.ObserveStageItem("collect", string(district.Code), "failed")
		return res, nil
	}
	res.Fetched = len(candidates)

	seen, err := c.store.RawFingerprints(ctx, district.Code)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("load fingerprints for %s: %w", district.Code, err)
	}

	for _, cand := range candidates {
		fp := notice.Fingerprint(district.Code, cand.RawText)
		if seen[fp] {
			res.Duplicate++
			metrics.ObserveStageItem("collect", string(district.Code), "duplicate")
			continue
		}
		id, err := c.ids.NewID()
		if err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("generate raw id: %w", err)
		}
		rec := notice.RawRecord{
			ID:          id,
			District:    district.Code,
			URL:         cand.URL,
			RawText:     cand.RawText,
			Fingerprint: fp,
			CapturedAt:  c.clock.Now(),
		}
		if err := c.store.SaveRaw(ctx, rec); err != nil {
			res.Error = err.Error()
			return res, fmt.Errorf("save raw for %s: %w", district.Code, err)
		}
		seen[fp] = true
		res.New++
		metrics.ObserveStageItem("collect", string(district.Code), "new")
	}

	res.Success = true
	c.logger.Info("district collected",
		logging.District(district.Code),
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.New),
		zap.Int("duplicate", res.Duplicate))
	return res, nil
}
