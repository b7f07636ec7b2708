package notice

import "time"

// CollectorReport aggregates per-district collection outcomes for one run.
type CollectorReport struct {
	Duration  time.Duration
	Districts []DistrictResult
}

// TotalNew sums newly persisted raw records across districts.
func (r CollectorReport) TotalNew() int {
	total := 0
	for _, d := range r.Districts {
		total += d.New
	}
	return total
}

// Failures counts districts that did not complete.
func (r CollectorReport) Failures() int {
	failed := 0
	for _, d := range r.Districts {
		if !d.Success {
			failed++
		}
	}
	return failed
}

// ProxyFallbacks counts districts that needed the proxy transport.
func (r CollectorReport) ProxyFallbacks() int {
	used := 0
	for _, d := range r.Districts {
		if d.UsedProxy {
			used++
		}
	}
	return used
}

// AnalyzerReport summarizes the structured-extraction stage.
type AnalyzerReport struct {
	Duration    time.Duration
	Analyzed    int
	NeedsReview int
	Failed      int
	PerDistrict map[DistrictCode]int
}

// DistributorReport summarizes the notification stage.
type DistributorReport struct {
	Duration    time.Duration
	Sent        int
	Failed      int
	PerDistrict map[DistrictCode]int
}

// RunReport is the coordinator's aggregated view of one pipeline invocation.
type RunReport struct {
	Mode        RunMode
	StartedAt   time.Time
	EndedAt     time.Time
	Collector   CollectorReport
	Analyzer    AnalyzerReport
	Distributor DistributorReport
	FatalError  string
}

// Metric converts the run report into the persisted execution-metric row.
func (r RunReport) Metric() ExecutionMetric {
	return ExecutionMetric{
		StartedAt:        r.StartedAt,
		EndedAt:          r.EndedAt,
		CollectDuration:  r.Collector.Duration,
		AnalyzeDuration:  r.Analyzer.Duration,
		SendDuration:     r.Distributor.Duration,
		ItemsCollected:   r.Collector.TotalNew(),
		ItemsAnalyzed:    r.Analyzer.Analyzed,
		ItemsSent:        r.Distributor.Sent,
		ProxyFallbacks:   r.Collector.ProxyFallbacks(),
		DistrictResults:  r.Collector.Districts,
		DistrictFailures: r.Collector.Failures(),
		FatalError:       r.FatalError,
	}
}
