package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/notify"
)

const alertTimeout = 15 * time.Second

// Coordinator runs the stages in fixed order, persists the run's audit
// trail, and reports summaries to the ops channel.
type Coordinator struct {
	collector   *Collector
	analyzer    *AnalyzeStage
	distributor *Distributor
	store       notice.Store
	notifier    notice.Notifier
	router      notify.Router
	clock       notice.Clock
	logger      *zap.Logger
}

// NewCoordinator wires the full pipeline.
func NewCoordinator(collector *Collector, analyzer *AnalyzeStage, distributor *Distributor, store notice.Store, notifier notice.Notifier, router notify.Router, clock notice.Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		collector:   collector,
		analyzer:    analyzer,
		distributor: distributor,
		store:       store,
		notifier:    notifier,
		router:      router,
		clock:       clock,
		logger:      logger,
	}
}

// Run executes one pipeline invocation. Stage failures from the expected
// taxonomy are absorbed into the report; anything else aborts the run after
// the metric row is written and an ops alert is raised.
func (c *Coordinator) Run(ctx context.Context, rc notice.RunContext) (notice.RunReport, error) {
	if rc.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Deadline)
		defer cancel()
	}

	report := notice.RunReport{
		Mode:      rc.Mode,
		StartedAt: c.clock.Now(),
	}

	runErr := c.runStages(ctx, rc, &report)
	report.EndedAt = c.clock.Now()

	if runErr != nil {
		report.FatalError = runErr.Error()
		metrics.ObserveRun("fatal")
		c.alert(fmt.Sprintf("파이프라인 중단: %v", runErr))
	} else {
		metrics.ObserveRun("ok")
		c.alert(c.summary(report))
	}

	// The metric row is written even for aborted runs.
	if err := c.store.SaveMetric(context.WithoutCancel(ctx), report.Metric()); err != nil {
		c.logger.Error("save execution metric", zap.Error(err))
	}

	return report, runErr
}

func (c *Coordinator) runStages(ctx context.Context, rc notice.RunContext, report *notice.RunReport) error {
	if rc.Mode != notice.RunSkipCollection {
		c.logLine(ctx, "info", "collect", "1/3 수집 시작")
		collected, err := c.collector.Run(ctx, rc.CollectConcurrency)
		report.Collector = collected
		if err != nil {
			return fmt.Errorf("collect stage: %w", err)
		}
		c.logLine(ctx, "info", "collect", fmt.Sprintf(
			"1/3 수집 종료: 신규 %d건, 실패 %d개 구청", collected.TotalNew(), collected.Failures()))
	} else {
		c.logLine(ctx, "info", "collect", "1/3 수집 생략")
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run deadline before analysis: %w", err)
	}

	c.logLine(ctx, "info", "analyze", "2/3 분석 시작")
	analyzed, err := c.analyzer.Run(ctx, rc.AnalyzeConcurrency)
	report.Analyzer = analyzed
	if err != nil {
		return fmt.Errorf("analyze stage: %w", err)
	}
	c.logLine(ctx, "info", "analyze", fmt.Sprintf(
		"2/3 분석 종료: %d건 (검토 필요 %d건, 실패 %d건)",
		analyzed.Analyzed, analyzed.NeedsReview, analyzed.Failed))

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run deadline before delivery: %w", err)
	}

	c.logLine(ctx, "info", "send", "3/3 전송 시작")
	sent, err := c.distributor.Run(ctx, rc.IncludeNeedsReview)
	report.Distributor = sent
	if err != nil {
		return fmt.Errorf("send stage: %w", err)
	}
	c.logLine(ctx, "info", "send", fmt.Sprintf(
		"3/3 전송 종료: %d건 (실패 %d건)", sent.Sent, sent.Failed))

	return nil
}

// logLine writes one audit line to both the structured log and the store.
// Store failures here are logged and otherwise ignored.
func (c *Coordinator) logLine(ctx context.Context, level, stage, msg string) {
	c.logger.Info(msg, zap.String("stage", stage))
	entry := notice.ExecutionLog{
		Level:    level,
		Message:  msg,
		Stage:    stage,
		LoggedAt: c.clock.Now(),
	}
	if err := c.store.SaveLog(ctx, entry); err != nil {
		c.logger.Warn("save execution log", zap.Error(err))
	}
}

// alert sends a best-effort message to the ops channel.
func (c *Coordinator) alert(msg string) {
	ch := c.router.AlertChannel()
	if ch == "" || c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := c.notifier.Send(ctx, ch, msg); err != nil {
		c.logger.Warn("ops alert failed", zap.Error(err))
	}
}

func (c *Coordinator) summary(r notice.RunReport) string {
	return fmt.Sprintf(
		"실행 요약 (%s)\n수집: 신규 %d건, 실패 %d개 구청, 프록시 %d개 구청\n분석: %d건 (검토 필요 %d건)\n전송: %d건 (실패 %d건)",
		r.Mode,
		r.Collector.TotalNew(), r.Collector.Failures(), r.Collector.ProxyFallbacks(),
		r.Analyzer.Analyzed, r.Analyzer.NeedsReview,
		r.Distributor.Sent, r.Distributor.Failed)
}
