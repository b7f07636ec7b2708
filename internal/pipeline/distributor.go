package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/busanfuneral/notice-pipeline/internal/logging"
	"github.com/busanfuneral/notice-pipeline/internal/metrics"
	"github.com/busanfuneral/notice-pipeline/internal/notice"
	"github.com/busanfuneral/notice-pipeline/internal/notify"
)

// Distributor delivers unsent analyzed notices. A sent marker is written
// only after every required channel accepted the message, so a partial
// delivery is retried whole on the next run.
type Distributor struct {
	notifier  notice.Notifier
	router    notify.Router
	store     notice.Store
	clock     notice.Clock
	ids       notice.IDGenerator
	districts map[notice.DistrictCode]notice.District
	logger    *zap.Logger
}

// NewDistributor wires the delivery stage.
func NewDistributor(notifier notice.Notifier, router notify.Router, districts []notice.District, store notice.Store, clock notice.Clock, ids notice.IDGenerator, logger *zap.Logger) *Distributor {
	if logger == nil {
		logger = zap.NewNop()
	}
	byCode := make(map[notice.DistrictCode]notice.District, len(districts))
	for _, d := range districts {
		byCode[d.Code] = d
	}
	return &Distributor{
		notifier:  notifier,
		router:    router,
		store:     store,
		clock:     clock,
		ids:       ids,
		districts: byCode,
		logger:    logging.Stage(logger, "send"),
	}
}

// Run sends every unsent analyzed record. Sends are sequential so the
// shared consolidated channel sees one message at a time. The returned
// error is a store failure; delivery failures only count in the report.
func (d *Distributor) Run(ctx context.Context, includeNeedsReview bool) (notice.DistributorReport, error) {
	start := d.clock.Now()
	report := notice.DistributorReport{PerDistrict: make(map[notice.DistrictCode]int)}

	pending, err := d.store.UnsentAnalyzed(ctx, includeNeedsReview)
	if err != nil {
		return report, fmt.Errorf("load unsent: %w", err)
	}

	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		district := d.districts[rec.District]
		channels := d.router.ChannelsFor(district)
		if len(channels) == 0 {
			d.logger.Warn("no delivery channel configured",
				logging.District(rec.District))
			report.Failed++
			continue
		}

		text := notify.Format(rec, district.Name)
		if err := d.deliver(ctx, channels, text); err != nil {
			if !notice.Recoverable(err) {
				report.Duration = d.clock.Now().Sub(start)
				return report, err
			}
			d.logger.Warn("delivery failed, record left unsent",
				zap.String("analyzed_id", rec.ID),
				logging.District(rec.District),
				zap.Error(err))
			report.Failed++
			metrics.ObserveStageItem("send", string(rec.District), "failed")
			continue
		}

		id, err := d.ids.NewID()
		if err != nil {
			report.Duration = d.clock.Now().Sub(start)
			return report, fmt.Errorf("generate sent id: %w", err)
		}
		sent := notice.SentRecord{
			ID:         id,
			AnalyzedID: rec.ID,
			ChannelIDs: channels,
			SentAt:     d.clock.Now(),
		}
		if err := d.store.SaveSent(ctx, sent); err != nil {
			report.Duration = d.clock.Now().Sub(start)
			return report, fmt.Errorf("save sent for %s: %w", rec.ID, err)
		}
		report.Sent++
		report.PerDistrict[rec.District]++
		metrics.ObserveStageItem("send", string(rec.District), "ok")
	}

	report.Duration = d.clock.Now().Sub(start)
	metrics.ObserveStage("send", report.Duration)
	return report, nil
}

// deliver posts the message to each channel in order, stopping at the first
// failure so the sent marker is never written for a partial delivery.
func (d *Distributor) deliver(ctx context.Context, channels []string, text string) error {
	for _, ch := range channels {
		if err := d.notifier.Send(ctx, ch, text); err != nil {
			return err
		}
	}
	return nil
}
