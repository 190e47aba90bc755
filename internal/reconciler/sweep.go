package reconciler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"payment-reconciliation-service/internal/models"
	apperrors "payment-reconciliation-service/pkg/errors"
	"payment-reconciliation-service/pkg/logger"
)

// sweepBatchSize caps how many waiting records one sweep pass touches.
const sweepBatchSize = 100

// escalationReason marks records already surfaced to the operator
// channel so the sweep does not alert on them again.
const escalationReason = "awaiting operator decision"

// Sweeper periodically re-runs matching over waiting records. It picks
// up pairs that were missed when both sides raced through ingestion,
// and escalates records that outlived the automatic window to the
// operator channel.
type Sweeper struct {
	service  *Service
	cron     *cron.Cron
	schedule string
	log      logger.Logger
}

// NewSweeper creates a sweeper on a standard cron schedule
// (e.g. "*/2 * * * *").
func NewSweeper(service *Service, schedule string) *Sweeper {
	return &Sweeper{
		service:  service,
		cron:     cron.New(),
		schedule: schedule,
		log:      logger.WithComponent("sweeper"),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("sweep pass failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("sweeper started")
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("sweeper stopped")
}

// RunOnce executes a single sweep pass: retry matching for every
// waiting record, then escalate the stale ones.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	records, err := s.waitingRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	matched := 0
	escalated := 0
	autoWindow := s.service.matcher.Config().AutoLookback

	for i := range records {
		record := &records[i]

		outcome, err := s.service.autoMatch(ctx, record)
		if err != nil && !apperrors.IsNoConfidentMatch(err) {
			s.log.WithError(err).WithField("record_id", record.ID).
				Error("sweep match attempt failed")
			continue
		}
		if outcome != nil {
			matched++
			s.service.notifier.DepositConfirmed(ctx, outcome.Payer, outcome.Transaction)
			continue
		}

		if time.Since(record.CreatedAt) > autoWindow && record.ReviewReason != escalationReason {
			if err := s.escalate(ctx, record); err != nil {
				s.log.WithError(err).WithField("record_id", record.ID).
					Error("escalation failed")
				continue
			}
			escalated++
		}
	}

	s.log.WithFields(logger.Fields{
		"scanned":   len(records),
		"matched":   matched,
		"escalated": escalated,
	}).Info("sweep pass complete")
	return nil
}

// waitingRecords fetches unresolved waiting records, oldest first, so
// the longest-waiting submitters are served before the batch cap hits.
func (s *Sweeper) waitingRecords(ctx context.Context) ([]models.NotificationRecord, error) {
	cutoff := time.Now().Add(-s.service.matcher.Config().OperatorLookback)

	var records []models.NotificationRecord
	err := s.service.db.WithContext(ctx).
		Where("status = ?", models.StatusWaitingMatch).
		Where("created_at >= ?", cutoff).
		Order("created_at ASC").
		Limit(sweepBatchSize).
		Find(&records).Error
	if err != nil {
		return nil, s.service.classify("sweep query", err)
	}
	return records, nil
}

// escalate flags one stale record for the operator channel.
func (s *Sweeper) escalate(ctx context.Context, record *models.NotificationRecord) error {
	err := s.service.db.WithContext(ctx).
		Model(&models.NotificationRecord{}).
		Where("id = ? AND status = ?", record.ID, models.StatusWaitingMatch).
		Update("review_reason", escalationReason).Error
	if err != nil {
		return s.service.classify("escalation update", err)
	}
	record.ReviewReason = escalationReason
	s.service.notifier.ReviewNeeded(ctx, record, "no counterpart within the automatic window")
	return nil
}
