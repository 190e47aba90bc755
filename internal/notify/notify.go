// Package notify delivers reconciliation outcomes to submitters and
// to the operator channel. The engine only depends on the Notifier
// interface; the default implementation writes structured log lines,
// which is what deployments without a chat or SMS gateway run with.
package notify

import (
	"context"

	"payment-reconciliation-service/internal/models"
	"payment-reconciliation-service/pkg/logger"
)

// Notifier pushes reconciliation outcomes to interested parties.
// Implementations must be safe for concurrent use.
type Notifier interface {
	// DepositConfirmed tells the submitter their deposit was credited.
	DepositConfirmed(ctx context.Context, record *models.NotificationRecord, transaction *models.WalletTransaction)

	// DepositWaiting tells the submitter their claim was recorded and
	// is waiting for the counterpart notification.
	DepositWaiting(ctx context.Context, record *models.NotificationRecord)

	// DepositRejected tells the submitter an operator rejected their
	// claim, with the operator's reason.
	DepositRejected(ctx context.Context, record *models.NotificationRecord, reason string)

	// ReviewNeeded alerts the operator channel that a record needs a
	// manual decision.
	ReviewNeeded(ctx context.Context, record *models.NotificationRecord, reason string)
}

// LogNotifier implements Notifier on top of the structured logger.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier that records outcomes as log
// events.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.WithComponent("notify")}
}

func (n *LogNotifier) DepositConfirmed(_ context.Context, record *models.NotificationRecord, transaction *models.WalletTransaction) {
	fields := logger.Fields{
		"record_id": record.ID,
		"user_id":   record.UserID,
	}
	if transaction != nil {
		fields["transaction_id"] = transaction.ID
		fields["amount"] = transaction.Amount.String()
		fields["balance"] = transaction.BalanceAfter.String()
	}
	n.log.WithFields(fields).Info("deposit confirmed")
}

func (n *LogNotifier) DepositWaiting(_ context.Context, record *models.NotificationRecord) {
	n.log.WithFields(logger.Fields{
		"record_id": record.ID,
		"user_id":   record.UserID,
		"reference": record.Reference,
	}).Info("deposit waiting for counterpart")
}

func (n *LogNotifier) DepositRejected(_ context.Context, record *models.NotificationRecord, reason string) {
	n.log.WithFields(logger.Fields{
		"record_id": record.ID,
		"user_id":   record.UserID,
		"reason":    reason,
	}).Info("deposit rejected")
}

func (n *LogNotifier) ReviewNeeded(_ context.Context, record *models.NotificationRecord, reason string) {
	n.log.WithFields(logger.Fields{
		"record_id": record.ID,
		"user_id":   record.UserID,
		"reference": record.Reference,
		"reason":    reason,
	}).Warn("record needs operator review")
}

var _ Notifier = (*LogNotifier)(nil)
