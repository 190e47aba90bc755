// Package reconciler coordinates the full lifecycle of a submitted
// payment notification: extraction, role classification, counterpart
// matching, and ledger settlement. It owns every record status
// transition; no other package writes NotificationRecord rows.
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-reconciliation-service/internal/classifier"
	"payment-reconciliation-service/internal/extractor"
	"payment-reconciliation-service/internal/ledger"
	"payment-reconciliation-service/internal/matcher"
	"payment-reconciliation-service/internal/models"
	"payment-reconciliation-service/internal/notify"
	"payment-reconciliation-service/internal/storage"
	apperrors "payment-reconciliation-service/pkg/errors"
	"payment-reconciliation-service/pkg/logger"
	"payment-reconciliation-service/pkg/retry"
)

// Service is the reconciliation engine.
type Service struct {
	db        *gorm.DB
	extractor *extractor.Extractor
	matcher   *matcher.Engine
	ledger    *ledger.Service
	notifier  notify.Notifier
	policy    retry.Policy
	log       logger.Logger
}

// NewService wires the reconciliation engine. A nil notifier falls
// back to the logging notifier.
func NewService(db *gorm.DB, ext *extractor.Extractor, eng *matcher.Engine, led *ledger.Service, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Service{
		db:        db,
		extractor: ext,
		matcher:   eng,
		ledger:    led,
		notifier:  notifier,
		policy:    retry.DefaultPolicy(),
		log:       logger.WithComponent("reconciler"),
	}
}

// MatchOutcome describes a settled pair.
type MatchOutcome struct {
	Payer       *models.NotificationRecord `json:"payer"`
	Payee       *models.NotificationRecord `json:"payee"`
	Transaction *models.WalletTransaction  `json:"transaction"`
	Score       float64                    `json:"score"`
}

// Ingest processes one submitted notification text end to end and
// returns the resulting record. Re-submitting the same text returns
// the original record unchanged. A message without a parseable amount
// is rejected without persisting anything.
func (s *Service) Ingest(ctx context.Context, submitterID, channelHint, text string) (*models.NotificationRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.EmptyMessage()
	}
	if strings.TrimSpace(submitterID) == "" {
		return nil, apperrors.ExtractionFailure(text)
	}

	extracted := s.extractor.Extract(text, channelHint)
	if !extracted.Amount.Valid {
		s.log.WithFields(logger.Fields{
			"user_id": submitterID,
			"channel": extracted.Channel,
		}).Warn("notification rejected: no parseable amount")
		return nil, apperrors.ExtractionFailure(text)
	}

	hash := models.ContentHash(text)
	if existing, err := s.findByContentHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		s.log.WithFields(logger.Fields{
			"record_id": existing.ID,
			"user_id":   submitterID,
		}).Info("duplicate submission, returning existing record")
		return existing, nil
	}

	classification := classifier.Classify(text)

	record := &models.NotificationRecord{
		ID:             uuid.NewString(),
		UserID:         submitterID,
		RawText:        text,
		ContentHash:    hash,
		Channel:        extracted.Channel,
		Amount:         extracted.Amount,
		Reference:      extracted.Reference,
		Counterparty:   extracted.Counterparty,
		MessageTime:    extracted.MessageTime,
		Role:           classification.Role,
		Status:         models.StatusReceived,
		RoleConfidence: classification.Confidence,
		Debug:          debugNotes(extracted, classification),
	}
	if err := record.Validate(); err != nil {
		return nil, apperrors.InternalError("record preparation", err)
	}

	if err := s.persistNew(ctx, record); err != nil {
		if apperrors.IsDuplicateReference(err) {
			// Lost a concurrent race on the content hash; the winner's
			// row is the canonical one.
			return s.mustFindByContentHash(ctx, hash)
		}
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"record_id": record.ID,
		"user_id":   submitterID,
		"role":      record.Role.String(),
		"channel":   record.Channel,
		"reference": record.Reference,
	}).Info("notification recorded")

	if record.Role == models.RoleUnknown {
		s.notifier.ReviewNeeded(ctx, record, "role could not be classified")
		return record, nil
	}

	outcome, err := s.autoMatch(ctx, record)
	if err != nil && !apperrors.IsNoConfidentMatch(err) {
		return record, err
	}
	if outcome != nil {
		s.notifier.DepositConfirmed(ctx, outcome.Payer, outcome.Transaction)
		if record.Role == models.RolePayer {
			return outcome.Payer, nil
		}
		return outcome.Payee, nil
	}

	if err := s.markWaiting(ctx, record); err != nil {
		return record, err
	}
	s.notifier.DepositWaiting(ctx, record)
	return record, nil
}

// persistNew creates the record and, for a payer-side deposit claim,
// reserves its pending ledger transaction, in one atomic unit.
func (s *Service) persistNew(ctx context.Context, record *models.NotificationRecord) error {
	return retry.Do(ctx, s.policy, "record creation", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(record).Error; err != nil {
				return s.classify("record insert", err)
			}
			if record.Role != models.RolePayer {
				return nil
			}
			pending, err := s.ledger.CreatePendingTx(tx, ledger.ApplyRequest{
				UserID:        record.UserID,
				Amount:        record.Amount.Decimal,
				Type:          models.TxDeposit,
				Description:   depositDescription(record),
				Reference:     depositReference(record.ID),
				PayerRecordID: &record.ID,
			})
			if err != nil {
				return err
			}
			record.LedgerTransactionID = &pending.ID
			return tx.Model(record).
				Update("ledger_transaction_id", pending.ID).Error
		})
	})
}

// autoMatch looks for a confident counterpart and settles the pair.
// Without candidates it returns nil with no error; when candidates
// exist but none clears the threshold it returns a no-confident-match
// error carrying the best score.
func (s *Service) autoMatch(ctx context.Context, record *models.NotificationRecord) (*MatchOutcome, error) {
	candidates, err := s.candidates(ctx, record, s.matcher.Config().AutoLookback)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	best, ok := s.matcher.BestMatch(record, candidates)
	if !ok {
		s.log.WithFields(logger.Fields{
			"record_id":  record.ID,
			"candidates": len(candidates),
			"best_score": bestScore(best),
		}).Debug("no candidate cleared the threshold")
		return nil, apperrors.NoConfidentMatch(record.ID, bestScore(best))
	}

	payer, payee := orderPair(record, best.Candidate)
	outcome, err := s.settle(ctx, payer.ID, payee.ID, best.Score, "", models.StatusAutoMatched)
	if err != nil {
		if apperrors.IsInvalidPairing(err) {
			// The candidate was resolved by a concurrent writer between
			// scoring and settlement; the record simply keeps waiting.
			return nil, nil
		}
		return nil, err
	}
	return outcome, nil
}

// ForceMatch pairs two records on an operator's authority, bypassing
// the score threshold. The payer record must carry an amount.
func (s *Service) ForceMatch(ctx context.Context, payerRecordID, payeeRecordID, operatorID string) (*MatchOutcome, error) {
	if strings.TrimSpace(operatorID) == "" {
		return nil, apperrors.InvalidPairing("operator ID is required")
	}
	if payerRecordID == payeeRecordID {
		return nil, apperrors.InvalidPairing("cannot match a record with itself")
	}

	outcome, err := s.settle(ctx, payerRecordID, payeeRecordID, 0, operatorID, models.StatusApproved)
	if err != nil {
		return nil, err
	}
	s.notifier.DepositConfirmed(ctx, outcome.Payer, outcome.Transaction)
	s.log.WithFields(logger.Fields{
		"payer_record": payerRecordID,
		"payee_record": payeeRecordID,
		"operator_id":  operatorID,
	}).Info("operator force-matched pair")
	return outcome, nil
}

// settle atomically credits the payer's wallet and resolves both
// records. payerStatus is AUTO_MATCHED for the automatic path and
// APPROVED for operator decisions; the payee side always ends
// CONFIRMED.
func (s *Service) settle(ctx context.Context, payerID, payeeID string, score float64, operatorID string, payerStatus models.RecordStatus) (*MatchOutcome, error) {
	var outcome *MatchOutcome
	err := retry.Do(ctx, s.policy, "pair settlement", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			// Lock the two rows in ID order so settlements over the
			// same pair from opposite orientations cannot deadlock.
			firstID, secondID := payerID, payeeID
			if secondID < firstID {
				firstID, secondID = secondID, firstID
			}
			first, err := lockRecord(tx, firstID)
			if err != nil {
				return err
			}
			second, err := lockRecord(tx, secondID)
			if err != nil {
				return err
			}
			payer, payee := first, second
			if firstID != payerID {
				payer, payee = second, first
			}

			if !payer.Status.IsMatchable() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("payer record %s is already %s", payer.ID, payer.Status))
			}
			if !payee.Status.IsMatchable() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("payee record %s is already %s", payee.ID, payee.Status))
			}
			if payer.Role == models.RolePayee {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s is a payee-side message", payer.ID))
			}
			if payee.Role == models.RolePayer {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s is a payer-side message", payee.ID))
			}
			if !payer.HasAmount() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("payer record %s has no amount", payer.ID))
			}

			applied, err := s.creditPayer(tx, payer, payee, operatorID)
			if err != nil {
				return err
			}

			now := time.Now()
			if err := resolveRecord(tx, payer, map[string]interface{}{
				"status":                payerStatus,
				"matched_record_id":     payee.ID,
				"ledger_transaction_id": applied.Transaction.ID,
				"match_score":           score,
				"operator_id":           operatorID,
				"updated_at":            now,
			}); err != nil {
				return s.classify("payer resolution", err)
			}
			if err := resolveRecord(tx, payee, map[string]interface{}{
				"status":            models.StatusConfirmed,
				"matched_record_id": payer.ID,
				"match_score":       score,
				"operator_id":       operatorID,
				"updated_at":        now,
			}); err != nil {
				return s.classify("payee resolution", err)
			}

			outcome = &MatchOutcome{
				Payer:       payer,
				Payee:       payee,
				Transaction: applied.Transaction,
				Score:       score,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// creditPayer completes the payer's reserved pending transaction, or
// creates the deposit directly when the record never reserved one
// (unknown-role records promoted by an operator).
func (s *Service) creditPayer(tx *gorm.DB, payer, payee *models.NotificationRecord, operatorID string) (*ledger.ApplyResult, error) {
	if payer.LedgerTransactionID != nil {
		return s.ledger.CompletePendingTx(tx, *payer.LedgerTransactionID, operatorID, &payee.ID)
	}
	return s.ledger.ApplyTx(tx, ledger.ApplyRequest{
		UserID:        payer.UserID,
		Amount:        payer.Amount.Decimal,
		Type:          models.TxDeposit,
		Description:   depositDescription(payer),
		Reference:     depositReference(payer.ID),
		OperatorID:    operatorID,
		PayerRecordID: &payer.ID,
		PayeeRecordID: &payee.ID,
	})
}

// ApproveRecord credits a payer-side record without a counterpart, on
// an operator's authority.
func (s *Service) ApproveRecord(ctx context.Context, recordID, operatorID string) (*models.NotificationRecord, error) {
	if strings.TrimSpace(operatorID) == "" {
		return nil, apperrors.InvalidPairing("operator ID is required")
	}

	var approved *models.NotificationRecord
	err := retry.Do(ctx, s.policy, "record approval", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			record, err := lockRecord(tx, recordID)
			if err != nil {
				return err
			}
			if !record.Status.IsMatchable() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s is already %s", record.ID, record.Status))
			}
			if record.Role == models.RolePayee {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s is a payee-side message", record.ID))
			}
			if !record.HasAmount() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s has no amount", record.ID))
			}

			var applied *ledger.ApplyResult
			if record.LedgerTransactionID != nil {
				applied, err = s.ledger.CompletePendingTx(tx, *record.LedgerTransactionID, operatorID, nil)
			} else {
				applied, err = s.ledger.ApplyTx(tx, ledger.ApplyRequest{
					UserID:        record.UserID,
					Amount:        record.Amount.Decimal,
					Type:          models.TxDeposit,
					Description:   depositDescription(record),
					Reference:     depositReference(record.ID),
					OperatorID:    operatorID,
					PayerRecordID: &record.ID,
				})
			}
			if err != nil {
				return err
			}

			if err := resolveRecord(tx, record, map[string]interface{}{
				"status":                models.StatusApproved,
				"ledger_transaction_id": applied.Transaction.ID,
				"operator_id":           operatorID,
				"updated_at":            time.Now(),
			}); err != nil {
				return s.classify("record approval", err)
			}

			approved = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DepositConfirmed(ctx, approved, nil)
	return approved, nil
}

// BatchResult is the per-record outcome of a batch approval.
type BatchResult struct {
	RecordID string `json:"record_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// BatchApprove approves each record independently; one failure never
// blocks the rest.
func (s *Service) BatchApprove(ctx context.Context, recordIDs []string, operatorID string) []BatchResult {
	results := make([]BatchResult, 0, len(recordIDs))
	for _, id := range recordIDs {
		if _, err := s.ApproveRecord(ctx, id, operatorID); err != nil {
			results = append(results, BatchResult{RecordID: id, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{RecordID: id, Success: true})
	}
	return results
}

// Reject closes a record without crediting anyone. A reserved pending
// transaction is marked FAILED.
func (s *Service) Reject(ctx context.Context, recordID, operatorID, reason string) (*models.NotificationRecord, error) {
	if strings.TrimSpace(operatorID) == "" {
		return nil, apperrors.InvalidPairing("operator ID is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "rejected by operator"
	}

	var rejected *models.NotificationRecord
	err := retry.Do(ctx, s.policy, "record rejection", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			record, err := lockRecord(tx, recordID)
			if err != nil {
				return err
			}
			if record.Status.IsTerminal() {
				return apperrors.InvalidPairing(
					fmt.Sprintf("record %s is already %s", record.ID, record.Status))
			}

			if record.LedgerTransactionID != nil {
				if err := s.ledger.FailPendingTx(tx, *record.LedgerTransactionID, "rejected"); err != nil {
					return err
				}
			}

			if err := resolveRecord(tx, record, map[string]interface{}{
				"status":        models.StatusRejected,
				"operator_id":   operatorID,
				"review_reason": reason,
				"updated_at":    time.Now(),
			}); err != nil {
				return s.classify("record rejection", err)
			}

			rejected = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifier.DepositRejected(ctx, rejected, reason)
	return rejected, nil
}

// PendingPage is one page of the operator review queue.
type PendingPage struct {
	Records []models.NotificationRecord `json:"records"`
	Total   int64                       `json:"total"`
	Page    int                         `json:"page"`
	Limit   int                         `json:"limit"`
}

// GetPending returns unresolved records oldest first, which is the
// order operators work the queue in.
func (s *Service) GetPending(ctx context.Context, page, limit int) (*PendingPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("status IN ?", []models.RecordStatus{models.StatusReceived, models.StatusWaitingMatch})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, s.classify("pending count", err)
	}

	var records []models.NotificationRecord
	err := query.Order("created_at ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, s.classify("pending query", err)
	}

	return &PendingPage{Records: records, Total: total, Page: page, Limit: limit}, nil
}

// Candidates scores every plausible counterpart of a record over the
// operator lookback window, best first, for the review UI.
func (s *Service) Candidates(ctx context.Context, recordID string) ([]*matcher.Result, error) {
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.candidates(ctx, record, s.matcher.Config().OperatorLookback)
	if err != nil {
		return nil, err
	}

	results := make([]*matcher.Result, 0, len(candidates))
	for _, candidate := range candidates {
		results = append(results, s.matcher.Score(record, candidate))
	}
	sortResults(results)
	return results, nil
}

// GetRecord fetches one record by ID.
func (s *Service) GetRecord(ctx context.Context, recordID string) (*models.NotificationRecord, error) {
	var record models.NotificationRecord
	err := s.db.WithContext(ctx).Where("id = ?", recordID).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("record", recordID)
		}
		return nil, s.classify("record lookup", err)
	}
	return &record, nil
}

// candidates fetches matchable opposite-role records within the
// lookback window, most recent first. Unknown-role records never
// appear: they cannot satisfy the opposite-direction requirement.
func (s *Service) candidates(ctx context.Context, record *models.NotificationRecord, lookback time.Duration) ([]*models.NotificationRecord, error) {
	opposite, ok := record.Role.Opposite()
	if !ok {
		return nil, nil
	}

	var rows []*models.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("role = ?", opposite).
		Where("status IN ?", []models.RecordStatus{models.StatusReceived, models.StatusWaitingMatch}).
		Where("id <> ?", record.ID).
		Where("created_at >= ?", time.Now().Add(-lookback)).
		Order("created_at DESC").
		Limit(s.matcher.Config().MaxCandidates).
		Find(&rows).Error
	if err != nil {
		return nil, s.classify("candidate query", err)
	}
	return rows, nil
}

// markWaiting moves a fresh record into the review queue.
func (s *Service) markWaiting(ctx context.Context, record *models.NotificationRecord) error {
	return retry.Do(ctx, s.policy, "waiting transition", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			result := tx.Model(&models.NotificationRecord{}).
				Where("id = ? AND status = ?", record.ID, models.StatusReceived).
				Updates(map[string]interface{}{
					"status":        models.StatusWaitingMatch,
					"review_reason": "no confident counterpart found",
				})
			if result.Error != nil {
				return s.classify("waiting transition", result.Error)
			}
			if result.RowsAffected > 0 {
				record.Status = models.StatusWaitingMatch
				record.ReviewReason = "no confident counterpart found"
			}
			return nil
		})
	})
}

func (s *Service) findByContentHash(ctx context.Context, hash string) (*models.NotificationRecord, error) {
	var record models.NotificationRecord
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, s.classify("content hash lookup", err)
	}
	return &record, nil
}

func (s *Service) mustFindByContentHash(ctx context.Context, hash string) (*models.NotificationRecord, error) {
	record, err := s.findByContentHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperrors.InternalError("content hash lookup",
			fmt.Errorf("duplicate key reported but no row found"))
	}
	return record, nil
}

func (s *Service) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Service) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsReconcilerError(err); ok {
		return err
	}
	if storage.IsSerializationFailure(err) {
		return apperrors.WriteConflict(operation, err)
	}
	if storage.IsDuplicateKey(err) {
		return apperrors.DuplicateReference("")
	}
	return apperrors.StorageError(operation, err)
}

func lockRecord(tx *gorm.DB, recordID string) (*models.NotificationRecord, error) {
	var record models.NotificationRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", recordID).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("record", recordID)
		}
		return nil, apperrors.StorageError("record lock", err)
	}
	return &record, nil
}

func resolveRecord(tx *gorm.DB, record *models.NotificationRecord, updates map[string]interface{}) error {
	if err := tx.Model(record).Updates(updates).Error; err != nil {
		return err
	}
	if status, ok := updates["status"].(models.RecordStatus); ok {
		record.Status = status
	}
	return nil
}

// orderPair orients a scored pair so the payer side comes first.
func orderPair(a, b *models.NotificationRecord) (payer, payee *models.NotificationRecord) {
	if a.Role == models.RolePayer {
		return a, b
	}
	return b, a
}

func depositReference(recordID string) string {
	return "DEP-" + recordID
}

func depositDescription(record *models.NotificationRecord) string {
	desc := fmt.Sprintf("deposit of %s", record.Amount.Decimal.StringFixed(2))
	if record.Channel != "" {
		desc += " via " + record.Channel
	}
	if record.Reference != "" {
		desc += " (ref " + record.Reference + ")"
	}
	return desc
}

func debugNotes(extracted *extractor.Result, classification classifier.Classification) string {
	notes := make([]string, 0, len(extracted.Notes)+1)
	notes = append(notes, extracted.Notes...)
	if classification.Rule != "" {
		notes = append(notes, "role rule: "+classification.Rule)
	}
	return strings.Join(notes, "; ")
}

func bestScore(result *matcher.Result) float64 {
	if result == nil {
		return 0
	}
	return result.Score
}

func sortResults(results []*matcher.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
