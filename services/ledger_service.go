package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-tracking-system/models"
)

// LedgerService owns the append-only reward ledger. Entries are never updated
// or deleted; totals are always recomputed by summation so the ledger stays
// fully re-derivable.
type LedgerService struct {
	DB *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db}
}

// InsertIfAbsent writes a ledger entry unless one with the same
// (tenant, idempotency key, user) already exists, in which case it is a silent
// no-op. This upsert is the double-grant guard itself, not an auxiliary check:
// it stays safe under retried network calls and concurrent claims without any
// explicit locking. Returns whether a row was actually written.
func (s *LedgerService) InsertIfAbsent(db *gorm.DB, entry *models.RewardLedgerEntry) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	res := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "idempotency_key"}, {Name: "user_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, fmt.Errorf("insert ledger entry %s: %w", entry.IdempotencyKey, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SumByUser aggregates every entry for the user. No cached totals anywhere;
// correctness over cached-total drift is the deliberate tradeoff.
func (s *LedgerService) SumByUser(ctx context.Context, tenantID, userID string) (int64, string, error) {
	var total int64
	err := s.DB.WithContext(ctx).
		Model(&models.RewardLedgerEntry{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, "", fmt.Errorf("sum ledger for user %s: %w", userID, err)
	}

	var currencies []string
	err = s.DB.WithContext(ctx).
		Model(&models.RewardLedgerEntry{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(1).
		Pluck("currency", &currencies).Error
	if err != nil {
		return 0, "", fmt.Errorf("resolve ledger currency for user %s: %w", userID, err)
	}
	currency := DefaultCurrency
	if len(currencies) > 0 && currencies[0] != "" {
		currency = currencies[0]
	}
	return total, currency, nil
}

// Reverse appends a negative-amount entry undoing a prior grant. The reversal
// key makes reversing the same entry twice a no-op. The original row is never
// touched.
func (s *LedgerService) Reverse(ctx context.Context, tenantID, entryID string) (*models.RewardLedgerEntry, error) {
	var original models.RewardLedgerEntry
	if err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, entryID).
		First(&original).Error; err != nil {
		return nil, fmt.Errorf("load ledger entry %s: %w", entryID, err)
	}
	if original.Amount <= 0 {
		return nil, fmt.Errorf("ledger entry %s is not a reversible grant", entryID)
	}

	reversal := &models.RewardLedgerEntry{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         original.UserID,
		IdempotencyKey: ReversalKey(original.ID),
		Amount:         -original.Amount,
		Currency:       original.Currency,
		Category:       models.RewardCategoryReversal,
		ReferralID:     original.ReferralID,
	}
	if _, err := s.InsertIfAbsent(s.DB.WithContext(ctx), reversal); err != nil {
		return nil, err
	}
	return reversal, nil
}
