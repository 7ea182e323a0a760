package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type quotaRepository struct {
	db *gorm.DB
}

func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

func (r *quotaRepository) Get(ctx context.Context, userID uint) (*models.QuotaLedger, error) {
	var l models.QuotaLedger
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *quotaRepository) CreateIfNotExists(ctx context.Context, ledger *models.QuotaLedger) (*models.QuotaLedger, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(ledger).Error; err != nil {
		return nil, err
	}
	var stored models.QuotaLedger
	if err := db.Where("user_id = ?", ledger.UserID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *quotaRepository) Adjust(ctx context.Context, userID uint, fn func(ledger *models.QuotaLedger) error) (*models.QuotaLedger, error) {
	var out models.QuotaLedger
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&out).Error; err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		out.UpdatedAt = time.Now()
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreateIfNotExists(ctx context.Context, record *models.PaymentRecord) (bool, *models.PaymentRecord, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentRecord
	if err := db.Where("token = ?", record.Token).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *paymentRepository) GetByToken(ctx context.Context, token string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkCompleted flips a record to completed. It reports false when another
// caller completed it first, so the grant is applied at most once.
func (r *paymentRepository) MarkCompleted(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&models.PaymentRecord{}).
		Where("id = ? AND status <> ?", id, models.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusCompleted,
			"completed_at": &now,
			"error":        "",
		})
	return tx.RowsAffected > 0, tx.Error
}

func (r *paymentRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	return r.db.WithContext(ctx).Model(&models.PaymentRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status": models.PaymentStatusFailed,
		"error":  reason,
	}).Error
}
