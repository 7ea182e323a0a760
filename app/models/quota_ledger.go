package models

import "time"

// QuotaLedger holds the per-user generation counters. Monthly quotas are reset
// on plan change or renewal; credits never expire.
type QuotaLedger struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Plan           string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	ImageQuota     int        `gorm:"not null;default:0" json:"image_quota"`
	VideoQuota     int        `gorm:"not null;default:0" json:"video_quota"`
	BgRemovalQuota int        `gorm:"not null;default:0" json:"bg_removal_quota"`
	Credits        int        `gorm:"not null;default:0" json:"credits"`
	PeriodStart    time.Time  `gorm:"not null" json:"period_start"`
	PeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodExpired reports whether a paid period has ended without renewal.
func (l *QuotaLedger) PeriodExpired(now time.Time) bool {
	return l.PeriodEnd != nil && !now.Before(*l.PeriodEnd)
}

const (
	PaymentKindPlan    = "plan"
	PaymentKindCredits = "credits"

	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// PaymentRecord makes payment application idempotent per gateway token.
type PaymentRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Token       string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"token"`
	UserID      uint       `gorm:"not null;index" json:"user_id"`
	Kind        string     `gorm:"type:varchar(20);not null" json:"kind"`
	Reference   string     `gorm:"type:varchar(100);not null" json:"reference"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
