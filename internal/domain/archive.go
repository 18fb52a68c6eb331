package domain

import "time"

// ArchivedTrade is the persisted form of a large trade.
type ArchivedTrade struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Symbol     string    `gorm:"index" json:"symbol"`
	TradeID    int64     `gorm:"index" json:"trade_id"`
	Side       string    `json:"side"`
	Price      string    `json:"price"`
	Quantity   string    `json:"quantity"`
	AmountUSDT string    `json:"amount_usdt"`
	Timestamp  int64     `gorm:"index" json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditEntry is the persisted form of one reconciliation check.
type AuditEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Symbol        string    `gorm:"index" json:"symbol"`
	PushPrice     string    `json:"push_price"`
	PullPrice     string    `json:"pull_price"`
	Diff          string    `json:"diff"`
	Mismatch      bool      `gorm:"index" json:"mismatch"`
	TotalChecks   int64     `json:"total_checks"`
	MismatchCount int64     `json:"mismatch_count"`
	CheckedAt     int64     `gorm:"index" json:"checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}
