package model

import (
	"time"
)

// LedgerMetaID 元数据表只有一行，主键固定
const LedgerMetaID = 1

// LedgerMeta 账本元数据，创世时写入，之后只有 LastSeq 会变化
type LedgerMeta struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(64);not null" json:"name"`
	Symbol      string    `gorm:"type:varchar(16);not null" json:"symbol"`
	Decimals    int32     `gorm:"not null" json:"decimals"`
	TotalSupply string    `gorm:"type:varchar(78);not null" json:"total_supply"`
	Owner       string    `gorm:"type:varchar(42);not null" json:"owner"`
	LastSeq     uint64    `gorm:"not null;default:0" json:"last_seq"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerMeta) TableName() string {
	return "ledger_meta"
}
