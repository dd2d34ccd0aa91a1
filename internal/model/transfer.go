package model

import (
	"time"
)

// TransferRecord 转账流水表
//
// 只追加，不修改不删除；记录变更前后余额，可据此重建每个账户
type TransferRecord struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"`
	Seq               uint64    `gorm:"uniqueIndex;not null" json:"seq"` // 账本序号，全局递增
	FromAddress       string    `gorm:"type:varchar(42);index;not null" json:"from"`
	ToAddress         string    `gorm:"type:varchar(42);index;not null" json:"to"`
	Value             string    `gorm:"type:varchar(78);not null" json:"value"`
	FromBalanceBefore string    `gorm:"type:varchar(78);not null" json:"from_balance_before"`
	FromBalanceAfter  string    `gorm:"type:varchar(78);not null" json:"from_balance_after"`
	ToBalanceBefore   string    `gorm:"type:varchar(78);not null" json:"to_balance_before"`
	ToBalanceAfter    string    `gorm:"type:varchar(78);not null" json:"to_balance_after"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TransferRecord) TableName() string {
	return "transfer_record"
}
