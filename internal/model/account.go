package model

import (
	"time"
)

// Account 账户表
// 记录每个地址的余额，Balance 为最小单位的十进制字符串，78 位足以容纳 256 位整数
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Address   string    `gorm:"type:varchar(42);uniqueIndex;not null" json:"address"`
	Balance   string    `gorm:"type:varchar(78);not null;default:'0'" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
