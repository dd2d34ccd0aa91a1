package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING" // 待发送
	OutboxStatusSent    = "SENT"    // 已发送
	OutboxStatusFailed  = "FAILED"  // 超过重试次数
)

// EventNameTransfer 账本唯一的事件类型
const EventNameTransfer = "Transfer"

// OutboxMessage 本地消息表，与余额变更在同一事务中写入
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"` // 分区 key，取代币符号
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Seq        uint64    `gorm:"index;not null" json:"seq"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// TransferEvent 发送到 broker 的 Transfer 事件内容
type TransferEvent struct {
	Event      string    `json:"event"`
	Symbol     string    `json:"symbol"`
	Seq        uint64    `json:"seq"`
	TransferNo string    `json:"transfer_no"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Value      string    `json:"value"`
	CommitAt   time.Time `json:"commit_at"`
}

func (e *TransferEvent) ToJSON() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func TransferEventFromJSON(data []byte) (*TransferEvent, error) {
	var e TransferEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
