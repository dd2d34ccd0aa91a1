package mq

import (
	"context"
	"errors"
	"fmt"

	"tokenledger/internal/config"
)

// ErrNoBroker 事件 broker 配置为 none
var ErrNoBroker = errors.New("未配置事件 broker")

// Message 待投递到 broker 的 outbox 消息
type Message struct {
	Topic   string
	Key     string
	Payload string
}

// Publisher 消息发布者，Publish 在 broker 确认后才返回
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// NewPublisher 按 cfg.Broker 连接对应的 broker
func NewPublisher(cfg *config.EventsConfig) (Publisher, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		return NewKafkaPublisher(cfg.Kafka.Brokers)
	case config.BrokerAMQP:
		return NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue)
	case config.BrokerNone:
		return nil, ErrNoBroker
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
