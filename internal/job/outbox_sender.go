package job

import (
	"context"
	"sync"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/infrastructure/mq"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 按 seq 顺序投递待发送的 outbox 消息
// 某条消息发送失败时本批次停止，后续消息不会先于它投递
// 超过最大重试次数后标记为 FAILED，继续投递后面的消息
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     mq.Publisher
	metrics       *metrics.Metrics
	log           *zap.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.BusinessConfig, m *metrics.Metrics, log *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		metrics:       m,
		log:           log,
		stopCh:        make(chan struct{}),
		interval:      time.Duration(cfg.OutboxIntervalMs) * time.Millisecond,
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval), zap.Int("batch_size", s.batchSize))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("消息发送任务退出", zap.Error(ctx.Err()))
			return
		case <-s.stopCh:
			s.log.Info("消息发送任务已停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// processPendingMessages 返回本次成功投递的消息数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}
	defer s.refreshPendingGauge(ctx)

	sent := 0
	for _, msg := range messages {
		if !s.sendMessage(ctx, msg) {
			break
		}
		sent++
	}
	return sent
}

// sendMessage 返回本批次是否可以继续
func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, mq.Message{Topic: msg.Topic, Key: msg.MessageKey, Payload: msg.Payload})
	if err == nil {
		if updateErr := s.outboxRepo.UpdateStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			// broker 已收到，下一轮会重复投递
			s.log.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Uint64("seq", msg.Seq), zap.Error(updateErr))
			return false
		}
		s.metrics.OutboxPublished.Inc()
		s.log.Debug("消息发送成功", zap.Int64("id", msg.ID), zap.Uint64("seq", msg.Seq),
			zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		return true
	}

	s.log.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Uint64("seq", msg.Seq),
		zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error("增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
		return false
	}

	if msg.RetryCount+1 < s.maxRetryCount {
		return false
	}

	if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
		s.log.Error("标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		return false
	}
	s.metrics.OutboxFailed.Inc()
	s.log.Error("消息超过最大重试次数，已标记为 FAILED",
		zap.Int64("id", msg.ID), zap.Uint64("seq", msg.Seq), zap.Int("max_retry_count", s.maxRetryCount))
	return true
}

func (s *OutboxSender) refreshPendingGauge(ctx context.Context) {
	n, err := s.outboxRepo.CountByStatus(ctx, model.OutboxStatusPending)
	if err != nil {
		s.log.Warn("统计待发送消息失败", zap.Error(err))
		return
	}
	s.metrics.OutboxPending.Set(float64(n))
}
