package job

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"tokenledger/internal/infrastructure/lock"
	"tokenledger/internal/metrics"

	"go.uber.org/zap"
)

// ErrLeaseLost 写入租约丢失，其他进程可能已持有
var ErrLeaseLost = errors.New("写入租约已丢失")

// LeaseKeeper 在进程生命周期内持有写入租约，实现 service.WriterGate
type LeaseKeeper struct {
	lease    *lock.DistributedLock
	held     atomic.Bool
	interval time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewLeaseKeeper(lease *lock.DistributedLock, m *metrics.Metrics, log *zap.Logger) *LeaseKeeper {
	return &LeaseKeeper{
		lease:    lease,
		interval: lease.Expiration() / 3,
		metrics:  m,
		log:      log,
	}
}

func (k *LeaseKeeper) IsWriter() bool {
	return k.held.Load()
}

// Acquire 阻塞直到获取租约或 ctx 结束
// 每轮最多重试 retries 次，间隔 retryInterval，失败后记录日志进入下一轮
func (k *LeaseKeeper) Acquire(ctx context.Context, retryInterval time.Duration, retries int) error {
	for {
		err := k.lease.Lock(ctx, retryInterval, retries)
		if err == nil {
			k.setHeld(true)
			k.log.Info("获取写入租约成功", zap.String("key", k.lease.Key()), zap.String("holder", k.lease.Holder()))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, lock.ErrLockFailed) {
			k.log.Info("写入租约被其他进程持有，继续等待", zap.String("key", k.lease.Key()))
			continue
		}

		k.log.Warn("获取写入租约失败", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Run 定期续期直到 ctx 结束后释放租约
// 租约被抢占或整个 TTL 内都续期失败时返回 ErrLeaseLost
func (k *LeaseKeeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	lastRefresh := time.Now()
	for {
		select {
		case <-ctx.Done():
			k.release()
			return nil
		case <-ticker.C:
			err := k.lease.Refresh(ctx)
			if err == nil {
				lastRefresh = time.Now()
				continue
			}
			if ctx.Err() != nil {
				k.release()
				return nil
			}
			if errors.Is(err, lock.ErrLockExpired) || time.Since(lastRefresh) >= k.lease.Expiration() {
				k.setHeld(false)
				k.log.Error("写入租约已丢失", zap.String("key", k.lease.Key()), zap.Error(err))
				return ErrLeaseLost
			}
			k.log.Warn("续期写入租约失败", zap.Error(err))
		}
	}
}

func (k *LeaseKeeper) release() {
	k.setHeld(false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.lease.Unlock(ctx); err != nil {
		k.log.Warn("释放写入租约失败", zap.Error(err))
		return
	}
	k.log.Info("写入租约已释放", zap.String("key", k.lease.Key()))
}

func (k *LeaseKeeper) setHeld(held bool) {
	k.held.Store(held)
	if held {
		k.metrics.WriterLeaseHeld.Set(1)
	} else {
		k.metrics.WriterLeaseHeld.Set(0)
	}
}
