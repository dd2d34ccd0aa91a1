package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/internal/ledger"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"
	"tokenledger/pkg/idgen"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
)

// TokenInfo 代币描述信息，创世时确定
type TokenInfo struct {
	Name     string
	Symbol   string
	Decimals int32
}

// LedgerStore 基于 gorm 的账本持久化，实现 ledger.Journal
// 每笔转账在一个数据库事务内完成：推进序号、更新双方余额、写流水、写本地消息表
type LedgerStore struct {
	db           *gorm.DB
	symbol       string
	topic        string
	metaRepo     *repository.MetaRepository
	accountRepo  *repository.AccountRepository
	transferRepo *repository.TransferRepository
	outboxRepo   *repository.OutboxRepository
}

var _ ledger.Journal = (*LedgerStore)(nil)

// NewLedgerStore 创建账本存储，topic 为空时不写本地消息表
func NewLedgerStore(db *gorm.DB, symbol, topic string) *LedgerStore {
	return &LedgerStore{
		db:           db,
		symbol:       symbol,
		topic:        topic,
		metaRepo:     repository.NewMetaRepository(db),
		accountRepo:  repository.NewAccountRepository(db),
		transferRepo: repository.NewTransferRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

func (s *LedgerStore) Commit(ctx context.Context, t *ledger.Transition) error {
	from := t.Event.From.Hex()
	to := t.Event.To.Hex()
	transferNo := idgen.GenerateTransferNo()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.metaRepo.AdvanceSeq(ctx, tx, t.Event.Seq-1, t.Event.Seq); err != nil {
			return fmt.Errorf("advance seq to %d: %w", t.Event.Seq, err)
		}

		if err := s.accountRepo.SetBalance(ctx, tx, from, t.FromBefore.Dec(), t.FromAfter.Dec()); err != nil {
			return fmt.Errorf("debit %s: %w", from, err)
		}
		if err := s.accountRepo.SetBalance(ctx, tx, to, t.ToBefore.Dec(), t.ToAfter.Dec()); err != nil {
			return fmt.Errorf("credit %s: %w", to, err)
		}

		record := &model.TransferRecord{
			TransferNo:        transferNo,
			Seq:               t.Event.Seq,
			FromAddress:       from,
			ToAddress:         to,
			Value:             t.Event.Value.Dec(),
			FromBalanceBefore: t.FromBefore.Dec(),
			FromBalanceAfter:  t.FromAfter.Dec(),
			ToBalanceBefore:   t.ToBefore.Dec(),
			ToBalanceAfter:    t.ToAfter.Dec(),
		}
		if err := s.transferRepo.Create(ctx, tx, record); err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}

		if s.topic == "" {
			return nil
		}

		event := &model.TransferEvent{
			Event:      model.EventNameTransfer,
			Symbol:     s.symbol,
			Seq:        t.Event.Seq,
			TransferNo: transferNo,
			From:       from,
			To:         to,
			Value:      t.Event.Value.Dec(),
			CommitAt:   time.Now().UTC(),
		}
		payload, err := event.ToJSON()
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}

		// 同一账本使用同一个 key，所有事件落在一个分区，保持提交顺序
		outboxMsg := &model.OutboxMessage{
			MessageKey: s.symbol,
			Topic:      s.topic,
			Seq:        t.Event.Seq,
			Payload:    payload,
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("write outbox: %w", err)
		}
		return nil
	})
}

// Genesis 写入新账本的元数据和初始余额
func (s *LedgerStore) Genesis(ctx context.Context, info TokenInfo, snap ledger.Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meta := &model.LedgerMeta{
			Name:        info.Name,
			Symbol:      info.Symbol,
			Decimals:    info.Decimals,
			TotalSupply: snap.TotalSupply.Dec(),
			Owner:       snap.Owner.Hex(),
			LastSeq:     snap.LastSeq,
		}
		if err := s.metaRepo.Create(ctx, tx, meta); err != nil {
			return fmt.Errorf("create ledger meta: %w", err)
		}
		for addr, bal := range snap.Balances {
			account := &model.Account{Address: addr.Hex(), Balance: bal.Dec()}
			if err := s.accountRepo.Create(ctx, tx, account); err != nil {
				return fmt.Errorf("create account %s: %w", addr.Hex(), err)
			}
		}
		return nil
	})
}

// Load 读取持久化的账本，创世前返回 repository.ErrMetaNotFound
func (s *LedgerStore) Load(ctx context.Context) (TokenInfo, ledger.Snapshot, error) {
	meta, err := s.metaRepo.Get(ctx)
	if err != nil {
		return TokenInfo{}, ledger.Snapshot{}, err
	}

	totalSupply, err := uint256.FromDecimal(meta.TotalSupply)
	if err != nil {
		return TokenInfo{}, ledger.Snapshot{}, fmt.Errorf("parse total supply %q: %w", meta.TotalSupply, err)
	}

	balances, err := s.LoadBalances(ctx)
	if err != nil {
		return TokenInfo{}, ledger.Snapshot{}, err
	}

	info := TokenInfo{Name: meta.Name, Symbol: meta.Symbol, Decimals: meta.Decimals}
	snap := ledger.Snapshot{
		TotalSupply: totalSupply,
		Owner:       common.HexToAddress(meta.Owner),
		Balances:    balances,
		LastSeq:     meta.LastSeq,
	}
	return info, snap, nil
}

// LoadBalances 读取全部账户余额
func (s *LedgerStore) LoadBalances(ctx context.Context) (map[common.Address]*uint256.Int, error) {
	accounts, err := s.accountRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	balances := make(map[common.Address]*uint256.Int, len(accounts))
	for _, acc := range accounts {
		bal, err := uint256.FromDecimal(acc.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance of %s: %w", acc.Address, err)
		}
		balances[common.HexToAddress(acc.Address)] = bal
	}
	return balances, nil
}

// LastSeq 最后一笔已持久化转账的序号
func (s *LedgerStore) LastSeq(ctx context.Context) (uint64, error) {
	meta, err := s.metaRepo.Get(ctx)
	if err != nil {
		return 0, err
	}
	return meta.LastSeq, nil
}

// ErrGenesisMismatch 配置的代币与已持久化的创世信息不一致
var ErrGenesisMismatch = errors.New("配置的账本与已持久化的创世信息不一致")

// OpenLedger 从数据库恢复账本，数据库为空时按 cfg 创世并持久化
// 返回的账本通过 s 记录每笔转账
func OpenLedger(ctx context.Context, s *LedgerStore, info TokenInfo, cfg ledger.Config, opts ...ledger.Option) (*ledger.Ledger, TokenInfo, error) {
	opts = append(opts, ledger.WithJournal(s))

	persisted, snap, err := s.Load(ctx)
	if errors.Is(err, repository.ErrMetaNotFound) {
		l, err := ledger.New(cfg, opts...)
		if err != nil {
			return nil, TokenInfo{}, err
		}
		if err := s.Genesis(ctx, info, l.Snapshot()); err != nil {
			return nil, TokenInfo{}, fmt.Errorf("genesis: %w", err)
		}
		return l, info, nil
	}
	if err != nil {
		return nil, TokenInfo{}, fmt.Errorf("load ledger: %w", err)
	}

	if cfg.TotalSupply != nil && !cfg.TotalSupply.Eq(snap.TotalSupply) {
		return nil, TokenInfo{}, fmt.Errorf("%w: total supply %s, persisted %s",
			ErrGenesisMismatch, cfg.TotalSupply.Dec(), snap.TotalSupply.Dec())
	}
	if cfg.Owner != snap.Owner {
		return nil, TokenInfo{}, fmt.Errorf("%w: owner %s, persisted %s",
			ErrGenesisMismatch, cfg.Owner.Hex(), snap.Owner.Hex())
	}

	l, err := ledger.Restore(snap, opts...)
	if err != nil {
		return nil, TokenInfo{}, err
	}
	return l, persisted, nil
}
