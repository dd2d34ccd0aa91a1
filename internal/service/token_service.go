package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tokenledger/internal/ledger"
	"tokenledger/internal/metrics"
	"tokenledger/internal/model"
	"tokenledger/internal/repository"
	"tokenledger/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// ErrNotWriter 当前进程未持有写入租约
	ErrNotWriter        = errors.New("当前节点未持有写入租约")
	ErrTransferNotFound = repository.ErrTransferNotFound
)

const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// WriterGate 判断当前进程是否允许修改账本
type WriterGate interface {
	IsWriter() bool
}

type TokenService struct {
	ledger       *ledger.Ledger
	info         TokenInfo
	transferRepo *repository.TransferRepository
	gate         WriterGate
	metrics      *metrics.Metrics
	log          *zap.Logger
}

type TokenServiceOption func(*TokenService)

// WithTransferHistory 事件和历史查询走转账流水表，不读内存日志（重启后内存日志为空）
func WithTransferHistory(repo *repository.TransferRepository) TokenServiceOption {
	return func(s *TokenService) {
		s.transferRepo = repo
	}
}

func WithWriterGate(gate WriterGate) TokenServiceOption {
	return func(s *TokenService) {
		s.gate = gate
	}
}

func NewTokenService(l *ledger.Ledger, info TokenInfo, m *metrics.Metrics, log *zap.Logger, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		ledger:  l,
		info:    info,
		metrics: m,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	m.LedgerSeq.Set(float64(l.LastSeq()))
	return s
}

type TokenInfoResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int32  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	Owner       string `json:"owner"`
	LastSeq     uint64 `json:"last_seq"`
}

type BalanceResponse struct {
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
}

type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"` // 最小单位
}

type EventView struct {
	Seq        uint64     `json:"seq"`
	TransferNo string     `json:"transfer_no,omitempty"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Value      string     `json:"value"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

func (s *TokenService) Info() *TokenInfoResponse {
	return &TokenInfoResponse{
		Name:        s.info.Name,
		Symbol:      s.info.Symbol,
		Decimals:    s.info.Decimals,
		TotalSupply: s.ledger.TotalSupply().Dec(),
		Owner:       s.ledger.Owner().Hex(),
		LastSeq:     s.ledger.LastSeq(),
	}
}

func (s *TokenService) TotalSupply() string {
	return s.ledger.TotalSupply().Dec()
}

func (s *TokenService) Owner() string {
	return s.ledger.Owner().Hex()
}

func (s *TokenService) Balance(account string) (*BalanceResponse, error) {
	addr, err := parseAddress("account", account)
	if err != nil {
		return nil, err
	}
	bal := s.ledger.BalanceOf(addr)
	return &BalanceResponse{
		Account:   addr.Hex(),
		Balance:   bal.Dec(),
		Formatted: units.FormatUnits(bal, s.info.Decimals),
	}, nil
}

// Transfer 从 caller 向 req.To 转账 req.Amount（最小单位）
func (s *TokenService) Transfer(ctx context.Context, caller string, req *TransferRequest) (*EventView, error) {
	if s.gate != nil && !s.gate.IsWriter() {
		s.metrics.Transfers.WithLabelValues(metrics.ResultNotWriter).Inc()
		return nil, ErrNotWriter
	}

	from, err := parseAddress("caller", caller)
	if err != nil {
		s.metrics.Transfers.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.metrics.Transfers.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		s.metrics.Transfers.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, fmt.Errorf("%w: amount: %v", ledger.ErrInvalidArgument, err)
	}

	start := time.Now()
	event, err := s.ledger.Transfer(ctx, from, to, amount)
	s.metrics.TransferDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.Transfers.WithLabelValues(metrics.ResultSuccess).Inc()
		s.metrics.LedgerSeq.Set(float64(event.Seq))
	case errors.Is(err, ledger.ErrInsufficientBalance):
		s.metrics.Transfers.WithLabelValues(metrics.ResultInsufficient).Inc()
		s.log.Info("转账被拒绝", zap.String("from", from.Hex()), zap.String("to", to.Hex()),
			zap.String("amount", amount.Dec()), zap.Error(err))
		return nil, err
	case errors.Is(err, ledger.ErrInvalidArgument):
		s.metrics.Transfers.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	default:
		s.metrics.Transfers.WithLabelValues(metrics.ResultError).Inc()
		s.log.Error("转账失败", zap.String("from", from.Hex()), zap.String("to", to.Hex()),
			zap.String("amount", amount.Dec()), zap.Error(err))
		return nil, err
	}

	s.log.Info("转账成功",
		zap.Uint64("seq", event.Seq),
		zap.String("from", event.From.Hex()),
		zap.String("to", event.To.Hex()),
		zap.String("value", event.Value.Dec()))

	return eventView(event), nil
}

// Events 返回序号大于 since 的事件，最多 limit 条
func (s *TokenService) Events(ctx context.Context, since uint64, limit int) ([]*EventView, error) {
	limit = clampLimit(limit)

	if s.transferRepo != nil {
		records, err := s.transferRepo.ListSince(ctx, since, limit)
		if err != nil {
			return nil, fmt.Errorf("list transfers: %w", err)
		}
		return recordViews(records), nil
	}

	events := s.ledger.Events(since, limit)
	views := make([]*EventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	return views, nil
}

// GetTransfer 按序号查询转账
func (s *TokenService) GetTransfer(ctx context.Context, seq uint64) (*EventView, error) {
	if seq == 0 {
		return nil, fmt.Errorf("%w: seq must be positive", ledger.ErrInvalidArgument)
	}

	if s.transferRepo != nil {
		rec, err := s.transferRepo.GetBySeq(ctx, seq)
		if err != nil {
			return nil, fmt.Errorf("get transfer %d: %w", seq, err)
		}
		return recordView(rec), nil
	}

	events := s.ledger.Events(seq-1, 1)
	if len(events) == 0 || events[0].Seq != seq {
		return nil, fmt.Errorf("get transfer %d: %w", seq, ErrTransferNotFound)
	}
	return eventView(events[0]), nil
}

// NormalizePage 返回 History 实际使用的页码和每页条数
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	return page, clampLimit(pageSize)
}

// History 分页查询账户转出和转入的记录，最新的在前
func (s *TokenService) History(ctx context.Context, account string, page, pageSize int) ([]*EventView, int64, error) {
	addr, err := parseAddress("account", account)
	if err != nil {
		return nil, 0, err
	}
	page, pageSize = NormalizePage(page, pageSize)

	if s.transferRepo != nil {
		records, total, err := s.transferRepo.ListByAddress(ctx, addr.Hex(), page, pageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("list transfers of %s: %w", addr.Hex(), err)
		}
		return recordViews(records), total, nil
	}

	all := s.ledger.Events(0, 0)
	var matched []*EventView
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].From == addr || all[i].To == addr {
			matched = append(matched, eventView(all[i]))
		}
	}
	total := int64(len(matched))
	offset := (page - 1) * pageSize
	if offset >= len(matched) {
		return []*EventView{}, total, nil
	}
	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultEventLimit
	}
	if limit > MaxEventLimit {
		return MaxEventLimit
	}
	return limit
}

func parseAddress(field, s string) (common.Address, error) {
	addr, err := units.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", ledger.ErrInvalidArgument, field, err)
	}
	return addr, nil
}

func eventView(e ledger.Event) *EventView {
	return &EventView{
		Seq:   e.Seq,
		From:  e.From.Hex(),
		To:    e.To.Hex(),
		Value: e.Value.Dec(),
	}
}

func recordViews(records []*model.TransferRecord) []*EventView {
	views := make([]*EventView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView(r))
	}
	return views
}

func recordView(r *model.TransferRecord) *EventView {
	createdAt := r.CreatedAt
	return &EventView{
		Seq:        r.Seq,
		TransferNo: r.TransferNo,
		From:       r.FromAddress,
		To:         r.ToAddress,
		Value:      r.Value,
		CreatedAt:  &createdAt,
	}
}
