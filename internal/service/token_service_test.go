package service

import (
	"context"
	"testing"

	"tokenledger/internal/ledger"
	"tokenledger/internal/metrics"
	"tokenledger/internal/repository"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedGate bool

func (g fixedGate) IsWriter() bool { return bool(g) }

func newMemoryService(t *testing.T, opts ...TokenServiceOption) (*TokenService, *metrics.Metrics) {
	t.Helper()
	l, err := ledger.New(testLedgerConfig())
	require.NoError(t, err)
	m := metrics.New()
	return NewTokenService(l, testInfo, m, zap.NewNop(), opts...), m
}

func TestTokenService_Info(t *testing.T) {
	s, _ := newMemoryService(t)

	info := s.Info()
	assert.Equal(t, "LuxeCoin", info.Name)
	assert.Equal(t, "LUXE", info.Symbol)
	assert.Equal(t, int32(18), info.Decimals)
	assert.Equal(t, testSupply, info.TotalSupply)
	assert.Equal(t, owner.Hex(), info.Owner)
	assert.Equal(t, testSupply, s.TotalSupply())
	assert.Equal(t, owner.Hex(), s.Owner())
}

func TestTokenService_Balance(t *testing.T) {
	s, _ := newMemoryService(t)

	bal, err := s.Balance(owner.Hex())
	require.NoError(t, err)
	assert.Equal(t, testSupply, bal.Balance)
	assert.Equal(t, "220000000", bal.Formatted)

	bal, err = s.Balance(recipient.Hex())
	require.NoError(t, err)
	assert.Equal(t, "0", bal.Balance)

	_, err = s.Balance("not-an-address")
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestTokenService_Transfer(t *testing.T) {
	s, m := newMemoryService(t)
	ctx := context.Background()

	ev, err := s.Transfer(ctx, owner.Hex(), &TransferRequest{To: recipient.Hex(), Amount: "100"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, owner.Hex(), ev.From)
	assert.Equal(t, recipient.Hex(), ev.To)
	assert.Equal(t, "100", ev.Value)

	_, err = s.Transfer(ctx, recipient.Hex(), &TransferRequest{To: anotherAccount.Hex(), Amount: "101"})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = s.Transfer(ctx, recipient.Hex(), &TransferRequest{To: anotherAccount.Hex(), Amount: "-1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = s.Transfer(ctx, "", &TransferRequest{To: anotherAccount.Hex(), Amount: "1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = s.Transfer(ctx, owner.Hex(), &TransferRequest{To: "0x1234", Amount: "1"})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transfers.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transfers.WithLabelValues(metrics.ResultInsufficient)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Transfers.WithLabelValues(metrics.ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerSeq))
}

func TestTokenService_TransferRequiresWriter(t *testing.T) {
	s, m := newMemoryService(t, WithWriterGate(fixedGate(false)))

	_, err := s.Transfer(context.Background(), owner.Hex(), &TransferRequest{To: recipient.Hex(), Amount: "1"})
	assert.ErrorIs(t, err, ErrNotWriter)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transfers.WithLabelValues(metrics.ResultNotWriter)))

	bal, err := s.Balance(owner.Hex())
	require.NoError(t, err)
	assert.Equal(t, testSupply, bal.Balance)
}

func TestTokenService_EventsAndHistoryInMemory(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()

	for _, to := range []string{recipient.Hex(), anotherAccount.Hex(), recipient.Hex()} {
		_, err := s.Transfer(ctx, owner.Hex(), &TransferRequest{To: to, Amount: "10"})
		require.NoError(t, err)
	}

	events, err := s.Events(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Seq)

	history, total, err := s.History(ctx, recipient.Hex(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, history, 1)
	assert.Equal(t, uint64(3), history[0].Seq)

	history, total, err = s.History(ctx, recipient.Hex(), 3, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Empty(t, history)
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultEventLimit, size)

	page, size = NormalizePage(3, MaxEventLimit+1)
	assert.Equal(t, 3, page)
	assert.Equal(t, MaxEventLimit, size)
}

func TestTokenService_GetTransferInMemory(t *testing.T) {
	s, _ := newMemoryService(t)
	ctx := context.Background()
	_, err := s.Transfer(ctx, owner.Hex(), &TransferRequest{To: recipient.Hex(), Amount: "5"})
	require.NoError(t, err)

	ev, err := s.GetTransfer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "5", ev.Value)

	_, err = s.GetTransfer(ctx, 2)
	assert.ErrorIs(t, err, ErrTransferNotFound)

	_, err = s.GetTransfer(ctx, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestTokenService_EventsFromJournal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	l, _ := openTestLedger(t, db)
	_, err := l.Transfer(ctx, owner, recipient, uint256.NewInt(7))
	require.NoError(t, err)

	// a restarted process has an empty in-memory log
	restored, _ := openTestLedger(t, db)
	s := NewTokenService(restored, testInfo, metrics.New(), zap.NewNop(),
		WithTransferHistory(repository.NewTransferRepository(db)))

	events, err := s.Events(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "7", events[0].Value)
	assert.NotEmpty(t, events[0].TransferNo)
	assert.NotNil(t, events[0].CreatedAt)

	history, total, err := s.History(ctx, recipient.Hex(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, history, 1)

	ev, err := s.GetTransfer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "7", ev.Value)
	assert.NotEmpty(t, ev.TransferNo)

	_, err = s.GetTransfer(ctx, 2)
	assert.ErrorIs(t, err, ErrTransferNotFound)
}
