package repository

import (
	"context"
	"path/filepath"
	"testing"

	"tokenledger/internal/config"
	"tokenledger/internal/infrastructure/database"
	"tokenledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	addrA = "0x627306090abaB3A6e1400e9345bC60c78a8BEf57"
	addrB = "0xf17f52151EbEF6C7334FAD080c5704D77216b732"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestAccountRepository_SetBalance(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	_, err := repo.GetByAddress(ctx, addrA)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// first credit creates the row
	require.NoError(t, repo.SetBalance(ctx, nil, addrA, "0", "100"))
	acc, err := repo.GetByAddress(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, "100", acc.Balance)
	assert.Equal(t, 0, acc.Version)

	require.NoError(t, repo.SetBalance(ctx, nil, addrA, "100", "40"))
	acc, err = repo.GetByAddress(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, "40", acc.Balance)
	assert.Equal(t, 1, acc.Version)

	// stale before value
	err = repo.SetBalance(ctx, nil, addrA, "100", "0")
	assert.ErrorIs(t, err, ErrBalanceConflict)

	// "0" before an existing non-zero row collides with the unique index
	err = repo.SetBalance(ctx, nil, addrA, "0", "5")
	assert.ErrorIs(t, err, ErrBalanceConflict)

	// zero to zero is a no-op and creates nothing
	require.NoError(t, repo.SetBalance(ctx, nil, addrB, "0", "0"))
	_, err = repo.GetByAddress(ctx, addrB)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// an account drained to zero keeps its row
	require.NoError(t, repo.SetBalance(ctx, nil, addrA, "40", "0"))
	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "0", all[0].Balance)
}

func TestAccountRepository_SetBalanceRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.SetBalance(ctx, nil, addrA, "0", "100"))

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.SetBalance(ctx, tx, addrA, "100", "60"); err != nil {
			return err
		}
		return repo.SetBalance(ctx, tx, addrB, "7", "47")
	})
	require.ErrorIs(t, err, ErrBalanceConflict)

	acc, err := repo.GetByAddress(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, "100", acc.Balance)
}

func TestTransferRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewTransferRepository(db)
	ctx := context.Background()

	for i := uint64(1); i <= 4; i++ {
		from, to := addrA, addrB
		if i%2 == 0 {
			from, to = addrB, addrA
		}
		require.NoError(t, repo.Create(ctx, nil, &model.TransferRecord{
			TransferNo:        "TRF" + string(rune('0'+i)),
			Seq:               i,
			FromAddress:       from,
			ToAddress:         to,
			Value:             "1",
			FromBalanceBefore: "1",
			FromBalanceAfter:  "0",
			ToBalanceBefore:   "0",
			ToBalanceAfter:    "1",
		}))
	}

	rec, err := repo.GetBySeq(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, addrA, rec.FromAddress)

	rec, err = repo.GetBySeq(ctx, 99)
	assert.ErrorIs(t, err, ErrTransferNotFound)
	assert.Nil(t, rec)

	page, err := repo.ListSince(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Seq)
	assert.Equal(t, uint64(3), page[1].Seq)

	list, total, err := repo.ListByAddress(ctx, addrB, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, list, 3)
	assert.Equal(t, uint64(4), list[0].Seq)

	// seq is unique
	err = repo.Create(ctx, nil, &model.TransferRecord{TransferNo: "TRFX", Seq: 1, FromAddress: addrA, ToAddress: addrB,
		Value: "1", FromBalanceBefore: "1", FromBalanceAfter: "0", ToBalanceBefore: "0", ToBalanceAfter: "1"})
	assert.Error(t, err)
}

func TestMetaRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewMetaRepository(db)
	ctx := context.Background()

	_, err := repo.Get(ctx)
	assert.ErrorIs(t, err, ErrMetaNotFound)

	require.NoError(t, repo.Create(ctx, nil, &model.LedgerMeta{
		Name:        "LuxeCoin",
		Symbol:      "LUXE",
		Decimals:    18,
		TotalSupply: "220000000000000000000000000",
		Owner:       addrA,
	}))

	meta, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "220000000000000000000000000", meta.TotalSupply)
	assert.Zero(t, meta.LastSeq)

	require.NoError(t, repo.AdvanceSeq(ctx, nil, 0, 1))
	assert.ErrorIs(t, repo.AdvanceSeq(ctx, nil, 0, 1), ErrSeqConflict)

	meta, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta.LastSeq)
}

func TestOutboxRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for _, seq := range []uint64{2, 1, 3} {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: "LUXE",
			Topic:      "token.transfer",
			Seq:        seq,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}))
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{pending[0].Seq, pending[1].Seq, pending[2].Seq})

	require.NoError(t, repo.UpdateStatus(ctx, pending[0].ID, model.OutboxStatusSent))
	require.NoError(t, repo.IncrementRetryCount(ctx, pending[1].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, pending[2].ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	n, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
