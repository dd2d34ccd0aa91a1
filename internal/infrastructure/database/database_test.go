package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlog "gorm.io/gorm/logger"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	db, err := Open(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: path})
	require.NoError(t, err)

	for _, table := range []interface{}{&model.LedgerMeta{}, &model.Account{}, &model.TransferRecord{}, &model.OutboxMessage{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestZapGormLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(&config.DatabaseConfig{Driver: config.DriverSQLite, Path: path, LogSQL: true}, WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}()

	require.NoError(t, db.Create(&model.Account{Address: "0xabc", Balance: "1"}).Error)
	assert.NotZero(t, logs.FilterMessage("执行SQL").Len())

	// unique index violation is logged as a failed statement
	assert.Error(t, db.Create(&model.Account{Address: "0xabc", Balance: "2"}).Error)
	assert.Equal(t, 1, logs.FilterMessage("SQL执行失败").Len())

	// not found is an expected outcome, not an error
	var acc model.Account
	assert.Error(t, db.Where("address = ?", "0xdef").First(&acc).Error)
	assert.Equal(t, 1, logs.FilterMessage("SQL执行失败").Len())

	quiet := NewZapGormLogger(zap.New(core), gormlog.Silent)
	before := logs.Len()
	quiet.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Equal(t, before, logs.Len())
}
