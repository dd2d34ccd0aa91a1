package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
)

var ErrTransferNotFound = errors.New("转账记录不存在")

type TransferRepository struct {
	db *gorm.DB
}

func NewTransferRepository(db *gorm.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, tx *gorm.DB, rec *model.TransferRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(rec).Error
}

func (r *TransferRepository) GetBySeq(ctx context.Context, seq uint64) (*model.TransferRecord, error) {
	var rec model.TransferRecord
	err := r.db.WithContext(ctx).Where("seq = ?", seq).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListSince 按提交顺序返回 seq 大于 since 的记录，最多 limit 条
func (r *TransferRepository) ListSince(ctx context.Context, since uint64, limit int) ([]*model.TransferRecord, error) {
	var records []*model.TransferRecord
	err := r.db.WithContext(ctx).
		Where("seq > ?", since).
		Order("seq ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// ListByAddress 分页查询地址相关的转账，按 seq 倒序
func (r *TransferRepository) ListByAddress(ctx context.Context, address string, page, pageSize int) ([]*model.TransferRecord, int64, error) {
	var records []*model.TransferRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TransferRecord{}).
		Where("from_address = ? OR to_address = ?", address, address)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("seq DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
