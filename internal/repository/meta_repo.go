package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrMetaNotFound = errors.New("账本元数据不存在")
	ErrSeqConflict  = errors.New("账本序号已被并发修改")
)

type MetaRepository struct {
	db *gorm.DB
}

func NewMetaRepository(db *gorm.DB) *MetaRepository {
	return &MetaRepository{db: db}
}

func (r *MetaRepository) Create(ctx context.Context, tx *gorm.DB, meta *model.LedgerMeta) error {
	if tx == nil {
		tx = r.db
	}
	meta.ID = model.LedgerMetaID
	return tx.WithContext(ctx).Create(meta).Error
}

func (r *MetaRepository) Get(ctx context.Context) (*model.LedgerMeta, error) {
	var meta model.LedgerMeta
	err := r.db.WithContext(ctx).Where("id = ?", model.LedgerMetaID).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMetaNotFound
		}
		return nil, err
	}
	return &meta, nil
}

// AdvanceSeq 将 last_seq 从 prev 推进到 next，已被其他写入者推进时返回 ErrSeqConflict
func (r *MetaRepository) AdvanceSeq(ctx context.Context, tx *gorm.DB, prev, next uint64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LedgerMeta{}).
		Where("id = ? AND last_seq = ?", model.LedgerMetaID, prev).
		Update("last_seq", next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSeqConflict
	}
	return nil
}
