package repository

import (
	"context"
	"errors"

	"tokenledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("账户不存在")
	ErrBalanceConflict = errors.New("持久化余额与账本不一致")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByAddress(ctx context.Context, address string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListAll(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// SetBalance 将账户余额从 before 更新为 after
// 只有库中余额仍等于 before 时才更新（乐观锁），被其他写入者改过的行返回 ErrBalanceConflict
// 首次出现的地址没有记录，before 为 "0" 时新建
func (r *AccountRepository) SetBalance(ctx context.Context, tx *gorm.DB, address, before, after string) error {
	if tx == nil {
		tx = r.db
	}
	if before == "0" && after == "0" {
		return nil
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("address = ? AND balance = ?", address, before).
		Updates(map[string]interface{}{
			"balance": after,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if before != "0" {
		return ErrBalanceConflict
	}
	if err := tx.WithContext(ctx).Create(&model.Account{Address: address, Balance: after}).Error; err != nil {
		return errors.Join(ErrBalanceConflict, err)
	}
	return nil
}
