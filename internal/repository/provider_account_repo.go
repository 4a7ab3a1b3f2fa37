package repository

import (
	"context"
	"errors"

	"lexpay/internal/model"

	"gorm.io/gorm"
)

type ProviderAccountRepository struct {
	db *gorm.DB
}

func NewProviderAccountRepository(db *gorm.DB) *ProviderAccountRepository {
	return &ProviderAccountRepository{db: db}
}

func (r *ProviderAccountRepository) GetPayoutAccount(ctx context.Context, providerID string) (*model.ProviderAccount, error) {
	var account model.ProviderAccount
	err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}
