package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateCustomer(ctx context.Context, customer *Customer) error {
	return d.db.WithContext(ctx).Create(customer).Error
}

func (d *Database) GetCustomerByID(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	if err := d.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (d *Database) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var customer Customer
	if err := d.db.WithContext(ctx).Where("email = ?", email).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// RevokeToken stores a token id as revoked. Revoking twice is a no-op.
func (d *Database) RevokeToken(ctx context.Context, token *RevokedToken) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token_id"}}, DoNothing: true}).
		Create(token).Error
}

func (d *Database) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int64
	if err := d.db.WithContext(ctx).Model(&RevokedToken{}).Where("token_id = ?", tokenID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// PurgeExpiredRevocations drops revocation rows for tokens that have expired
func (d *Database) PurgeExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Unscoped().Where("expires_at < ?", now.UTC()).Delete(&RevokedToken{})
	return result.RowsAffected, result.Error
}
