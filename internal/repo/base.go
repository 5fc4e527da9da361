package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Base is embedded by the cadence, quota and suppression repositories. Every
// query method accepts an optional tx so it runs standalone or inside WithTx.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Tx returns tx bound to ctx when a transaction is in flight, otherwise the base connection.
func (b Base) Tx(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return b.DB(ctx)
	}
	if ctx == nil {
		return tx
	}
	return tx.WithContext(ctx)
}

// TakeOptional runs query.Take and reports a missing row as (nil, nil).
// Lookups where absence is a normal answer (no active run, no suppression,
// no usage yet) go through here.
func TakeOptional[T any](query *gorm.DB) (*T, error) {
	var row T
	err := query.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
