package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/almatkai/woolet-sub002/internal/apperr"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RateSource answers how many units of `to` one unit of `from` buys.
// Rates are fetched by an external job; this side only reads them.
type RateSource interface {
	Rate(ctx context.Context, tx *gorm.DB, from, to string) (decimal.Decimal, error)
}

// TableRateSource reads the currency_rates table, falling back to the inverse pair.
type TableRateSource struct{}

func (TableRateSource) Rate(ctx context.Context, tx *gorm.DB, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	var r models.CurrencyRate
	err := tx.WithContext(ctx).Where("from_currency = ? AND to_currency = ?", from, to).First(&r).Error
	if err == nil {
		return r.Rate, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, fmt.Errorf("load rate %s/%s: %w", from, to, err)
	}

	err = tx.WithContext(ctx).Where("from_currency = ? AND to_currency = ?", to, from).First(&r).Error
	if err == nil && !r.Rate.IsZero() {
		return decimal.NewFromInt(1).DivRound(r.Rate, 10), nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, fmt.Errorf("load rate %s/%s: %w", to, from, err)
	}
	return decimal.Zero, apperr.BadRequest("no exchange rate for %s to %s; pass exchangeRate", from, to)
}
