package database

import (
	"fmt"

	"github.com/almatkai/woolet-sub002/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type systemCategory struct {
	key, name, typ string
}

var systemCategories = []systemCategory{
	{models.CategoryKeyDebt, "Debt", "any"},
	{models.CategoryKeyDebtPayment, "Debt payment", "any"},
	{models.CategoryKeySplitPayback, "Split payback", "income"},
	{models.CategoryKeyTransfer, "Transfer", "any"},
	{models.CategoryKeyInvestment, "Investment", "any"},
	{models.CategoryKeyCreditPayment, "Credit payment", "expense"},
	{models.CategoryKeyMortgagePayment, "Mortgage payment", "expense"},
	{models.CategoryKeySubscription, "Subscription", "expense"},
}

// Registry maps well-known category keys to their ids. It is immutable after SeedCategories.
type Registry map[string]uint

// ID returns the category id for key, or nil when the key was never seeded.
func (r Registry) ID(key string) *uint {
	id, ok := r[key]
	if !ok {
		return nil
	}
	return &id
}

// SeedCategories upserts the system categories by key and returns their ids.
// Running it repeatedly, or from several processes, leaves exactly one row per key.
func SeedCategories(db *gorm.DB) (Registry, error) {
	reg := make(Registry, len(systemCategories))
	for _, sc := range systemCategories {
		key := sc.key
		row := models.Category{Key: &key, Name: sc.name, Type: sc.typ}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category_key"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return nil, fmt.Errorf("seed category %s: %w", key, err)
		}

		var stored models.Category
		if err := db.Where("category_key = ?", key).First(&stored).Error; err != nil {
			return nil, fmt.Errorf("load category %s: %w", key, err)
		}
		reg[key] = stored.ID
	}
	return reg, nil
}
