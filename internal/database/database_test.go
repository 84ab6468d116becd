package database

import (
	"testing"

	"github.com/almatkai/woolet-sub002/internal/config"
	"github.com/almatkai/woolet-sub002/internal/models"

	"github.com/alecthomas/assert/v2"
)

func TestInitAndSeed(t *testing.T) {
	db, err := Init(config.DatabaseConfig{Driver: "sqlite", Path: "file:seedtest?mode=memory&cache=shared"})
	assert.NoError(t, err)
	assert.NoError(t, AutoMigrate(db))

	reg, err := SeedCategories(db)
	assert.NoError(t, err)
	assert.Equal(t, len(systemCategories), len(reg))
	assert.NotZero(t, reg[models.CategoryKeyDebt])

	// seeding again must not create duplicates or change ids
	again, err := SeedCategories(db)
	assert.NoError(t, err)
	assert.Equal(t, reg, again)

	var count int64
	assert.NoError(t, db.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(len(systemCategories)), count)
}

func TestRegistryID(t *testing.T) {
	reg := Registry{models.CategoryKeyDebt: 7}
	id := reg.ID(models.CategoryKeyDebt)
	assert.NotZero(t, id)
	assert.Equal(t, uint(7), *id)
	assert.Zero(t, reg.ID("nope"))
}

func TestInitUnknownDriver(t *testing.T) {
	_, err := Init(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)

	_, err = Init(config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
}
