package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/alwitt/quickvault/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/*
UpsertKeySlot write a wrapped KEK slot, replacing any slot of the same kind

	@param ctx context.Context - execution context
	@param slot models.KeySlot - the slot to write
*/
func (d *databaseImpl) UpsertKeySlot(_ context.Context, slot models.KeySlot) error {
	newEntry := KeySlotDBEntry{KeySlot: slot}
	if err := d.validator.Struct(&newEntry); err != nil {
		return fmt.Errorf("key slot '%s' entry is not valid [%w]", slot.Kind, err)
	}

	tmp := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		UpdateAll: true,
	}).Create(&newEntry)
	if tmp.Error != nil {
		return fmt.Errorf("key slot '%s' upsert failed [%w]", slot.Kind, tmp.Error)
	}
	d.markTouched(KeySlotDBEntry{}.TableName())

	return nil
}

/*
GetKeySlot fetch one wrapped KEK slot

	@param ctx context.Context - execution context
	@param kind models.KeySlotKindENUMType - the slot kind
	@return slot entry
*/
func (d *databaseImpl) GetKeySlot(
	_ context.Context, kind models.KeySlotKindENUMType,
) (models.KeySlot, error) {
	var entry KeySlotDBEntry
	err := d.db.Where("kind = ?", kind).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.KeySlot{}, &models.NotFoundError{Kind: "key-slot", ID: string(kind)}
	}
	if err != nil {
		return models.KeySlot{}, fmt.Errorf("failed to fetch key slot '%s' [%w]", kind, err)
	}
	return entry.KeySlot, nil
}

/*
ListKeySlots list all wrapped KEK slots

	@param ctx context.Context - execution context
	@return list of slots
*/
func (d *databaseImpl) ListKeySlots(_ context.Context) ([]models.KeySlot, error) {
	var entries []KeySlotDBEntry
	if tmp := d.db.Order("kind").Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list key slots [%w]", tmp.Error)
	}

	result := []models.KeySlot{}
	for _, entry := range entries {
		result = append(result, entry.KeySlot)
	}

	return result, nil
}

/*
DeleteKeySlot delete one wrapped KEK slot

	@param ctx context.Context - execution context
	@param kind models.KeySlotKindENUMType - the slot kind
*/
func (d *databaseImpl) DeleteKeySlot(_ context.Context, kind models.KeySlotKindENUMType) error {
	tmp := d.db.Where("kind = ?", kind).Delete(&KeySlotDBEntry{})
	if tmp.Error != nil {
		return fmt.Errorf("failed to delete key slot '%s' [%w]", kind, tmp.Error)
	}
	if tmp.RowsAffected == 0 {
		return &models.NotFoundError{Kind: "key-slot", ID: string(kind)}
	}
	d.markTouched(KeySlotDBEntry{}.TableName())

	return nil
}

/*
DeleteAllKeySlots delete every wrapped KEK slot

	@param ctx context.Context - execution context
*/
func (d *databaseImpl) DeleteAllKeySlots(_ context.Context) error {
	if tmp := d.db.Where("1 = 1").Delete(&KeySlotDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete key slots [%w]", tmp.Error)
	}
	d.markTouched(KeySlotDBEntry{}.TableName())
	return nil
}
