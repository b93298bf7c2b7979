package models

import (
	"context"
	"errors"
	"time"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/utils"
)

const (
	MappingScopeLedger = "ledger"
	MappingScopeGroup  = "group"
)

// ImportMappingOverride pins one source ledger (or a whole ledger group) to
// a target entity, taking precedence over the default group mapping. Ledger
// scoped rows win over group scoped ones.
type ImportMappingOverride struct {
	ID         int              `gorm:"primary_key" json:"id"`
	BusinessId string           `gorm:"uniqueIndex:idx_import_mapping,priority:1;not null" json:"business_id"`
	BatchId    int              `gorm:"uniqueIndex:idx_import_mapping,priority:2;not null" json:"batch_id"`
	Scope      string           `gorm:"uniqueIndex:idx_import_mapping,priority:3;size:10;not null" json:"scope"`
	SourceName string           `gorm:"uniqueIndex:idx_import_mapping,priority:4;size:255;not null" json:"source_name"`
	TargetKind TargetEntityKind `gorm:"size:32;not null" json:"target_kind"`
	TargetId   int              `gorm:"not null" json:"target_id"`
	CreatedBy  string           `gorm:"size:255" json:"created_by"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMappingOverride struct {
	Scope      string `json:"scope" binding:"required,oneof=ledger group"`
	SourceName string `json:"source_name" binding:"required"`
	TargetKind string `json:"target_kind" binding:"required"`
	TargetId   int    `json:"target_id" binding:"required,gt=0"`
}

// ReplaceMappingOverrides swaps the full override set for a batch in one
// transaction. Configuring mappings is idempotent: the latest call wins.
func ReplaceMappingOverrides(ctx context.Context, batchId int, inputs []NewMappingOverride) ([]ImportMappingOverride, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	username, _ := utils.GetUsernameFromContext(ctx)

	rows := make([]ImportMappingOverride, 0, len(inputs))
	for _, input := range inputs {
		kind, err := ParseTargetEntityKind(input.TargetKind)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ImportMappingOverride{
			BusinessId: businessId,
			BatchId:    batchId,
			Scope:      input.Scope,
			SourceName: input.SourceName,
			TargetKind: kind,
			TargetId:   input.TargetId,
			CreatedBy:  username,
		})
	}

	db := config.GetDB()
	tx := db.Begin()
	err := tx.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Delete(&ImportMappingOverride{}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(rows) > 0 {
		if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func ListMappingOverrides(ctx context.Context, batchId int) ([]ImportMappingOverride, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var rows []ImportMappingOverride
	err := db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
