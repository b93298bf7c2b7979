package models

import (
	"context"
	"errors"
	"time"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
	"gorm.io/gorm"
)

// ImportEntityRef ties a source record guid to the target row it created.
// It is both the idempotency check (a guid already present is skipped on
// retry) and the rollback manifest (everything tagged with a batch id is
// what that batch created).
type ImportEntityRef struct {
	ID         int              `gorm:"primary_key" json:"id"`
	BusinessId string           `gorm:"uniqueIndex:idx_import_entity_ref,priority:1;not null" json:"business_id"`
	RecordType tally.RecordType `gorm:"uniqueIndex:idx_import_entity_ref,priority:2;size:32;not null" json:"record_type"`
	SourceGuid string           `gorm:"uniqueIndex:idx_import_entity_ref,priority:3;size:128;not null" json:"source_guid"`
	BatchId    int              `gorm:"index;not null" json:"batch_id"`
	TargetKind TargetEntityKind `gorm:"size:32;not null" json:"target_kind"`
	TargetId   int              `gorm:"not null" json:"target_id"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// FindEntityRef returns nil without error when the guid has never been
// imported for this business.
func FindEntityRef(ctx context.Context, recordType tally.RecordType, sourceGuid string) (*ImportEntityRef, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil || sourceGuid == "" {
		return nil, nil
	}
	var ref ImportEntityRef
	err := db.WithContext(ctx).
		Where("business_id = ? AND record_type = ? AND source_guid = ?", businessId, recordType, sourceGuid).
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func RecordEntityRef(ctx context.Context, batchId int, recordType tally.RecordType, sourceGuid string, targetKind TargetEntityKind, targetId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil || sourceGuid == "" {
		return nil
	}
	ref := ImportEntityRef{
		BusinessId: businessId,
		RecordType: recordType,
		SourceGuid: sourceGuid,
		BatchId:    batchId,
		TargetKind: targetKind,
		TargetId:   targetId,
	}
	return db.WithContext(ctx).Create(&ref).Error
}

func ListEntityRefsForBatch(ctx context.Context, batchId int, recordType tally.RecordType) ([]ImportEntityRef, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var refs []ImportEntityRef
	err := db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ? AND record_type = ?", businessId, batchId, recordType).
		Order("id ASC").Find(&refs).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func DeleteEntityRef(ctx context.Context, refId int) error {
	db := config.GetDB()
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).Delete(&ImportEntityRef{}, refId).Error
}

func DeleteEntityRefsForBatch(ctx context.Context, batchId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Delete(&ImportEntityRef{}).Error
}
