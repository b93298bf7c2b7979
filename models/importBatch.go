package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ImportCount is the authoritative record accounting of one batch run.
// Imported + Skipped + Failed + Suspense must always equal Total; the engine
// bumps exactly one bucket per record.
type ImportCount struct {
	TotalRecords  int `json:"total_records"`
	ImportedCount int `json:"imported_count"`
	SkippedCount  int `json:"skipped_count"`
	FailedCount   int `json:"failed_count"`
	SuspenseCount int `json:"suspense_count"`
}

func (c ImportCount) Consistent() bool {
	return c.ImportedCount+c.SkippedCount+c.FailedCount+c.SuspenseCount == c.TotalRecords
}

type ImportBatch struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BusinessId string            `gorm:"index;not null" json:"business_id" binding:"required"`
	BatchNumber string           `gorm:"size:64;not null" json:"batch_number"`
	ImportType ImportType        `gorm:"size:20;not null" json:"import_type"`
	Status     ImportBatchStatus `gorm:"index;size:32;not null" json:"status"`
	TriggeredBy string           `gorm:"size:20" json:"triggered_by"`

	FileName      string           `gorm:"size:255" json:"file_name"`
	FileFormat    tally.FileFormat `gorm:"size:10" json:"file_format"`
	FileSizeBytes int64            `json:"file_size_bytes"`
	FileChecksum  string           `gorm:"size:64" json:"file_checksum"`
	FileContent   []byte           `gorm:"type:longblob" json:"-"`

	ImportCount

	TotalDebit  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_debit"`
	TotalCredit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_credit"`
	Imbalance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"imbalance"`

	SummaryJSON          datatypes.JSON `gorm:"type:json" json:"summary"`
	ValidationIssuesJSON datatypes.JSON `gorm:"type:json" json:"validation_issues"`
	ClassificationsJSON  datatypes.JSON `gorm:"type:json" json:"classifications"`
	ProgressJSON         datatypes.JSON `gorm:"type:json" json:"progress"`

	CancelRequested bool `gorm:"default:false" json:"cancel_requested"`

	ErrorMessage string `gorm:"type:text" json:"error_message"`

	RolledBackBy   string     `gorm:"size:255" json:"rolled_back_by"`
	RollbackReason string     `gorm:"type:text" json:"rollback_reason"`
	RolledBackAt   *time.Time `json:"rolled_back_at"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	DurationMs int64      `json:"duration_ms"`

	CreatedBy string    `gorm:"size:255" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *ImportBatch) GetId() int {
	return b.ID
}

// SuspenseItem is a record whose mapping fell all the way through to the
// suspense account, persisted so it can be reviewed and re-imported later.
type SuspenseItem struct {
	ID          int              `gorm:"primary_key" json:"id"`
	BatchId     int              `gorm:"index;not null" json:"batch_id"`
	BusinessId  string           `gorm:"index;not null" json:"business_id"`
	RecordType  tally.RecordType `gorm:"size:32;not null" json:"record_type"`
	SourceGuid  string           `gorm:"size:128" json:"source_guid"`
	SourceName  string           `gorm:"size:255" json:"source_name"`
	LedgerGroup string           `gorm:"size:255" json:"ledger_group"`
	Amount      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Reason      string           `gorm:"type:text" json:"reason"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// ImportErrorRecord is one per-record failure captured during a batch run.
type ImportErrorRecord struct {
	ID         int              `gorm:"primary_key" json:"id"`
	BatchId    int              `gorm:"index;not null" json:"batch_id"`
	BusinessId string           `gorm:"index;not null" json:"business_id"`
	RecordType tally.RecordType `gorm:"size:32" json:"record_type"`
	SourceGuid string           `gorm:"size:128" json:"source_guid"`
	SourceName string           `gorm:"size:255" json:"source_name"`
	ErrorCode  string           `gorm:"size:64" json:"error_code"`
	Message    string           `gorm:"type:text" json:"message"`
	Retryable  bool             `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

type NewImportBatch struct {
	ImportType    ImportType       `json:"import_type"`
	FileName      string           `json:"file_name" binding:"required"`
	FileFormat    tally.FileFormat `json:"file_format" binding:"required"`
	FileSizeBytes int64            `json:"file_size_bytes"`
	FileChecksum  string           `json:"file_checksum"`
	FileContent   []byte           `json:"-"`
	TriggeredBy   string           `json:"triggered_by"`
}

type ImportBatchesConnection struct {
	Edges    []*ImportBatchesEdge `json:"edges"`
	PageInfo *PageInfo            `json:"pageInfo"`
}

type ImportBatchesEdge struct {
	Cursor string       `json:"cursor"`
	Node   *ImportBatch `json:"node"`
}

func CreateImportBatch(ctx context.Context, input *NewImportBatch) (*ImportBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.FileFormat.Valid() {
		return nil, fmt.Errorf("unsupported file format %q", input.FileFormat)
	}
	importType, err := ParseImportType(string(input.ImportType))
	if err != nil {
		return nil, err
	}
	username, _ := utils.GetUsernameFromContext(ctx)

	seq, err := utils.ResourceCountWhere[ImportBatch](ctx, businessId, "1 = 1")
	if err != nil {
		return nil, err
	}

	batch := ImportBatch{
		BusinessId:    businessId,
		BatchNumber:   fmt.Sprintf("TI-%06d", seq+1),
		ImportType:    importType,
		Status:        BatchStatusUploaded,
		TriggeredBy:   input.TriggeredBy,
		FileName:      input.FileName,
		FileFormat:    input.FileFormat,
		FileSizeBytes: input.FileSizeBytes,
		FileChecksum:  input.FileChecksum,
		FileContent:   input.FileContent,
		CreatedBy:     username,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func GetImportBatch(ctx context.Context, id int) (*ImportBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ImportBatch](ctx, businessId, id)
}

// TransitionImportBatch moves the batch to the next status with a guarded
// compare-and-set so two workers can never both claim the same transition.
func TransitionImportBatch(ctx context.Context, batch *ImportBatch, next ImportBatchStatus) error {
	if !batch.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid status transition %s -> %s for batch %d", batch.Status, next, batch.ID)
	}

	db := config.GetDB()
	if db != nil {
		result := db.WithContext(ctx).Model(&ImportBatch{}).
			Where("id = ? AND status = ?", batch.ID, batch.Status).
			Update("status", next)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("batch %d status changed concurrently (expected %s)", batch.ID, batch.Status)
		}
	}
	batch.Status = next
	return nil
}

func SaveImportBatch(ctx context.Context, batch *ImportBatch) error {
	db := config.GetDB()
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).Save(batch).Error
}

// RequestImportCancel flips the cooperative cancellation flag. The running
// engine observes it between records; nothing is interrupted mid-record.
func RequestImportCancel(ctx context.Context, id int) (*ImportBatch, error) {
	batch, err := GetImportBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status != BatchStatusImporting {
		return nil, fmt.Errorf("batch %d is not importing (status %s)", id, batch.Status)
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(batch).Update("cancel_requested", true).Error; err != nil {
		return nil, err
	}
	batch.CancelRequested = true
	return batch, nil
}

// CancelRequestedForBatch re-reads only the cancellation flag.
func CancelRequestedForBatch(ctx context.Context, id int) bool {
	db := config.GetDB()
	if db == nil {
		return false
	}
	var flag bool
	err := db.WithContext(ctx).Model(&ImportBatch{}).
		Select("cancel_requested").Where("id = ?", id).Scan(&flag).Error
	if err != nil {
		return false
	}
	return flag
}

func PaginateImportBatches(ctx context.Context, limit *int, after *string, status *string) (*ImportBatchesConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	decodedCursor, _ := DecodeCursor(after)
	edges := make([]*ImportBatchesEdge, *limit)
	count := 0
	hasNextPage := false

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId).
		Omit("file_content")
	if status != nil && *status != "" {
		parsed, err := ParseImportBatchStatus(*status)
		if err != nil {
			return nil, err
		}
		dbCtx = dbCtx.Where("status = ?", parsed)
	}

	var results []*ImportBatch
	var err error
	if decodedCursor == "" {
		err = dbCtx.Order("created_at DESC").Limit(*limit + 1).Find(&results).Error
	} else {
		err = dbCtx.Order("created_at DESC").Limit(*limit+1).Where("created_at < ?", decodedCursor).Find(&results).Error
	}
	if err != nil {
		return nil, err
	}

	for _, batch := range results {
		if count == *limit {
			hasNextPage = true
			break
		}
		edges[count] = &ImportBatchesEdge{
			Cursor: EncodeCursor(batch.CreatedAt.Format(time.RFC3339Nano)),
			Node:   batch,
		}
		count++
	}
	edges = edges[:count]

	pageInfo := &PageInfo{HasNextPage: &hasNextPage}
	if count > 0 {
		pageInfo.StartCursor = edges[0].Cursor
		pageInfo.EndCursor = edges[count-1].Cursor
	}
	return &ImportBatchesConnection{Edges: edges, PageInfo: pageInfo}, nil
}

func ListSuspenseItems(ctx context.Context, batchId int) ([]*SuspenseItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var items []*SuspenseItem
	err := db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Order("id ASC").Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func ListImportErrors(ctx context.Context, batchId int) ([]*ImportErrorRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()
	var records []*ImportErrorRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND batch_id = ?", businessId, batchId).
		Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
