package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/himanshudhami/invoicex/config"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormTargetRepository is the production TargetRepository backed by the
// shared database connection.
type GormTargetRepository struct{}

func NewTargetRepository() *GormTargetRepository {
	return &GormTargetRepository{}
}

func (r *GormTargetRepository) db(ctx context.Context) (*gorm.DB, string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, "", errors.New("business id is required")
	}
	db := config.GetDB()
	if db == nil {
		return nil, "", errors.New("database is not connected")
	}
	return db.WithContext(ctx), businessId, nil
}

func (r *GormTargetRepository) FindByExternalRef(ctx context.Context, recordType tally.RecordType, sourceGuid string) (TargetEntityKind, int, bool, error) {
	ref, err := FindEntityRef(ctx, recordType, sourceGuid)
	if err != nil {
		return "", 0, false, err
	}
	if ref == nil {
		return "", 0, false, nil
	}
	return ref.TargetKind, ref.TargetId, true, nil
}

func (r *GormTargetRepository) CreateRecord(ctx context.Context, batchId int, record TargetRecord) (int, error) {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return 0, err
	}
	if record.Name == "" {
		return 0, fmt.Errorf("record of type %s has no name", record.RecordType)
	}

	switch record.RecordType {
	case tally.RecordTypeCurrency:
		row := CurrencyEntity{
			BusinessId:    businessId,
			Symbol:        record.Name,
			Name:          fieldString(record.Fields, "name"),
			DecimalPlaces: fieldInt(record.Fields, "decimal_places", 2),
			ExchangeRate:  fieldDecimal(record.Fields, "exchange_rate"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeUnit:
		row := UnitEntity{
			BusinessId:    businessId,
			Name:          record.Name,
			FormalName:    fieldString(record.Fields, "formal_name"),
			DecimalPlaces: fieldInt(record.Fields, "decimal_places", 0),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeStockGroup:
		row := StockGroupEntity{
			BusinessId:    businessId,
			Name:          record.Name,
			Parent:        fieldString(record.Fields, "parent"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeStockItem:
		row := StockItemEntity{
			BusinessId:    businessId,
			Name:          record.Name,
			GroupName:     fieldString(record.Fields, "parent"),
			BaseUnit:      fieldString(record.Fields, "base_unit"),
			HSNCode:       fieldString(record.Fields, "hsn_code"),
			GSTRate:       fieldDecimal(record.Fields, "gst_rate"),
			OpeningQty:    fieldDecimal(record.Fields, "opening_qty"),
			OpeningValue:  fieldDecimal(record.Fields, "opening_value"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeGodown:
		row := Warehouse{
			BusinessId:    businessId,
			Name:          record.Name,
			Address:       fieldString(record.Fields, "address"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeCostCategory:
		row := CostCategoryEntity{
			BusinessId:    businessId,
			Name:          record.Name,
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeCostCenter:
		row := CostCenterEntity{
			BusinessId:    businessId,
			Name:          record.Name,
			Category:      fieldString(record.Fields, "category"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil

	case tally.RecordTypeLedger:
		return r.createLedgerRecord(db, businessId, batchId, record)
	}
	return 0, fmt.Errorf("record type %s cannot be written as a master record", record.RecordType)
}

// createLedgerRecord routes a ledger to the table its resolved kind demands.
func (r *GormTargetRepository) createLedgerRecord(db *gorm.DB, businessId string, batchId int, record TargetRecord) (int, error) {
	switch record.Kind {
	case TargetKindCustomer:
		row := Customer{
			BusinessId:    businessId,
			Name:          record.Name,
			GSTIN:         fieldString(record.Fields, "gstin"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil
	case TargetKindVendor:
		row := Vendor{
			BusinessId:    businessId,
			Name:          record.Name,
			GSTIN:         fieldString(record.Fields, "gstin"),
			SourceGuid:    record.SourceGuid,
			ImportBatchId: batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil
	default:
		row := Account{
			BusinessId:     businessId,
			Name:           record.Name,
			ParentGroup:    fieldString(record.Fields, "parent"),
			IsBankAccount:  record.Kind == TargetKindBankAccount,
			BankName:       fieldString(record.Fields, "bank_name"),
			BankAccountNo:  fieldString(record.Fields, "bank_account_number"),
			BankIFSC:       fieldString(record.Fields, "bank_ifsc"),
			OpeningBalance: fieldDecimal(record.Fields, "opening_balance"),
			SourceGuid:     record.SourceGuid,
			ImportBatchId:  batchId,
		}
		if err := db.Create(&row).Error; err != nil {
			return 0, err
		}
		return row.ID, nil
	}
}

func (r *GormTargetRepository) CreateJournalEntry(ctx context.Context, batchId int, entry TargetJournalEntry) (int, error) {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return 0, err
	}
	debit, credit := entry.Totals()
	if !debit.Equal(credit) {
		return 0, fmt.Errorf("journal %s is unbalanced: debit %s vs credit %s", entry.Number, debit, credit)
	}

	row := JournalEntry{
		BusinessId:      businessId,
		Number:          entry.Number,
		EntryDate:       entry.Date,
		Notes:           entry.Notes,
		ReferenceNumber: entry.ReferenceNumber,
		TotalAmount:     debit,
		SourceGuid:      entry.SourceGuid,
		ImportBatchId:   batchId,
	}
	for _, line := range entry.Lines {
		row.Lines = append(row.Lines, JournalLine{
			AccountKind: line.AccountKind,
			AccountId:   line.AccountId,
			Description: line.Description,
			Debit:       line.Debit,
			Credit:      line.Credit,
		})
	}
	if err := db.Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (r *GormTargetRepository) ApplyStockMovement(ctx context.Context, batchId int, movement TargetStockMovement) error {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return err
	}
	row := StockMovement{
		BusinessId:    businessId,
		StockItemId:   movement.StockItemId,
		WarehouseId:   movement.WarehouseId,
		Qty:           movement.Qty,
		Rate:          movement.Rate,
		Amount:        movement.Amount,
		ImportBatchId: batchId,
	}
	return db.Create(&row).Error
}

func (r *GormTargetRepository) DeleteByBatchTag(ctx context.Context, batchId int, recordType tally.RecordType) (int, error) {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return 0, err
	}

	refs, err := ListEntityRefsForBatch(ctx, batchId, recordType)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.TargetId)
	}

	switch recordType {
	case tally.RecordTypeVoucher, tally.RecordTypeOpeningBalance:
		err = db.Where("journal_entry_id IN ?", ids).Delete(&JournalLine{}).Error
		if err != nil {
			return 0, err
		}
		err = db.Where("business_id = ? AND id IN ?", businessId, ids).Delete(&JournalEntry{}).Error
		if err != nil {
			return 0, err
		}
		if recordType == tally.RecordTypeVoucher {
			err = db.Where("business_id = ? AND import_batch_id = ?", businessId, batchId).Delete(&StockMovement{}).Error
			if err != nil {
				return 0, err
			}
		}
		return len(ids), nil
	}
	return 0, fmt.Errorf("record type %s must be rolled back row by row", recordType)
}

func (r *GormTargetRepository) ReferencedOutsideBatch(ctx context.Context, batchId int, kind TargetEntityKind, id int) (bool, error) {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	var count int64
	switch kind {
	case TargetKindAccount, TargetKindBankAccount, TargetKindCustomer, TargetKindVendor, TargetKindSuspense:
		err = db.Model(&JournalLine{}).
			Joins("JOIN journal_entries ON journal_entries.id = journal_lines.journal_entry_id").
			Where("journal_entries.business_id = ? AND journal_entries.import_batch_id <> ?", businessId, batchId).
			Where("journal_lines.account_kind = ? AND journal_lines.account_id = ?", kind, id).
			Count(&count).Error
	case TargetKindStockItem:
		err = db.Model(&StockMovement{}).
			Where("business_id = ? AND import_batch_id <> ? AND stock_item_id = ?", businessId, batchId, id).
			Count(&count).Error
	case TargetKindWarehouse:
		err = db.Model(&StockMovement{}).
			Where("business_id = ? AND import_batch_id <> ? AND warehouse_id = ?", businessId, batchId, id).
			Count(&count).Error
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormTargetRepository) DeleteRecord(ctx context.Context, kind TargetEntityKind, id int) error {
	db, businessId, err := r.db(ctx)
	if err != nil {
		return err
	}

	var model interface{}
	switch kind {
	case TargetKindAccount, TargetKindBankAccount, TargetKindSuspense:
		model = &Account{}
	case TargetKindCustomer:
		model = &Customer{}
	case TargetKindVendor:
		model = &Vendor{}
	case TargetKindCurrency:
		model = &CurrencyEntity{}
	case TargetKindUnit:
		model = &UnitEntity{}
	case TargetKindStockGroup:
		model = &StockGroupEntity{}
	case TargetKindStockItem:
		model = &StockItemEntity{}
	case TargetKindWarehouse:
		model = &Warehouse{}
	case TargetKindCostCategory:
		model = &CostCategoryEntity{}
	case TargetKindCostCenter:
		model = &CostCenterEntity{}
	default:
		return fmt.Errorf("cannot delete record of kind %s", kind)
	}
	return db.Where("business_id = ? AND id = ?", businessId, id).Delete(model).Error
}

/* field bag accessors */

func fieldString(fields map[string]interface{}, key string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func fieldInt(fields map[string]interface{}, key string, def int) int {
	if fields == nil {
		return def
	}
	if v, ok := fields[key].(int); ok {
		return v
	}
	return def
}

func fieldDecimal(fields map[string]interface{}, key string) decimal.Decimal {
	if fields == nil {
		return decimal.Zero
	}
	if v, ok := fields[key].(decimal.Decimal); ok {
		return v
	}
	return decimal.Zero
}
