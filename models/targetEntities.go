package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Books-side tables that imported records land in. Every row carries the
// source guid and the batch id that created it so retries can skip it and
// rollback can find it.

type Account struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	ParentGroup    string          `gorm:"size:255" json:"parent_group"`
	IsBankAccount  bool            `gorm:"default:false" json:"is_bank_account"`
	BankName       string          `gorm:"size:255" json:"bank_name"`
	BankAccountNo  string          `gorm:"size:64" json:"bank_account_no"`
	BankIFSC       string          `gorm:"size:20" json:"bank_ifsc"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_balance"`
	SourceGuid     string          `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId  int             `gorm:"index" json:"import_batch_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Customer struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	GSTIN         string    `gorm:"size:20" json:"gstin"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Vendor struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	GSTIN         string    `gorm:"size:20" json:"gstin"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type CurrencyEntity struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	Symbol        string          `gorm:"size:10;not null" json:"symbol"`
	Name          string          `gorm:"size:255" json:"name"`
	DecimalPlaces int             `gorm:"default:2" json:"decimal_places"`
	ExchangeRate  decimal.Decimal `gorm:"type:decimal(20,6);default:1" json:"exchange_rate"`
	SourceGuid    string          `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int             `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (CurrencyEntity) TableName() string {
	return "currencies"
}

type UnitEntity struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:64;not null" json:"name"`
	FormalName    string    `gorm:"size:255" json:"formal_name"`
	DecimalPlaces int       `gorm:"default:0" json:"decimal_places"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UnitEntity) TableName() string {
	return "units"
}

type StockGroupEntity struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Parent        string    `gorm:"size:255" json:"parent"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (StockGroupEntity) TableName() string {
	return "stock_groups"
}

type StockItemEntity struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	GroupName     string          `gorm:"size:255" json:"group_name"`
	BaseUnit      string          `gorm:"size:64" json:"base_unit"`
	HSNCode       string          `gorm:"size:16" json:"hsn_code"`
	GSTRate       decimal.Decimal `gorm:"type:decimal(6,2);default:0" json:"gst_rate"`
	OpeningQty    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_qty"`
	OpeningValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"opening_value"`
	SourceGuid    string          `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int             `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (StockItemEntity) TableName() string {
	return "stock_items"
}

type Warehouse struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Address       string    `gorm:"type:text" json:"address"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CostCategoryEntity struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CostCategoryEntity) TableName() string {
	return "cost_categories"
}

type CostCenterEntity struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"index;not null" json:"business_id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Category      string    `gorm:"size:255" json:"category"`
	SourceGuid    string    `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId int       `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CostCenterEntity) TableName() string {
	return "cost_centers"
}

type JournalEntry struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	Number          string          `gorm:"size:64" json:"number"`
	EntryDate       time.Time       `gorm:"not null" json:"entry_date"`
	Notes           string          `gorm:"type:text" json:"notes"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Lines           []JournalLine   `gorm:"foreignKey:JournalEntryId" json:"lines"`
	SourceGuid      string          `gorm:"index;size:128" json:"source_guid"`
	ImportBatchId   int             `gorm:"index" json:"import_batch_id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type JournalLine struct {
	ID             int              `gorm:"primary_key" json:"id"`
	JournalEntryId int              `gorm:"index;not null" json:"journal_entry_id"`
	AccountKind    TargetEntityKind `gorm:"size:32;not null" json:"account_kind"`
	AccountId      int              `gorm:"index;not null" json:"account_id"`
	Description    string           `gorm:"size:255" json:"description"`
	Debit          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit         decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"credit"`
}

type StockMovement struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	StockItemId   int             `gorm:"index;not null" json:"stock_item_id"`
	WarehouseId   int             `gorm:"index" json:"warehouse_id"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Rate          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	ImportBatchId int             `gorm:"index" json:"import_batch_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
