package models

import "github.com/himanshudhami/invoicex/config"

func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&ImportBatch{},
		&ImportMappingOverride{},
		&ImportEntityRef{},
		&SuspenseItem{},
		&ImportErrorRecord{},

		&Account{},
		&Customer{},
		&Vendor{},
		&CurrencyEntity{},
		&UnitEntity{},
		&StockGroupEntity{},
		&StockItemEntity{},
		&Warehouse{},
		&CostCategoryEntity{},
		&CostCenterEntity{},
		&JournalEntry{},
		&JournalLine{},
		&StockMovement{},
	)
}
