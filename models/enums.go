package models

import (
	"errors"
	"fmt"
)

// ImportBatchStatus is the lifecycle state of an import batch. Transitions
// are restricted to the batchTransitions table; everything else is rejected
// so a batch can never silently jump states.
type ImportBatchStatus string

const (
	BatchStatusUploaded          ImportBatchStatus = "uploaded"
	BatchStatusParsing           ImportBatchStatus = "parsing"
	BatchStatusParsed            ImportBatchStatus = "parsed"
	BatchStatusMappingConfigured ImportBatchStatus = "mapping_configured"
	BatchStatusImporting         ImportBatchStatus = "importing"
	BatchStatusCompleted         ImportBatchStatus = "completed"
	BatchStatusFailed            ImportBatchStatus = "failed"
	BatchStatusRolledBack        ImportBatchStatus = "rolled_back"
)

var batchTransitions = map[ImportBatchStatus][]ImportBatchStatus{
	BatchStatusUploaded:          {BatchStatusParsing},
	BatchStatusParsing:           {BatchStatusParsed, BatchStatusFailed},
	BatchStatusParsed:            {BatchStatusMappingConfigured, BatchStatusParsing},
	BatchStatusMappingConfigured: {BatchStatusImporting, BatchStatusMappingConfigured, BatchStatusParsing},
	BatchStatusImporting:         {BatchStatusCompleted, BatchStatusFailed},
	BatchStatusCompleted:         {BatchStatusRolledBack},
	BatchStatusFailed:            {BatchStatusRolledBack},
	BatchStatusRolledBack:        {},
}

func (s ImportBatchStatus) CanTransitionTo(next ImportBatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further state change is possible except
// rollback.
func (s ImportBatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusRolledBack
}

func (s ImportBatchStatus) Rollbackable() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

func ParseImportBatchStatus(str string) (ImportBatchStatus, error) {
	switch ImportBatchStatus(str) {
	case BatchStatusUploaded, BatchStatusParsing, BatchStatusParsed,
		BatchStatusMappingConfigured, BatchStatusImporting,
		BatchStatusCompleted, BatchStatusFailed, BatchStatusRolledBack:
		return ImportBatchStatus(str), nil
	}
	return "", fmt.Errorf("invalid import batch status %q", str)
}

type ImportType string

const (
	ImportTypeFull        ImportType = "full"
	ImportTypeIncremental ImportType = "incremental"
)

func ParseImportType(str string) (ImportType, error) {
	switch ImportType(str) {
	case ImportTypeFull, ImportTypeIncremental:
		return ImportType(str), nil
	case "":
		return ImportTypeFull, nil
	}
	return "", fmt.Errorf("invalid import type %q", str)
}

// ImportPhase is the coarse progress phase reported while a batch runs.
type ImportPhase string

const (
	PhaseMasters         ImportPhase = "masters"
	PhaseOpeningBalances ImportPhase = "opening_balances"
	PhaseVouchers        ImportPhase = "vouchers"
	PhaseFinalizing      ImportPhase = "finalizing"
)

// TargetEntityKind names a record family in the books database that
// imported source records resolve to.
type TargetEntityKind string

const (
	TargetKindAccount        TargetEntityKind = "account"
	TargetKindBankAccount    TargetEntityKind = "bank_account"
	TargetKindCustomer       TargetEntityKind = "customer"
	TargetKindVendor         TargetEntityKind = "vendor"
	TargetKindStockItem      TargetEntityKind = "stock_item"
	TargetKindStockGroup     TargetEntityKind = "stock_group"
	TargetKindWarehouse      TargetEntityKind = "warehouse"
	TargetKindUnit           TargetEntityKind = "unit"
	TargetKindCurrency       TargetEntityKind = "currency"
	TargetKindCostCategory   TargetEntityKind = "cost_category"
	TargetKindCostCenter     TargetEntityKind = "cost_center"
	TargetKindJournalEntry   TargetEntityKind = "journal_entry"
	TargetKindSuspense       TargetEntityKind = "suspense"
)

func ParseTargetEntityKind(str string) (TargetEntityKind, error) {
	kinds := map[string]TargetEntityKind{
		"account":       TargetKindAccount,
		"bank_account":  TargetKindBankAccount,
		"customer":      TargetKindCustomer,
		"vendor":        TargetKindVendor,
		"stock_item":    TargetKindStockItem,
		"stock_group":   TargetKindStockGroup,
		"warehouse":     TargetKindWarehouse,
		"unit":          TargetKindUnit,
		"currency":      TargetKindCurrency,
		"cost_category": TargetKindCostCategory,
		"cost_center":   TargetKindCostCenter,
		"journal_entry": TargetKindJournalEntry,
		"suspense":      TargetKindSuspense,
	}
	kind, ok := kinds[str]
	if !ok {
		return "", errors.New("invalid target entity kind")
	}
	return kind, nil
}

const (
	ImportTriggeredManual = "manual"
	ImportTriggeredRetry  = "retry"
	ImportTriggeredSystem = "system"
)
