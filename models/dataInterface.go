package models

import (
	"context"
	"time"

	"github.com/himanshudhami/invoicex/tally"
	"github.com/shopspring/decimal"
)

// TargetRecord is the flattened write payload for one master record headed
// into the books database.
type TargetRecord struct {
	RecordType tally.RecordType
	Kind       TargetEntityKind
	SourceGuid string
	Name       string
	Fields     map[string]interface{}
}

type TargetJournalLine struct {
	AccountKind TargetEntityKind
	AccountId   int
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// TargetJournalEntry is a balanced double-entry posting. The writer must
// refuse it when debits and credits disagree.
type TargetJournalEntry struct {
	SourceGuid      string
	Number          string
	Date            time.Time
	Notes           string
	ReferenceNumber string
	Lines           []TargetJournalLine
}

func (e TargetJournalEntry) Totals() (debit decimal.Decimal, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

type TargetStockMovement struct {
	StockItemId int
	WarehouseId int
	Qty         decimal.Decimal
	Rate        decimal.Decimal
	Amount      decimal.Decimal
}

// TargetRepository is the engine's only write surface into the books
// database. The default implementation persists through the shared
// connection; tests substitute an in-memory fake.
type TargetRepository interface {
	// FindByExternalRef reports the target row a source guid resolved to in
	// a previous run, or ok=false when it was never imported.
	FindByExternalRef(ctx context.Context, recordType tally.RecordType, sourceGuid string) (kind TargetEntityKind, id int, ok bool, err error)

	// CreateRecord writes one master record and tags it with the batch id.
	CreateRecord(ctx context.Context, batchId int, record TargetRecord) (int, error)

	// CreateJournalEntry posts one balanced journal and returns its id.
	CreateJournalEntry(ctx context.Context, batchId int, entry TargetJournalEntry) (int, error)

	// ApplyStockMovement records an inventory in/out row for a voucher.
	ApplyStockMovement(ctx context.Context, batchId int, movement TargetStockMovement) error

	// DeleteByBatchTag removes every row of the given record type that the
	// batch created, returning how many were deleted.
	DeleteByBatchTag(ctx context.Context, batchId int, recordType tally.RecordType) (int, error)

	// ReferencedOutsideBatch reports whether the row is referenced by any
	// transaction the batch did not create. Rollback skips such rows.
	ReferencedOutsideBatch(ctx context.Context, batchId int, kind TargetEntityKind, id int) (bool, error)

	// DeleteRecord removes one master row. Used by rollback for rows that
	// passed the reference guard.
	DeleteRecord(ctx context.Context, kind TargetEntityKind, id int) error
}
