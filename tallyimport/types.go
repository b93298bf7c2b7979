package tallyimport

import (
	"time"

	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/himanshudhami/invoicex/utils"
)

// RunOptions is the operator-facing subset of the engine configuration,
// chosen when the import is started and carried in the queue payload.
type RunOptions struct {
	RecordTypes            []tally.RecordType `json:"record_types"`
	FromDate               *time.Time         `json:"from_date"`
	ToDate                 *time.Time         `json:"to_date"`
	CreateJournalEntries   *bool              `json:"create_journal_entries"`
	UpdateStockQuantities  *bool              `json:"update_stock_quantities"`
	CreateSuspenseAccounts *bool              `json:"create_suspense_accounts"`
	SkipUnmapped           bool               `json:"skip_unmapped"`
	Parallelism            int                `json:"parallelism"`
}

// Apply overlays the operator's choices on the default configuration.
func (o RunOptions) Apply(cfg Config) Config {
	cfg.RecordTypes = utils.UniqueSlice(o.RecordTypes)
	cfg.FromDate = o.FromDate
	cfg.ToDate = o.ToDate
	if o.CreateJournalEntries != nil {
		cfg.CreateJournalEntries = *o.CreateJournalEntries
	}
	if o.UpdateStockQuantities != nil {
		cfg.UpdateStockQuantities = *o.UpdateStockQuantities
	}
	if o.CreateSuspenseAccounts != nil {
		cfg.CreateSuspenseAccounts = *o.CreateSuspenseAccounts
	}
	cfg.SkipUnmapped = o.SkipUnmapped
	if o.Parallelism > 0 {
		cfg.Parallelism = o.Parallelism
	}
	return cfg
}

// ImportRunPayload is the queue message that triggers one batch run.
type ImportRunPayload struct {
	BatchId       int        `json:"batch_id"`
	BusinessId    string     `json:"business_id"`
	CorrelationId string     `json:"correlation_id"`
	Options       RunOptions `json:"options"`
}

type startImportRequest struct {
	Options RunOptions `json:"options"`
}

type configureMappingRequest struct {
	Overrides []models.NewMappingOverride `json:"overrides" binding:"required,dive"`
}

type rollbackRequest struct {
	DeleteTransactions *bool  `json:"delete_transactions"`
	DeleteMasters      *bool  `json:"delete_masters"`
	Reason             string `json:"reason"`
}

type batchStatusResponse struct {
	Batch            *models.ImportBatch        `json:"batch"`
	SuspenseItems    []*models.SuspenseItem     `json:"suspense_items,omitempty"`
	Errors           []*models.ImportErrorRecord `json:"errors,omitempty"`
	MappingOverrides []models.ImportMappingOverride `json:"mapping_overrides,omitempty"`
}
