package tally

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FileFormat is the declared format of an uploaded export file.
type FileFormat string

const (
	FileFormatXML  FileFormat = "xml"
	FileFormatJSON FileFormat = "json"
	FileFormatXLSX FileFormat = "xlsx"
)

func (f FileFormat) Valid() bool {
	switch f {
	case FileFormatXML, FileFormatJSON, FileFormatXLSX:
		return true
	}
	return false
}

// RecordType identifies one importable record kind. The order of the
// RecordTypesInDependencyOrder slice is the commit order and must not change:
// later phases reference ids created by earlier ones.
type RecordType string

const (
	RecordTypeCurrency       RecordType = "currency"
	RecordTypeUnit           RecordType = "unit"
	RecordTypeStockGroup     RecordType = "stock_group"
	RecordTypeStockItem      RecordType = "stock_item"
	RecordTypeGodown         RecordType = "godown"
	RecordTypeCostCategory   RecordType = "cost_category"
	RecordTypeCostCenter     RecordType = "cost_center"
	RecordTypeLedger         RecordType = "ledger"
	RecordTypeOpeningBalance RecordType = "opening_balance"
	RecordTypeVoucher        RecordType = "voucher"
)

func RecordTypesInDependencyOrder() []RecordType {
	return []RecordType{
		RecordTypeCurrency,
		RecordTypeUnit,
		RecordTypeStockGroup,
		RecordTypeStockItem,
		RecordTypeGodown,
		RecordTypeCostCategory,
		RecordTypeCostCenter,
		RecordTypeLedger,
		RecordTypeOpeningBalance,
		RecordTypeVoucher,
	}
}

type IssueSeverity string

const (
	IssueSeverityError   IssueSeverity = "error"
	IssueSeverityWarning IssueSeverity = "warning"
	IssueSeverityInfo    IssueSeverity = "info"
)

// ValidationIssue is a per-record structural problem found while parsing.
// Parsing never aborts on one of these; they are collected and surfaced.
type ValidationIssue struct {
	Severity   IssueSeverity `json:"severity"`
	RecordType RecordType    `json:"record_type"`
	SourceGuid string        `json:"source_guid"`
	SourceName string        `json:"source_name"`
	Message    string        `json:"message"`
}

type VoucherType string

const (
	VoucherTypeSales        VoucherType = "Sales"
	VoucherTypePurchase     VoucherType = "Purchase"
	VoucherTypeReceipt      VoucherType = "Receipt"
	VoucherTypePayment      VoucherType = "Payment"
	VoucherTypeJournal      VoucherType = "Journal"
	VoucherTypeContra       VoucherType = "Contra"
	VoucherTypeCreditNote   VoucherType = "CreditNote"
	VoucherTypeDebitNote    VoucherType = "DebitNote"
	VoucherTypeStockJournal VoucherType = "StockJournal"
	VoucherTypeOther        VoucherType = "Other"
)

// NormalizeVoucherType maps the free-text voucher type names found in export
// files onto the canonical enum. Unknown names fall back to Other.
func NormalizeVoucherType(name string) VoucherType {
	switch normalizeKey(name) {
	case "SALES":
		return VoucherTypeSales
	case "PURCHASE":
		return VoucherTypePurchase
	case "RECEIPT":
		return VoucherTypeReceipt
	case "PAYMENT":
		return VoucherTypePayment
	case "JOURNAL":
		return VoucherTypeJournal
	case "CONTRA":
		return VoucherTypeContra
	case "CREDIT NOTE", "CREDITNOTE":
		return VoucherTypeCreditNote
	case "DEBIT NOTE", "DEBITNOTE":
		return VoucherTypeDebitNote
	case "STOCK JOURNAL", "STOCKJOURNAL":
		return VoucherTypeStockJournal
	}
	return VoucherTypeOther
}

type BillAllocationType string

const (
	BillAllocationTypeNew       BillAllocationType = "New"
	BillAllocationTypeAgainst   BillAllocationType = "Against"
	BillAllocationTypeAdvance   BillAllocationType = "Advance"
	BillAllocationTypeOnAccount BillAllocationType = "OnAccount"
)

// MappingResult links a source record to a target-system entity. It is
// either fully resolved (kind + id both set) or empty; partial assignment is
// rejected so a half-mapped record can never slip into the importer.
type MappingResult struct {
	TargetKind string `json:"target_kind"`
	TargetId   int    `json:"target_id"`
}

func (m MappingResult) Resolved() bool {
	return m.TargetKind != "" && m.TargetId > 0
}

func (m *MappingResult) Resolve(kind string, id int) error {
	if kind == "" || id <= 0 {
		return fmt.Errorf("mapping result must have both kind and id (got kind=%q id=%d)", kind, id)
	}
	m.TargetKind = kind
	m.TargetId = id
	return nil
}

func (m *MappingResult) Clear() {
	m.TargetKind = ""
	m.TargetId = 0
}

/* Masters */

type Currency struct {
	SourceGuid    string          `json:"source_guid"`
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	DecimalPlaces int             `json:"decimal_places"`
	Mapping       MappingResult   `json:"mapping"`
	OpeningRate   decimal.Decimal `json:"opening_rate"`
}

type Unit struct {
	SourceGuid    string        `json:"source_guid"`
	Name          string        `json:"name"`
	FormalName    string        `json:"formal_name"`
	DecimalPlaces int           `json:"decimal_places"`
	Mapping       MappingResult `json:"mapping"`
}

type LedgerGroup struct {
	SourceGuid       string `json:"source_guid"`
	Name             string `json:"name"`
	Parent           string `json:"parent"`
	IsRevenue        bool   `json:"is_revenue"`
	IsDeemedPositive bool   `json:"is_deemed_positive"`
}

type Ledger struct {
	SourceGuid          string          `json:"source_guid"`
	Name                string          `json:"name"`
	Parent              string          `json:"parent"`
	Alias               string          `json:"alias"`
	GSTIN               string          `json:"gstin"`
	GSTRegistrationType string          `json:"gst_registration_type"`
	BankAccountNumber   string          `json:"bank_account_number"`
	BankIFSC            string          `json:"bank_ifsc"`
	BankName            string          `json:"bank_name"`
	IsBillwiseOn        bool            `json:"is_billwise_on"`
	OpeningBalance      decimal.Decimal `json:"opening_balance"`
	ClosingBalance      decimal.Decimal `json:"closing_balance"`
	Mapping             MappingResult   `json:"mapping"`
}

type StockGroup struct {
	SourceGuid string        `json:"source_guid"`
	Name       string        `json:"name"`
	Parent     string        `json:"parent"`
	Mapping    MappingResult `json:"mapping"`
}

type StockItem struct {
	SourceGuid   string          `json:"source_guid"`
	Name         string          `json:"name"`
	Parent       string          `json:"parent"`
	BaseUnit     string          `json:"base_unit"`
	HSNCode      string          `json:"hsn_code"`
	GSTRate      decimal.Decimal `json:"gst_rate"`
	OpeningQty   decimal.Decimal `json:"opening_qty"`
	OpeningRate  decimal.Decimal `json:"opening_rate"`
	OpeningValue decimal.Decimal `json:"opening_value"`
	ClosingQty   decimal.Decimal `json:"closing_qty"`
	Mapping      MappingResult   `json:"mapping"`
}

type Godown struct {
	SourceGuid string        `json:"source_guid"`
	Name       string        `json:"name"`
	Parent     string        `json:"parent"`
	Address    string        `json:"address"`
	Mapping    MappingResult `json:"mapping"`
}

type CostCategory struct {
	SourceGuid string        `json:"source_guid"`
	Name       string        `json:"name"`
	Mapping    MappingResult `json:"mapping"`
}

type CostCenter struct {
	SourceGuid string        `json:"source_guid"`
	Name       string        `json:"name"`
	Parent     string        `json:"parent"`
	Category   string        `json:"category"`
	Mapping    MappingResult `json:"mapping"`
}

// VoucherTypeDef is a voucher-type customization master (a named subtype of
// one of the base voucher types, e.g. "GST Sales" under Sales).
type VoucherTypeDef struct {
	SourceGuid      string      `json:"source_guid"`
	Name            string      `json:"name"`
	Parent          VoucherType `json:"parent"`
	Abbreviation    string      `json:"abbreviation"`
	NumberingMethod string      `json:"numbering_method"`
}

/* Voucher allocations */

// LedgerEntry is one accounting line of a voucher.
//
// Sign convention (load-bearing, do not flip): negative = debit,
// positive = credit. NewLedgerEntry is the only constructor and rejects
// zero amounts so an entry with an undefined sign cannot exist.
type LedgerEntry struct {
	LedgerName    string          `json:"ledger_name"`
	LedgerGuid    string          `json:"ledger_guid"`
	Amount        decimal.Decimal `json:"amount"`
	IsPartyLedger bool            `json:"is_party_ledger"`
}

func NewLedgerEntry(ledgerName string, amount decimal.Decimal) (LedgerEntry, error) {
	if ledgerName == "" {
		return LedgerEntry{}, errors.New("ledger entry requires a ledger name")
	}
	if amount.IsZero() {
		return LedgerEntry{}, fmt.Errorf("ledger entry %q has zero amount: sign (debit/credit) is undefined", ledgerName)
	}
	return LedgerEntry{LedgerName: ledgerName, Amount: amount}, nil
}

func (e LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}

// DebitCredit splits the signed amount into unsigned debit/credit columns.
func (e LedgerEntry) DebitCredit() (debit decimal.Decimal, credit decimal.Decimal) {
	if e.Amount.IsNegative() {
		return e.Amount.Neg(), decimal.Zero
	}
	return decimal.Zero, e.Amount
}

type GodownAllocation struct {
	GodownName string          `json:"godown_name"`
	Qty        decimal.Decimal `json:"qty"`
}

type InventoryEntry struct {
	StockItemName     string             `json:"stock_item_name"`
	StockItemGuid     string             `json:"stock_item_guid"`
	Qty               decimal.Decimal    `json:"qty"`
	Rate              decimal.Decimal    `json:"rate"`
	Amount            decimal.Decimal    `json:"amount"`
	GodownAllocations []GodownAllocation `json:"godown_allocations"`
}

type BillAllocation struct {
	LedgerName string             `json:"ledger_name"`
	BillName   string             `json:"bill_name"`
	Type       BillAllocationType `json:"type"`
	Amount     decimal.Decimal    `json:"amount"`
}

type CostAllocation struct {
	LedgerName string          `json:"ledger_name"`
	Category   string          `json:"category"`
	CostCenter string          `json:"cost_center"`
	Amount     decimal.Decimal `json:"amount"`
}

/* Voucher */

type Voucher struct {
	SourceGuid      string           `json:"source_guid"`
	Number          string           `json:"number"`
	Type            VoucherType      `json:"type"`
	TypeName        string           `json:"type_name"`
	Date            time.Time        `json:"date"`
	Narration       string           `json:"narration"`
	PartyLedgerName string           `json:"party_ledger_name"`
	CurrencySymbol  string           `json:"currency_symbol"`
	ExchangeRate    decimal.Decimal  `json:"exchange_rate"`
	PlaceOfSupply   string           `json:"place_of_supply"`
	IRN             string           `json:"irn"`
	EInvoiceQRCode  string           `json:"e_invoice_qr_code"`
	LedgerEntries   []LedgerEntry    `json:"ledger_entries"`
	InventoryEntries []InventoryEntry `json:"inventory_entries"`
	BillAllocations []BillAllocation `json:"bill_allocations"`
	CostAllocations []CostAllocation `json:"cost_allocations"`

	// JournalEntryId is populated by the commit engine after posting.
	JournalEntryId int `json:"journal_entry_id,omitempty"`
}

// EntryTotal is the signed sum of all ledger entries. Zero for a balanced
// voucher (debits are negative, credits positive).
func (v *Voucher) EntryTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range v.LedgerEntries {
		total = total.Add(e.Amount)
	}
	return total
}

// BalanceError returns nil when the voucher balances within tolerance.
// Violations are reported, never silently corrected.
func (v *Voucher) BalanceError(tolerance decimal.Decimal) error {
	total := v.EntryTotal()
	if total.Abs().GreaterThan(tolerance) {
		debit, credit := v.DebitCreditTotals()
		return fmt.Errorf("voucher %s is unbalanced: debit %s vs credit %s (difference %s exceeds tolerance %s)",
			v.Number, debit.String(), credit.String(), total.Abs().String(), tolerance.String())
	}
	return nil
}

func (v *Voucher) DebitCreditTotals() (debit decimal.Decimal, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range v.LedgerEntries {
		d, c := e.DebitCredit()
		debit = debit.Add(d)
		credit = credit.Add(c)
	}
	return debit, credit
}

/* Container */

type Masters struct {
	Currencies     []Currency       `json:"currencies"`
	Units          []Unit           `json:"units"`
	LedgerGroups   []LedgerGroup    `json:"ledger_groups"`
	Ledgers        []Ledger         `json:"ledgers"`
	StockGroups    []StockGroup     `json:"stock_groups"`
	StockItems     []StockItem      `json:"stock_items"`
	Godowns        []Godown         `json:"godowns"`
	CostCategories []CostCategory   `json:"cost_categories"`
	CostCenters    []CostCenter     `json:"cost_centers"`
	VoucherTypes   []VoucherTypeDef `json:"voucher_types"`
}

// TallyData is the parsed, format-agnostic intermediate model for one import
// run. It is owned exclusively by that run's batch task.
type TallyData struct {
	Masters  Masters   `json:"masters"`
	Vouchers []Voucher `json:"vouchers"`
	Summary  Summary   `json:"summary"`
}
