package tallyimport

import (
	"fmt"
	"os"
	"strings"

	"github.com/himanshudhami/invoicex/tally"
	"gopkg.in/yaml.v3"
)

// PaymentCategory is the semantic subtype of an ambiguous Payment voucher.
type PaymentCategory string

const (
	PaymentCategoryStatutory        PaymentCategory = "Statutory"
	PaymentCategoryContractor       PaymentCategory = "Contractor"
	PaymentCategoryVendor           PaymentCategory = "Vendor"
	PaymentCategorySalary           PaymentCategory = "Salary"
	PaymentCategoryLoanEmi          PaymentCategory = "LoanEmi"
	PaymentCategoryBankCharge       PaymentCategory = "BankCharge"
	PaymentCategoryInternalTransfer PaymentCategory = "InternalTransfer"
	PaymentCategoryOther            PaymentCategory = "Other"
)

// ClassifierPatterns are the group-name fragments each rule matches on.
// Matching is case-insensitive substring containment against the counter
// ledger's parent group.
type ClassifierPatterns struct {
	Statutory  []string `yaml:"statutory"`
	Contractor []string `yaml:"contractor"`
	Vendor     []string `yaml:"vendor"`
	Salary     []string `yaml:"salary"`
	LoanEmi    []string `yaml:"loan_emi"`
	BankCharge []string `yaml:"bank_charge"`
	BankCash   []string `yaml:"bank_cash"`
}

func DefaultClassifierPatterns() ClassifierPatterns {
	return ClassifierPatterns{
		Statutory:  []string{"EPF", "ESI", "TDS", "PROFESSIONAL TAX", "PT PAYABLE", "DUTIES & TAXES", "DUTIES AND TAXES"},
		Contractor: []string{"CONSULTANT", "CONTRACTOR"},
		Vendor:     []string{"SUNDRY CREDITORS"},
		Salary:     []string{"SALARY PAYABLE", "SALARIES PAYABLE", "WAGES PAYABLE"},
		LoanEmi:    []string{"SECURED LOANS", "UNSECURED LOANS", "LOAN", "EMI"},
		BankCharge: []string{"BANK CHARGES"},
		BankCash:   []string{"BANK ACCOUNTS", "BANK OD", "CASH-IN-HAND", "CASH IN HAND"},
	}
}

// LoadClassifierPatterns reads a YAML pattern file, falling back to the
// defaults when the path is empty or the file does not exist.
func LoadClassifierPatterns(path string) (ClassifierPatterns, error) {
	if path == "" {
		return DefaultClassifierPatterns(), nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultClassifierPatterns(), nil
	}
	if err != nil {
		return ClassifierPatterns{}, err
	}
	patterns := DefaultClassifierPatterns()
	if err := yaml.Unmarshal(raw, &patterns); err != nil {
		return ClassifierPatterns{}, fmt.Errorf("parsing classifier patterns %s: %w", path, err)
	}
	return patterns, nil
}

// GroupTable resolves a ledger name to its parent group. It is built once
// per batch from the parsed masters and passed into Classify explicitly so
// a classification is reproducible in isolation.
type GroupTable struct {
	ledgerGroups map[string]string
	ledgerGuids  map[string]string
}

func NewGroupTable(masters *tally.Masters) *GroupTable {
	table := &GroupTable{
		ledgerGroups: map[string]string{},
		ledgerGuids:  map[string]string{},
	}
	for _, l := range masters.Ledgers {
		key := classifierKey(l.Name)
		table.ledgerGroups[key] = l.Parent
		table.ledgerGuids[key] = l.SourceGuid
	}
	return table
}

func (t *GroupTable) ParentGroup(ledgerName string) string {
	return t.ledgerGroups[classifierKey(ledgerName)]
}

func (t *GroupTable) Guid(ledgerName string) string {
	return t.ledgerGuids[classifierKey(ledgerName)]
}

// Classification is the audited outcome of one classifier decision. Reason
// always names the rule that fired and the input it matched so a wrong
// category can be traced and corrected through mapping overrides.
type Classification struct {
	Category    PaymentCategory `json:"category"`
	LedgerName  string          `json:"ledger_name"`
	LedgerGuid  string          `json:"ledger_guid"`
	ParentGroup string          `json:"parent_group"`
	Reason      string          `json:"reason"`
}

// Classify decides the payment category of one voucher. Pure: no I/O, and
// the same voucher and group table always produce the same result.
//
// The counter ledger is the first debit entry: in a Payment voucher the
// credit leg is the bank or cash account the money leaves, so the debit leg
// carries the business meaning.
func Classify(voucher *tally.Voucher, table *GroupTable, patterns ClassifierPatterns) Classification {
	counter := counterLedger(voucher)
	if counter == nil {
		return Classification{
			Category: PaymentCategoryOther,
			Reason:   "no debit entry found; voucher imports as a plain journal entry",
		}
	}

	group := table.ParentGroup(counter.LedgerName)
	result := Classification{
		LedgerName:  counter.LedgerName,
		LedgerGuid:  table.Guid(counter.LedgerName),
		ParentGroup: group,
	}

	type rule struct {
		category PaymentCategory
		patterns []string
	}
	// Ordered: first match wins.
	rules := []rule{
		{PaymentCategoryStatutory, patterns.Statutory},
		{PaymentCategoryContractor, patterns.Contractor},
		{PaymentCategoryVendor, patterns.Vendor},
		{PaymentCategorySalary, patterns.Salary},
		{PaymentCategoryLoanEmi, patterns.LoanEmi},
		{PaymentCategoryBankCharge, patterns.BankCharge},
	}
	for _, r := range rules {
		if matched := matchPattern(group, r.patterns); matched != "" {
			result.Category = r.category
			result.Reason = fmt.Sprintf("ledger %q has parent group %q matching %s pattern %q",
				counter.LedgerName, group, r.category, matched)
			return result
		}
	}

	if allLegsBankOrCash(voucher, table, patterns) {
		result.Category = PaymentCategoryInternalTransfer
		result.Reason = fmt.Sprintf("all ledger entries of voucher %s sit in bank/cash groups", voucher.Number)
		return result
	}

	result.Category = PaymentCategoryOther
	result.Reason = fmt.Sprintf("ledger %q (group %q) matched no pattern; defaulting to Other", counter.LedgerName, group)
	return result
}

func counterLedger(voucher *tally.Voucher) *tally.LedgerEntry {
	for i := range voucher.LedgerEntries {
		if voucher.LedgerEntries[i].IsDebit() {
			return &voucher.LedgerEntries[i]
		}
	}
	return nil
}

func allLegsBankOrCash(voucher *tally.Voucher, table *GroupTable, patterns ClassifierPatterns) bool {
	if len(voucher.LedgerEntries) == 0 {
		return false
	}
	for _, e := range voucher.LedgerEntries {
		if matchPattern(table.ParentGroup(e.LedgerName), patterns.BankCash) == "" {
			return false
		}
	}
	return true
}

// matchPattern returns the pattern that matched, or "" when none did.
func matchPattern(group string, patterns []string) string {
	key := classifierKey(group)
	if key == "" {
		return ""
	}
	for _, p := range patterns {
		if strings.Contains(key, classifierKey(p)) {
			return p
		}
	}
	return ""
}

func classifierKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
