package tally

import (
	"testing"

	"github.com/shopspring/decimal"
)

// NOTE: amounts follow the export convention throughout the package:
// negative = debit, positive = credit.

func TestNewLedgerEntry_RejectsZeroAmount(t *testing.T) {
	_, err := NewLedgerEntry("Rent", decimal.Zero)
	if err == nil {
		t.Fatal("expected error for zero amount, got nil")
	}
}

func TestNewLedgerEntry_RejectsEmptyName(t *testing.T) {
	_, err := NewLedgerEntry("", decimal.NewFromInt(100))
	if err == nil {
		t.Fatal("expected error for empty ledger name, got nil")
	}
}

func TestLedgerEntry_SignConvention(t *testing.T) {
	debitEntry, err := NewLedgerEntry("Rent", decimal.NewFromInt(-5000))
	if err != nil {
		t.Fatal(err)
	}
	if !debitEntry.IsDebit() {
		t.Error("negative amount must be a debit")
	}
	d, c := debitEntry.DebitCredit()
	if !d.Equal(decimal.NewFromInt(5000)) || !c.IsZero() {
		t.Errorf("debit split wrong: debit=%s credit=%s", d, c)
	}

	creditEntry, err := NewLedgerEntry("HDFC Bank", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatal(err)
	}
	if creditEntry.IsDebit() {
		t.Error("positive amount must be a credit")
	}
	d, c = creditEntry.DebitCredit()
	if !d.IsZero() || !c.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("credit split wrong: debit=%s credit=%s", d, c)
	}
}

func TestVoucher_BalanceError(t *testing.T) {
	tolerance := decimal.NewFromFloat(0.01)

	balanced := &Voucher{
		Number: "PMT-1",
		LedgerEntries: []LedgerEntry{
			{LedgerName: "Rent", Amount: decimal.NewFromInt(-5000)},
			{LedgerName: "HDFC Bank", Amount: decimal.NewFromInt(5000)},
		},
	}
	if err := balanced.BalanceError(tolerance); err != nil {
		t.Errorf("balanced voucher rejected: %v", err)
	}

	withinTolerance := &Voucher{
		Number: "PMT-2",
		LedgerEntries: []LedgerEntry{
			{LedgerName: "Rent", Amount: decimal.NewFromFloat(-5000.004)},
			{LedgerName: "HDFC Bank", Amount: decimal.NewFromInt(5000)},
		},
	}
	if err := withinTolerance.BalanceError(tolerance); err != nil {
		t.Errorf("rounding slack within tolerance rejected: %v", err)
	}

	unbalanced := &Voucher{
		Number: "PMT-3",
		LedgerEntries: []LedgerEntry{
			{LedgerName: "Rent", Amount: decimal.NewFromInt(-5000)},
			{LedgerName: "HDFC Bank", Amount: decimal.NewFromInt(4000)},
		},
	}
	if err := unbalanced.BalanceError(tolerance); err == nil {
		t.Error("unbalanced voucher accepted")
	}
}

func TestVoucher_DebitCreditTotals(t *testing.T) {
	v := &Voucher{
		LedgerEntries: []LedgerEntry{
			{LedgerName: "Rent", Amount: decimal.NewFromInt(-3000)},
			{LedgerName: "Electricity", Amount: decimal.NewFromInt(-2000)},
			{LedgerName: "HDFC Bank", Amount: decimal.NewFromInt(5000)},
		},
	}
	debit, credit := v.DebitCreditTotals()
	if !debit.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("debit total = %s, want 5000", debit)
	}
	if !credit.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("credit total = %s, want 5000", credit)
	}
}

func TestNormalizeVoucherType(t *testing.T) {
	cases := map[string]VoucherType{
		"Payment":       VoucherTypePayment,
		"payment":       VoucherTypePayment,
		" RECEIPT ":     VoucherTypeReceipt,
		"Credit Note":   VoucherTypeCreditNote,
		"CreditNote":    VoucherTypeCreditNote,
		"Stock Journal": VoucherTypeStockJournal,
		"GST Sales???":  VoucherTypeOther,
	}
	for input, want := range cases {
		if got := NormalizeVoucherType(input); got != want {
			t.Errorf("NormalizeVoucherType(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestMappingResult_RejectsPartialAssignment(t *testing.T) {
	var m MappingResult
	if err := m.Resolve("account", 0); err == nil {
		t.Error("kind without id accepted")
	}
	if err := m.Resolve("", 7); err == nil {
		t.Error("id without kind accepted")
	}
	if m.Resolved() {
		t.Error("failed resolve must leave the result empty")
	}
	if err := m.Resolve("account", 7); err != nil {
		t.Fatal(err)
	}
	if !m.Resolved() {
		t.Error("full resolve not reported as resolved")
	}
	m.Clear()
	if m.Resolved() {
		t.Error("cleared result still resolved")
	}
}
