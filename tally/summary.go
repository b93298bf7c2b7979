package tally

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Summary holds derived preview statistics. These feed the UI only; the
// commit engine recomputes its own authoritative counts during import.
type Summary struct {
	TotalLedgers        int                            `json:"total_ledgers"`
	TotalVouchers       int                            `json:"total_vouchers"`
	LedgerCountByGroup  map[string]int                 `json:"ledger_count_by_group"`
	VoucherCountByType  map[VoucherType]int            `json:"voucher_count_by_type"`
	VoucherAmountByType map[VoucherType]decimal.Decimal `json:"voucher_amount_by_type"`
	MinVoucherDate      *time.Time                     `json:"min_voucher_date,omitempty"`
	MaxVoucherDate      *time.Time                     `json:"max_voucher_date,omitempty"`
}

func BuildSummary(data *TallyData) Summary {
	s := Summary{
		TotalLedgers:        len(data.Masters.Ledgers),
		TotalVouchers:       len(data.Vouchers),
		LedgerCountByGroup:  map[string]int{},
		VoucherCountByType:  map[VoucherType]int{},
		VoucherAmountByType: map[VoucherType]decimal.Decimal{},
	}

	for _, l := range data.Masters.Ledgers {
		group := strings.TrimSpace(l.Parent)
		if group == "" {
			group = "(ungrouped)"
		}
		s.LedgerCountByGroup[group]++
	}

	for i := range data.Vouchers {
		v := &data.Vouchers[i]
		s.VoucherCountByType[v.Type]++

		debit, _ := v.DebitCreditTotals()
		amount, ok := s.VoucherAmountByType[v.Type]
		if !ok {
			amount = decimal.Zero
		}
		s.VoucherAmountByType[v.Type] = amount.Add(debit)

		if v.Date.IsZero() {
			continue
		}
		d := v.Date
		if s.MinVoucherDate == nil || d.Before(*s.MinVoucherDate) {
			s.MinVoucherDate = &d
		}
		if s.MaxVoucherDate == nil || d.After(*s.MaxVoucherDate) {
			s.MaxVoucherDate = &d
		}
	}
	return s
}

func normalizeKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
