package tally

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Spreadsheet exports carry two sheets: "Ledgers" (one row per ledger master)
// and "Vouchers" (one row per ledger line, grouped by voucher number). Column
// positions are not fixed; the header row is matched by name.

const (
	xlsxSheetLedgers  = "Ledgers"
	xlsxSheetVouchers = "Vouchers"
)

func parseXLSX(data []byte) (*TallyData, []ValidationIssue, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer book.Close()

	out := &TallyData{}
	collector := &issueCollector{}

	if err := parseXLSXLedgers(book, out, collector); err != nil {
		return nil, nil, err
	}
	if err := parseXLSXVouchers(book, out, collector); err != nil {
		return nil, nil, err
	}
	return out, collector.issues, nil
}

// columnIndex maps normalized header names to zero-based column positions.
type columnIndex map[string]int

func indexHeader(row []string) columnIndex {
	idx := columnIndex{}
	for i, cell := range row {
		key := normalizeKey(cell)
		if key != "" {
			idx[key] = i
		}
	}
	return idx
}

func (idx columnIndex) cell(row []string, names ...string) string {
	for _, name := range names {
		i, ok := idx[normalizeKey(name)]
		if !ok || i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}

func parseXLSXLedgers(book *excelize.File, out *TallyData, collector *issueCollector) error {
	rows, err := book.GetRows(xlsxSheetLedgers)
	if err != nil {
		return fmt.Errorf("missing sheet %q: %w", xlsxSheetLedgers, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", xlsxSheetLedgers)
	}
	idx := indexHeader(rows[0])

	for n, row := range rows[1:] {
		name := idx.cell(row, "Name", "Ledger Name")
		if name == "" {
			collector.errorf(RecordTypeLedger, "", fmt.Sprintf("row %d", n+2), "ledger row is missing a name")
			continue
		}
		opening, oerr := parseAmount(idx.cell(row, "Opening Balance"))
		if oerr != nil {
			collector.errorf(RecordTypeLedger, "", name, "invalid opening balance %q", idx.cell(row, "Opening Balance"))
			continue
		}
		parent := idx.cell(row, "Parent", "Group", "Under")
		if parent == "" {
			collector.warnf(RecordTypeLedger, "", name, "ledger has no parent group; classification heuristics will not apply")
		}
		out.Masters.Ledgers = append(out.Masters.Ledgers, Ledger{
			SourceGuid:        idx.cell(row, "GUID"),
			Name:              name,
			Parent:            parent,
			Alias:             idx.cell(row, "Alias"),
			GSTIN:             idx.cell(row, "GSTIN"),
			BankAccountNumber: idx.cell(row, "Bank Account Number", "Account Number"),
			BankIFSC:          idx.cell(row, "IFSC"),
			BankName:          idx.cell(row, "Bank Name"),
			OpeningBalance:    opening,
		})
	}
	return nil
}

func parseXLSXVouchers(book *excelize.File, out *TallyData, collector *issueCollector) error {
	rows, err := book.GetRows(xlsxSheetVouchers)
	if err != nil {
		return fmt.Errorf("missing sheet %q: %w", xlsxSheetVouchers, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", xlsxSheetVouchers)
	}
	idx := indexHeader(rows[0])

	var current *Voucher
	flush := func() {
		if current == nil {
			return
		}
		if len(current.LedgerEntries) == 0 {
			collector.errorf(RecordTypeVoucher, current.SourceGuid, current.Number, "voucher has no ledger entries")
		} else {
			out.Vouchers = append(out.Vouchers, *current)
		}
		current = nil
	}

	for n, row := range rows[1:] {
		number := idx.cell(row, "Voucher Number", "Number")
		ledgerName := idx.cell(row, "Ledger Name", "Ledger")
		if number == "" && ledgerName == "" {
			continue // blank separator row
		}

		// A populated voucher-number cell starts a new voucher; continuation
		// rows leave it blank and only carry the ledger line.
		if number != "" && (current == nil || current.Number != number) {
			flush()
			date, derr := parseSourceDate(idx.cell(row, "Date"))
			if derr != nil {
				collector.errorf(RecordTypeVoucher, "", number, "invalid voucher date %q", idx.cell(row, "Date"))
				continue
			}
			typeName := idx.cell(row, "Voucher Type", "Type")
			current = &Voucher{
				SourceGuid:      idx.cell(row, "GUID"),
				Number:          number,
				Type:            NormalizeVoucherType(typeName),
				TypeName:        typeName,
				Date:            date,
				Narration:       idx.cell(row, "Narration"),
				PartyLedgerName: idx.cell(row, "Party Ledger", "Party"),
			}
		}
		if current == nil {
			collector.errorf(RecordTypeVoucher, "", fmt.Sprintf("row %d", n+2), "ledger line has no preceding voucher row")
			continue
		}
		if ledgerName == "" {
			continue
		}

		// Amounts may come as a signed Amount column or as separate
		// Debit/Credit columns. Debits become negative.
		rawAmount := idx.cell(row, "Amount")
		var amount, aerr = parseAmount(rawAmount)
		if rawAmount == "" {
			debit, derr := parseAmount(idx.cell(row, "Debit"))
			credit, cerr := parseAmount(idx.cell(row, "Credit"))
			if derr != nil || cerr != nil {
				collector.errorf(RecordTypeVoucher, current.SourceGuid, current.Number, "ledger line %q has invalid debit/credit amounts", ledgerName)
				continue
			}
			amount, aerr = credit.Sub(debit), nil
		}
		if aerr != nil {
			collector.errorf(RecordTypeVoucher, current.SourceGuid, current.Number, "ledger line %q has invalid amount %q", ledgerName, rawAmount)
			continue
		}
		entry, eerr := NewLedgerEntry(ledgerName, amount)
		if eerr != nil {
			collector.errorf(RecordTypeVoucher, current.SourceGuid, current.Number, "invalid ledger line: %v", eerr)
			continue
		}
		current.LedgerEntries = append(current.LedgerEntries, entry)
	}
	flush()
	return nil
}
