package tally

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const xmlFixture = `<ENVELOPE>
 <BODY><IMPORTDATA><REQUESTDATA>
  <TALLYMESSAGE>
   <CURRENCY NAME="INR">
    <GUID>cur-1</GUID>
    <ORIGINALSYMBOL>Rs</ORIGINALSYMBOL>
    <DECIMALPLACES>2</DECIMALPLACES>
   </CURRENCY>
  </TALLYMESSAGE>
  <TALLYMESSAGE>
   <GROUP NAME="Indirect Expenses">
    <GUID>grp-1</GUID>
    <PARENT>Expenses</PARENT>
    <ISREVENUE>Yes</ISREVENUE>
   </GROUP>
  </TALLYMESSAGE>
  <TALLYMESSAGE>
   <LEDGER NAME="Rent">
    <GUID>led-1</GUID>
    <PARENT>Indirect Expenses</PARENT>
    <OPENINGBALANCE>-12,500.00</OPENINGBALANCE>
   </LEDGER>
  </TALLYMESSAGE>
  <TALLYMESSAGE>
   <LEDGER NAME="HDFC Bank">
    <GUID>led-2</GUID>
    <PARENT>Bank Accounts</PARENT>
    <BANKNAME>HDFC</BANKNAME>
    <OPENINGBALANCE>50000</OPENINGBALANCE>
   </LEDGER>
  </TALLYMESSAGE>
  <TALLYMESSAGE>
   <VOUCHER VCHTYPE="Payment">
    <GUID>vch-1</GUID>
    <VOUCHERNUMBER>PMT-1</VOUCHERNUMBER>
    <DATE>20240401</DATE>
    <NARRATION>April rent</NARRATION>
    <ALLLEDGERENTRIES.LIST>
     <LEDGERNAME>Rent</LEDGERNAME>
     <AMOUNT>-5000</AMOUNT>
    </ALLLEDGERENTRIES.LIST>
    <ALLLEDGERENTRIES.LIST>
     <LEDGERNAME>HDFC Bank</LEDGERNAME>
     <AMOUNT>5000</AMOUNT>
    </ALLLEDGERENTRIES.LIST>
   </VOUCHER>
  </TALLYMESSAGE>
 </REQUESTDATA></IMPORTDATA></BODY>
</ENVELOPE>`

func TestParseXML_HappyPath(t *testing.T) {
	data, issues, err := Parse([]byte(xmlFixture), FileFormatXML)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
	if len(data.Masters.Currencies) != 1 || data.Masters.Currencies[0].Symbol != "Rs" {
		t.Errorf("currencies = %+v", data.Masters.Currencies)
	}
	if len(data.Masters.LedgerGroups) != 1 || !data.Masters.LedgerGroups[0].IsRevenue {
		t.Errorf("ledger groups = %+v", data.Masters.LedgerGroups)
	}
	if len(data.Masters.Ledgers) != 2 {
		t.Fatalf("got %d ledgers, want 2", len(data.Masters.Ledgers))
	}
	rent := data.Masters.Ledgers[0]
	if rent.Name != "Rent" || rent.Parent != "Indirect Expenses" {
		t.Errorf("ledger = %+v", rent)
	}
	if !rent.OpeningBalance.Equal(decimal.NewFromFloat(-12500)) {
		t.Errorf("opening balance = %s, want -12500 (comma separator must be tolerated)", rent.OpeningBalance)
	}

	if len(data.Vouchers) != 1 {
		t.Fatalf("got %d vouchers, want 1", len(data.Vouchers))
	}
	v := data.Vouchers[0]
	if v.Type != VoucherTypePayment || v.Number != "PMT-1" {
		t.Errorf("voucher = %+v", v)
	}
	if v.Date.Year() != 2024 || int(v.Date.Month()) != 4 || v.Date.Day() != 1 {
		t.Errorf("voucher date = %s", v.Date)
	}
	if err := v.BalanceError(decimal.NewFromFloat(0.01)); err != nil {
		t.Errorf("fixture voucher should balance: %v", err)
	}

	if data.Summary.TotalLedgers != 2 || data.Summary.TotalVouchers != 1 {
		t.Errorf("summary = %+v", data.Summary)
	}
	if data.Summary.VoucherCountByType[VoucherTypePayment] != 1 {
		t.Errorf("summary voucher counts = %+v", data.Summary.VoucherCountByType)
	}
}

func TestParseXML_MalformedRecordIsCollectedNotFatal(t *testing.T) {
	fixture := `<ENVELOPE><BODY><IMPORTDATA><REQUESTDATA>
  <TALLYMESSAGE><LEDGER NAME=""><GUID>led-bad</GUID></LEDGER></TALLYMESSAGE>
  <TALLYMESSAGE><LEDGER NAME="Good"><GUID>led-ok</GUID><PARENT>Current Assets</PARENT></LEDGER></TALLYMESSAGE>
  <TALLYMESSAGE>
   <VOUCHER VCHTYPE="Payment">
    <GUID>vch-bad</GUID><VOUCHERNUMBER>PMT-9</VOUCHERNUMBER><DATE>notadate</DATE>
    <ALLLEDGERENTRIES.LIST><LEDGERNAME>Good</LEDGERNAME><AMOUNT>-1</AMOUNT></ALLLEDGERENTRIES.LIST>
   </VOUCHER>
  </TALLYMESSAGE>
 </REQUESTDATA></IMPORTDATA></BODY></ENVELOPE>`

	data, issues, err := Parse([]byte(fixture), FileFormatXML)
	if err != nil {
		t.Fatalf("per-record problems must not be fatal: %v", err)
	}
	if len(data.Masters.Ledgers) != 1 || data.Masters.Ledgers[0].Name != "Good" {
		t.Errorf("surviving ledgers = %+v", data.Masters.Ledgers)
	}
	if len(data.Vouchers) != 0 {
		t.Errorf("voucher with bad date must be dropped, got %+v", data.Vouchers)
	}
	errorCount := 0
	for _, issue := range issues {
		if issue.Severity == IssueSeverityError {
			errorCount++
		}
	}
	if errorCount != 2 {
		t.Errorf("got %d error issues, want 2 (nameless ledger, bad voucher date): %+v", errorCount, issues)
	}
}

func TestParse_FatalContainerError(t *testing.T) {
	data, issues, err := Parse([]byte("this is not xml"), FileFormatXML)
	if err == nil {
		t.Fatal("expected fatal error for unparsable container")
	}
	if data != nil {
		t.Error("fatal parse must return nil data")
	}
	if len(issues) != 1 || issues[0].Severity != IssueSeverityError {
		t.Errorf("fatal parse must report exactly one error issue, got %+v", issues)
	}
}

func TestParse_RejectsEmptyAndUnknownFormat(t *testing.T) {
	if _, _, err := Parse(nil, FileFormatXML); err == nil {
		t.Error("empty file accepted")
	}
	if _, _, err := Parse([]byte("{}"), FileFormat("csv")); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestParseJSON_AmountsAsStringOrNumber(t *testing.T) {
	fixture := `{
	  "masters": {
	    "ledgers": [
	      {"guid": "led-1", "name": "Rent", "parent": "Indirect Expenses", "opening_balance": "-1,200.50"},
	      {"guid": "led-2", "name": "HDFC Bank", "parent": "Bank Accounts", "opening_balance": 300}
	    ]
	  },
	  "vouchers": [
	    {
	      "guid": "vch-1", "number": "PMT-1", "type": "Payment", "date": "2024-04-01",
	      "ledger_entries": [
	        {"ledger_name": "Rent", "amount": -750},
	        {"ledger_name": "HDFC Bank", "amount": "750"}
	      ]
	    }
	  ]
	}`

	data, issues, err := Parse([]byte(fixture), FileFormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
	if !data.Masters.Ledgers[0].OpeningBalance.Equal(decimal.NewFromFloat(-1200.5)) {
		t.Errorf("string amount = %s, want -1200.5", data.Masters.Ledgers[0].OpeningBalance)
	}
	if !data.Masters.Ledgers[1].OpeningBalance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("numeric amount = %s, want 300", data.Masters.Ledgers[1].OpeningBalance)
	}
	if len(data.Vouchers) != 1 || len(data.Vouchers[0].LedgerEntries) != 2 {
		t.Fatalf("vouchers = %+v", data.Vouchers)
	}
	if !data.Vouchers[0].LedgerEntries[0].IsDebit() {
		t.Error("negative JSON amount must parse as a debit")
	}
}

func TestParseXLSX_HeaderByNameAndDebitCreditColumns(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()

	if _, err := book.NewSheet(xlsxSheetLedgers); err != nil {
		t.Fatal(err)
	}
	ledgerRows := [][]interface{}{
		{"GUID", "Name", "Under", "Opening Balance"},
		{"led-1", "Rent", "Indirect Expenses", "-1500"},
		{"led-2", "HDFC Bank", "Bank Accounts", "20000"},
	}
	for i, row := range ledgerRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(xlsxSheetLedgers, cell, &row); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := book.NewSheet(xlsxSheetVouchers); err != nil {
		t.Fatal(err)
	}
	voucherRows := [][]interface{}{
		{"Voucher Number", "Voucher Type", "Date", "Ledger Name", "Debit", "Credit"},
		{"PMT-1", "Payment", "20240401", "Rent", "5000", ""},
		{"", "", "", "HDFC Bank", "", "5000"},
	}
	for i, row := range voucherRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := book.SetSheetRow(xlsxSheetVouchers, cell, &row); err != nil {
			t.Fatal(err)
		}
	}

	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	data, issues, err := Parse(buf.Bytes(), FileFormatXLSX)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
	if len(data.Masters.Ledgers) != 2 {
		t.Fatalf("got %d ledgers, want 2", len(data.Masters.Ledgers))
	}
	if data.Masters.Ledgers[0].Parent != "Indirect Expenses" {
		t.Errorf(`"Under" header not matched: %+v`, data.Masters.Ledgers[0])
	}
	if len(data.Vouchers) != 1 {
		t.Fatalf("got %d vouchers, want 1", len(data.Vouchers))
	}
	v := data.Vouchers[0]
	if len(v.LedgerEntries) != 2 {
		t.Fatalf("continuation row not grouped into the voucher: %+v", v)
	}
	// Debit column becomes a negative amount, credit column positive.
	if !v.LedgerEntries[0].IsDebit() || v.LedgerEntries[1].IsDebit() {
		t.Errorf("debit/credit columns mis-signed: %+v", v.LedgerEntries)
	}
	if err := v.BalanceError(decimal.NewFromFloat(0.01)); err != nil {
		t.Errorf("voucher should balance: %v", err)
	}
}

func TestParseXLSX_MissingSheetIsFatal(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Parse(buf.Bytes(), FileFormatXLSX)
	if err == nil || !strings.Contains(err.Error(), xlsxSheetLedgers) {
		t.Fatalf("expected missing-sheet error, got %v", err)
	}
}
