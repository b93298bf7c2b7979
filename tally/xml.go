package tally

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/himanshudhami/invoicex/utils"
	"github.com/shopspring/decimal"
)

// Raw envelope shapes for the XML export format. Everything is decoded as
// strings first; normalization converts and validates per record so one bad
// record cannot abort the rest of the file.

type xmlEnvelope struct {
	XMLName  xml.Name     `xml:"ENVELOPE"`
	Messages []xmlMessage `xml:"BODY>IMPORTDATA>REQUESTDATA>TALLYMESSAGE"`
}

type xmlMessage struct {
	Ledger       *xmlLedger       `xml:"LEDGER"`
	Group        *xmlGroup        `xml:"GROUP"`
	StockGroup   *xmlStockGroup   `xml:"STOCKGROUP"`
	StockItem    *xmlStockItem    `xml:"STOCKITEM"`
	Godown       *xmlGodown       `xml:"GODOWN"`
	Unit         *xmlUnit         `xml:"UNIT"`
	CostCategory *xmlCostCategory `xml:"COSTCATEGORY"`
	CostCenter   *xmlCostCenter   `xml:"COSTCENTRE"`
	Currency     *xmlCurrency     `xml:"CURRENCY"`
	VoucherType  *xmlVoucherType  `xml:"VOUCHERTYPE"`
	Voucher      *xmlVoucher      `xml:"VOUCHER"`
}

type xmlLedger struct {
	Name                string `xml:"NAME,attr"`
	Guid                string `xml:"GUID"`
	Parent              string `xml:"PARENT"`
	Alias               string `xml:"ALIAS"`
	GSTIN               string `xml:"PARTYGSTIN"`
	GSTRegistrationType string `xml:"GSTREGISTRATIONTYPE"`
	BankAccountNumber   string `xml:"BANKACCOUNTNUMBER"`
	BankIFSC            string `xml:"IFSCODE"`
	BankName            string `xml:"BANKNAME"`
	IsBillwiseOn        string `xml:"ISBILLWISEON"`
	OpeningBalance      string `xml:"OPENINGBALANCE"`
	ClosingBalance      string `xml:"CLOSINGBALANCE"`
}

type xmlGroup struct {
	Name             string `xml:"NAME,attr"`
	Guid             string `xml:"GUID"`
	Parent           string `xml:"PARENT"`
	IsRevenue        string `xml:"ISREVENUE"`
	IsDeemedPositive string `xml:"ISDEEMEDPOSITIVE"`
}

type xmlStockGroup struct {
	Name   string `xml:"NAME,attr"`
	Guid   string `xml:"GUID"`
	Parent string `xml:"PARENT"`
}

type xmlStockItem struct {
	Name         string `xml:"NAME,attr"`
	Guid         string `xml:"GUID"`
	Parent       string `xml:"PARENT"`
	BaseUnit     string `xml:"BASEUNITS"`
	HSNCode      string `xml:"HSNCODE"`
	GSTRate      string `xml:"GSTRATE"`
	OpeningQty   string `xml:"OPENINGBALANCE"`
	OpeningRate  string `xml:"OPENINGRATE"`
	OpeningValue string `xml:"OPENINGVALUE"`
	ClosingQty   string `xml:"CLOSINGBALANCE"`
}

type xmlGodown struct {
	Name    string `xml:"NAME,attr"`
	Guid    string `xml:"GUID"`
	Parent  string `xml:"PARENT"`
	Address string `xml:"ADDRESS"`
}

type xmlUnit struct {
	Name          string `xml:"NAME,attr"`
	Guid          string `xml:"GUID"`
	FormalName    string `xml:"ORIGINALNAME"`
	DecimalPlaces string `xml:"DECIMALPLACES"`
}

type xmlCostCategory struct {
	Name string `xml:"NAME,attr"`
	Guid string `xml:"GUID"`
}

type xmlCostCenter struct {
	Name     string `xml:"NAME,attr"`
	Guid     string `xml:"GUID"`
	Parent   string `xml:"PARENT"`
	Category string `xml:"CATEGORY"`
}

type xmlCurrency struct {
	Name          string `xml:"NAME,attr"`
	Guid          string `xml:"GUID"`
	Symbol        string `xml:"ORIGINALSYMBOL"`
	DecimalPlaces string `xml:"DECIMALPLACES"`
	OpeningRate   string `xml:"OPENINGRATE"`
}

type xmlVoucherType struct {
	Name            string `xml:"NAME,attr"`
	Guid            string `xml:"GUID"`
	Parent          string `xml:"PARENT"`
	Abbreviation    string `xml:"ABBREVIATION"`
	NumberingMethod string `xml:"NUMBERINGMETHOD"`
}

type xmlVoucher struct {
	VchType         string              `xml:"VCHTYPE,attr"`
	Guid            string              `xml:"GUID"`
	Number          string              `xml:"VOUCHERNUMBER"`
	Date            string              `xml:"DATE"`
	Narration       string              `xml:"NARRATION"`
	PartyLedgerName string              `xml:"PARTYLEDGERNAME"`
	Currency        string              `xml:"CURRENCY"`
	ExchangeRate    string              `xml:"EXCHANGERATE"`
	PlaceOfSupply   string              `xml:"PLACEOFSUPPLY"`
	IRN             string              `xml:"IRN"`
	EInvoiceQRCode  string              `xml:"EINVOICEQRCODE"`
	LedgerEntries   []xmlLedgerEntry    `xml:"ALLLEDGERENTRIES.LIST"`
	InventoryEntries []xmlInventoryEntry `xml:"ALLINVENTORYENTRIES.LIST"`
}

type xmlLedgerEntry struct {
	LedgerName      string              `xml:"LEDGERNAME"`
	LedgerGuid      string              `xml:"LEDGERGUID"`
	Amount          string              `xml:"AMOUNT"`
	IsPartyLedger   string              `xml:"ISPARTYLEDGER"`
	BillAllocations []xmlBillAllocation `xml:"BILLALLOCATIONS.LIST"`
	CostAllocations []xmlCostAllocation `xml:"CATEGORYALLOCATIONS.LIST"`
}

type xmlBillAllocation struct {
	Name     string `xml:"NAME"`
	BillType string `xml:"BILLTYPE"`
	Amount   string `xml:"AMOUNT"`
}

type xmlCostAllocation struct {
	Category   string `xml:"CATEGORY"`
	CostCenter string `xml:"NAME"`
	Amount     string `xml:"AMOUNT"`
}

type xmlInventoryEntry struct {
	StockItemName string               `xml:"STOCKITEMNAME"`
	StockItemGuid string               `xml:"STOCKITEMGUID"`
	Qty           string               `xml:"ACTUALQTY"`
	Rate          string               `xml:"RATE"`
	Amount        string               `xml:"AMOUNT"`
	Godowns       []xmlGodownAllocation `xml:"BATCHALLOCATIONS.LIST"`
}

type xmlGodownAllocation struct {
	GodownName string `xml:"GODOWNNAME"`
	Qty        string `xml:"ACTUALQTY"`
}

func parseXML(data []byte) (*TallyData, []ValidationIssue, error) {
	var envelope xmlEnvelope
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decoding XML envelope: %w", err)
	}

	out := &TallyData{}
	collector := &issueCollector{}

	for _, msg := range envelope.Messages {
		switch {
		case msg.Ledger != nil:
			normalizeXMLLedger(msg.Ledger, out, collector)
		case msg.Group != nil:
			normalizeXMLGroup(msg.Group, out, collector)
		case msg.StockGroup != nil:
			out.Masters.StockGroups = append(out.Masters.StockGroups, StockGroup{
				SourceGuid: msg.StockGroup.Guid,
				Name:       strings.TrimSpace(msg.StockGroup.Name),
				Parent:     strings.TrimSpace(msg.StockGroup.Parent),
			})
		case msg.StockItem != nil:
			normalizeXMLStockItem(msg.StockItem, out, collector)
		case msg.Godown != nil:
			out.Masters.Godowns = append(out.Masters.Godowns, Godown{
				SourceGuid: msg.Godown.Guid,
				Name:       strings.TrimSpace(msg.Godown.Name),
				Parent:     strings.TrimSpace(msg.Godown.Parent),
				Address:    strings.TrimSpace(msg.Godown.Address),
			})
		case msg.Unit != nil:
			out.Masters.Units = append(out.Masters.Units, Unit{
				SourceGuid:    msg.Unit.Guid,
				Name:          strings.TrimSpace(msg.Unit.Name),
				FormalName:    strings.TrimSpace(msg.Unit.FormalName),
				DecimalPlaces: parseIntDefault(msg.Unit.DecimalPlaces, 0),
			})
		case msg.CostCategory != nil:
			out.Masters.CostCategories = append(out.Masters.CostCategories, CostCategory{
				SourceGuid: msg.CostCategory.Guid,
				Name:       strings.TrimSpace(msg.CostCategory.Name),
			})
		case msg.CostCenter != nil:
			out.Masters.CostCenters = append(out.Masters.CostCenters, CostCenter{
				SourceGuid: msg.CostCenter.Guid,
				Name:       strings.TrimSpace(msg.CostCenter.Name),
				Parent:     strings.TrimSpace(msg.CostCenter.Parent),
				Category:   strings.TrimSpace(msg.CostCenter.Category),
			})
		case msg.Currency != nil:
			normalizeXMLCurrency(msg.Currency, out, collector)
		case msg.VoucherType != nil:
			out.Masters.VoucherTypes = append(out.Masters.VoucherTypes, VoucherTypeDef{
				SourceGuid:      msg.VoucherType.Guid,
				Name:            strings.TrimSpace(msg.VoucherType.Name),
				Parent:          NormalizeVoucherType(msg.VoucherType.Parent),
				Abbreviation:    strings.TrimSpace(msg.VoucherType.Abbreviation),
				NumberingMethod: strings.TrimSpace(msg.VoucherType.NumberingMethod),
			})
		case msg.Voucher != nil:
			normalizeXMLVoucher(msg.Voucher, out, collector)
		}
	}

	return out, collector.issues, nil
}

func normalizeXMLLedger(raw *xmlLedger, out *TallyData, collector *issueCollector) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		collector.errorf(RecordTypeLedger, raw.Guid, "", "ledger is missing a name")
		return
	}
	opening, err := parseAmount(raw.OpeningBalance)
	if err != nil {
		collector.errorf(RecordTypeLedger, raw.Guid, name, "invalid opening balance %q", raw.OpeningBalance)
		return
	}
	closing, err := parseAmount(raw.ClosingBalance)
	if err != nil {
		collector.warnf(RecordTypeLedger, raw.Guid, name, "invalid closing balance %q; treated as zero", raw.ClosingBalance)
		closing = decimal.Zero
	}
	if strings.TrimSpace(raw.Parent) == "" {
		collector.warnf(RecordTypeLedger, raw.Guid, name, "ledger has no parent group; classification heuristics will not apply")
	}
	out.Masters.Ledgers = append(out.Masters.Ledgers, Ledger{
		SourceGuid:          raw.Guid,
		Name:                name,
		Parent:              strings.TrimSpace(raw.Parent),
		Alias:               strings.TrimSpace(raw.Alias),
		GSTIN:               strings.TrimSpace(raw.GSTIN),
		GSTRegistrationType: strings.TrimSpace(raw.GSTRegistrationType),
		BankAccountNumber:   strings.TrimSpace(raw.BankAccountNumber),
		BankIFSC:            strings.TrimSpace(raw.BankIFSC),
		BankName:            strings.TrimSpace(raw.BankName),
		IsBillwiseOn:        parseYesNo(raw.IsBillwiseOn),
		OpeningBalance:      opening,
		ClosingBalance:      closing,
	})
}

func normalizeXMLGroup(raw *xmlGroup, out *TallyData, collector *issueCollector) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		collector.errorf(RecordTypeLedger, raw.Guid, "", "ledger group is missing a name")
		return
	}
	out.Masters.LedgerGroups = append(out.Masters.LedgerGroups, LedgerGroup{
		SourceGuid:       raw.Guid,
		Name:             name,
		Parent:           strings.TrimSpace(raw.Parent),
		IsRevenue:        parseYesNo(raw.IsRevenue),
		IsDeemedPositive: parseYesNo(raw.IsDeemedPositive),
	})
}

func normalizeXMLStockItem(raw *xmlStockItem, out *TallyData, collector *issueCollector) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		collector.errorf(RecordTypeStockItem, raw.Guid, "", "stock item is missing a name")
		return
	}
	item := StockItem{
		SourceGuid: raw.Guid,
		Name:       name,
		Parent:     strings.TrimSpace(raw.Parent),
		BaseUnit:   strings.TrimSpace(raw.BaseUnit),
		HSNCode:    strings.TrimSpace(raw.HSNCode),
	}
	var err error
	if item.GSTRate, err = parseAmount(raw.GSTRate); err != nil {
		collector.warnf(RecordTypeStockItem, raw.Guid, name, "invalid GST rate %q; treated as zero", raw.GSTRate)
		item.GSTRate = decimal.Zero
	}
	if item.OpeningQty, err = parseAmount(raw.OpeningQty); err != nil {
		collector.errorf(RecordTypeStockItem, raw.Guid, name, "invalid opening quantity %q", raw.OpeningQty)
		return
	}
	item.OpeningRate, _ = parseAmount(raw.OpeningRate)
	item.OpeningValue, _ = parseAmount(raw.OpeningValue)
	item.ClosingQty, _ = parseAmount(raw.ClosingQty)
	out.Masters.StockItems = append(out.Masters.StockItems, item)
}

func normalizeXMLCurrency(raw *xmlCurrency, out *TallyData, collector *issueCollector) {
	symbol := strings.TrimSpace(raw.Symbol)
	name := strings.TrimSpace(raw.Name)
	if symbol == "" && name == "" {
		collector.errorf(RecordTypeCurrency, raw.Guid, "", "currency is missing both name and symbol")
		return
	}
	rate, _ := parseAmount(raw.OpeningRate)
	out.Masters.Currencies = append(out.Masters.Currencies, Currency{
		SourceGuid:    raw.Guid,
		Symbol:        symbol,
		Name:          name,
		DecimalPlaces: parseIntDefault(raw.DecimalPlaces, 2),
		OpeningRate:   rate,
	})
}

func normalizeXMLVoucher(raw *xmlVoucher, out *TallyData, collector *issueCollector) {
	number := strings.TrimSpace(raw.Number)
	date, err := parseSourceDate(strings.TrimSpace(raw.Date))
	if err != nil {
		collector.errorf(RecordTypeVoucher, raw.Guid, number, "invalid voucher date %q", raw.Date)
		return
	}

	voucher := Voucher{
		SourceGuid:      raw.Guid,
		Number:          number,
		Type:            NormalizeVoucherType(raw.VchType),
		TypeName:        strings.TrimSpace(raw.VchType),
		Date:            date,
		Narration:       strings.TrimSpace(raw.Narration),
		PartyLedgerName: strings.TrimSpace(raw.PartyLedgerName),
		CurrencySymbol:  strings.TrimSpace(raw.Currency),
	}
	voucher.ExchangeRate, _ = parseAmount(raw.ExchangeRate)
	voucher.PlaceOfSupply = strings.TrimSpace(raw.PlaceOfSupply)
	voucher.IRN = strings.TrimSpace(raw.IRN)
	voucher.EInvoiceQRCode = strings.TrimSpace(raw.EInvoiceQRCode)

	for _, e := range raw.LedgerEntries {
		amount, aerr := parseAmount(e.Amount)
		if aerr != nil {
			collector.errorf(RecordTypeVoucher, raw.Guid, number, "ledger entry %q has invalid amount %q", e.LedgerName, e.Amount)
			return
		}
		entry, eerr := NewLedgerEntry(strings.TrimSpace(e.LedgerName), amount)
		if eerr != nil {
			collector.errorf(RecordTypeVoucher, raw.Guid, number, "invalid ledger entry: %v", eerr)
			return
		}
		entry.LedgerGuid = e.LedgerGuid
		entry.IsPartyLedger = parseYesNo(e.IsPartyLedger)
		voucher.LedgerEntries = append(voucher.LedgerEntries, entry)

		for _, b := range e.BillAllocations {
			amt, berr := parseAmount(b.Amount)
			if berr != nil {
				collector.warnf(RecordTypeVoucher, raw.Guid, number, "bill allocation %q has invalid amount %q; dropped", b.Name, b.Amount)
				continue
			}
			voucher.BillAllocations = append(voucher.BillAllocations, BillAllocation{
				LedgerName: entry.LedgerName,
				BillName:   strings.TrimSpace(b.Name),
				Type:       normalizeBillType(b.BillType),
				Amount:     amt,
			})
		}
		for _, c := range e.CostAllocations {
			amt, cerr := parseAmount(c.Amount)
			if cerr != nil {
				collector.warnf(RecordTypeVoucher, raw.Guid, number, "cost allocation %q has invalid amount %q; dropped", c.CostCenter, c.Amount)
				continue
			}
			voucher.CostAllocations = append(voucher.CostAllocations, CostAllocation{
				LedgerName: entry.LedgerName,
				Category:   strings.TrimSpace(c.Category),
				CostCenter: strings.TrimSpace(c.CostCenter),
				Amount:     amt,
			})
		}
	}

	if len(voucher.LedgerEntries) == 0 {
		collector.errorf(RecordTypeVoucher, raw.Guid, number, "voucher has no ledger entries")
		return
	}

	for _, inv := range raw.InventoryEntries {
		entry := InventoryEntry{
			StockItemName: strings.TrimSpace(inv.StockItemName),
			StockItemGuid: inv.StockItemGuid,
		}
		entry.Qty, _ = parseAmount(inv.Qty)
		entry.Rate, _ = parseAmount(inv.Rate)
		entry.Amount, _ = parseAmount(inv.Amount)
		for _, g := range inv.Godowns {
			qty, gerr := parseAmount(g.Qty)
			if gerr != nil {
				collector.warnf(RecordTypeVoucher, raw.Guid, number, "godown allocation %q has invalid quantity %q; dropped", g.GodownName, g.Qty)
				continue
			}
			entry.GodownAllocations = append(entry.GodownAllocations, GodownAllocation{
				GodownName: strings.TrimSpace(g.GodownName),
				Qty:        qty,
			})
		}
		voucher.InventoryEntries = append(voucher.InventoryEntries, entry)
	}

	out.Vouchers = append(out.Vouchers, voucher)
}

func normalizeBillType(raw string) BillAllocationType {
	switch normalizeKey(raw) {
	case "NEW REF", "NEW":
		return BillAllocationTypeNew
	case "AGST REF", "AGAINST REF", "AGAINST":
		return BillAllocationTypeAgainst
	case "ADVANCE":
		return BillAllocationTypeAdvance
	default:
		return BillAllocationTypeOnAccount
	}
}

func parseYesNo(raw string) bool {
	switch normalizeKey(raw) {
	case "YES", "TRUE", "1", "Y":
		return true
	}
	return false
}

func parseIntDefault(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return def
	}
	return int(d.IntPart())
}

// parseAmount tolerates thousands separators and blank values (zero).
func parseAmount(raw string) (decimal.Decimal, error) {
	return utils.ParseDecimal(raw)
}
