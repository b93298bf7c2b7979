package tally

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// jsonAmount accepts amounts either as JSON numbers or as quoted strings
// (with optional thousands separators). Export tools disagree on which one
// they emit, so both are tolerated.
type jsonAmount struct {
	decimal.Decimal
}

func (a *jsonAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		d, err := parseAmount(s)
		if err != nil {
			return err
		}
		a.Decimal = d
		return nil
	}
	return a.Decimal.UnmarshalJSON(data)
}

type jsonFile struct {
	Masters  jsonMasters   `json:"masters"`
	Vouchers []jsonVoucher `json:"vouchers"`
}

type jsonMasters struct {
	Currencies     []jsonCurrency     `json:"currencies"`
	Units          []jsonUnit         `json:"units"`
	LedgerGroups   []jsonLedgerGroup  `json:"ledger_groups"`
	Ledgers        []jsonLedger       `json:"ledgers"`
	StockGroups    []jsonStockGroup   `json:"stock_groups"`
	StockItems     []jsonStockItem    `json:"stock_items"`
	Godowns        []jsonGodown       `json:"godowns"`
	CostCategories []jsonCostCategory `json:"cost_categories"`
	CostCenters    []jsonCostCenter   `json:"cost_centers"`
	VoucherTypes   []jsonVoucherType  `json:"voucher_types"`
}

type jsonCurrency struct {
	Guid          string     `json:"guid"`
	Symbol        string     `json:"symbol"`
	Name          string     `json:"name"`
	DecimalPlaces int        `json:"decimal_places"`
	OpeningRate   jsonAmount `json:"opening_rate"`
}

type jsonUnit struct {
	Guid          string `json:"guid"`
	Name          string `json:"name"`
	FormalName    string `json:"formal_name"`
	DecimalPlaces int    `json:"decimal_places"`
}

type jsonLedgerGroup struct {
	Guid             string `json:"guid"`
	Name             string `json:"name"`
	Parent           string `json:"parent"`
	IsRevenue        bool   `json:"is_revenue"`
	IsDeemedPositive bool   `json:"is_deemed_positive"`
}

type jsonLedger struct {
	Guid                string     `json:"guid"`
	Name                string     `json:"name"`
	Parent              string     `json:"parent"`
	Alias               string     `json:"alias"`
	GSTIN               string     `json:"gstin"`
	GSTRegistrationType string     `json:"gst_registration_type"`
	BankAccountNumber   string     `json:"bank_account_number"`
	BankIFSC            string     `json:"bank_ifsc"`
	BankName            string     `json:"bank_name"`
	IsBillwiseOn        bool       `json:"is_billwise_on"`
	OpeningBalance      jsonAmount `json:"opening_balance"`
	ClosingBalance      jsonAmount `json:"closing_balance"`
}

type jsonStockGroup struct {
	Guid   string `json:"guid"`
	Name   string `json:"name"`
	Parent string `json:"parent"`
}

type jsonStockItem struct {
	Guid         string     `json:"guid"`
	Name         string     `json:"name"`
	Parent       string     `json:"parent"`
	BaseUnit     string     `json:"base_unit"`
	HSNCode      string     `json:"hsn_code"`
	GSTRate      jsonAmount `json:"gst_rate"`
	OpeningQty   jsonAmount `json:"opening_qty"`
	OpeningRate  jsonAmount `json:"opening_rate"`
	OpeningValue jsonAmount `json:"opening_value"`
	ClosingQty   jsonAmount `json:"closing_qty"`
}

type jsonGodown struct {
	Guid    string `json:"guid"`
	Name    string `json:"name"`
	Parent  string `json:"parent"`
	Address string `json:"address"`
}

type jsonCostCategory struct {
	Guid string `json:"guid"`
	Name string `json:"name"`
}

type jsonCostCenter struct {
	Guid     string `json:"guid"`
	Name     string `json:"name"`
	Parent   string `json:"parent"`
	Category string `json:"category"`
}

type jsonVoucherType struct {
	Guid            string `json:"guid"`
	Name            string `json:"name"`
	Parent          string `json:"parent"`
	Abbreviation    string `json:"abbreviation"`
	NumberingMethod string `json:"numbering_method"`
}

type jsonVoucher struct {
	Guid             string               `json:"guid"`
	Number           string               `json:"number"`
	Type             string               `json:"type"`
	Date             string               `json:"date"`
	Narration        string               `json:"narration"`
	PartyLedgerName  string               `json:"party_ledger_name"`
	Currency         string               `json:"currency"`
	ExchangeRate     jsonAmount           `json:"exchange_rate"`
	PlaceOfSupply    string               `json:"place_of_supply"`
	IRN              string               `json:"irn"`
	EInvoiceQRCode   string               `json:"e_invoice_qr_code"`
	LedgerEntries    []jsonLedgerEntry    `json:"ledger_entries"`
	InventoryEntries []jsonInventoryEntry `json:"inventory_entries"`
}

type jsonLedgerEntry struct {
	LedgerName      string               `json:"ledger_name"`
	LedgerGuid      string               `json:"ledger_guid"`
	Amount          jsonAmount           `json:"amount"`
	IsPartyLedger   bool                 `json:"is_party_ledger"`
	BillAllocations []jsonBillAllocation `json:"bill_allocations"`
	CostAllocations []jsonCostAllocation `json:"cost_allocations"`
}

type jsonBillAllocation struct {
	Name     string     `json:"name"`
	BillType string     `json:"bill_type"`
	Amount   jsonAmount `json:"amount"`
}

type jsonCostAllocation struct {
	Category   string     `json:"category"`
	CostCenter string     `json:"cost_center"`
	Amount     jsonAmount `json:"amount"`
}

type jsonInventoryEntry struct {
	StockItemName string                 `json:"stock_item_name"`
	StockItemGuid string                 `json:"stock_item_guid"`
	Qty           jsonAmount             `json:"qty"`
	Rate          jsonAmount             `json:"rate"`
	Amount        jsonAmount             `json:"amount"`
	Godowns       []jsonGodownAllocation `json:"godown_allocations"`
}

type jsonGodownAllocation struct {
	GodownName string     `json:"godown_name"`
	Qty        jsonAmount `json:"qty"`
}

func parseJSON(data []byte) (*TallyData, []ValidationIssue, error) {
	var file jsonFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("decoding JSON export: %w", err)
	}

	out := &TallyData{}
	collector := &issueCollector{}

	for _, c := range file.Masters.Currencies {
		if strings.TrimSpace(c.Symbol) == "" && strings.TrimSpace(c.Name) == "" {
			collector.errorf(RecordTypeCurrency, c.Guid, "", "currency is missing both name and symbol")
			continue
		}
		places := c.DecimalPlaces
		if places == 0 {
			places = 2
		}
		out.Masters.Currencies = append(out.Masters.Currencies, Currency{
			SourceGuid:    c.Guid,
			Symbol:        strings.TrimSpace(c.Symbol),
			Name:          strings.TrimSpace(c.Name),
			DecimalPlaces: places,
			OpeningRate:   c.OpeningRate.Decimal,
		})
	}

	for _, u := range file.Masters.Units {
		if strings.TrimSpace(u.Name) == "" {
			collector.errorf(RecordTypeUnit, u.Guid, "", "unit is missing a name")
			continue
		}
		out.Masters.Units = append(out.Masters.Units, Unit{
			SourceGuid:    u.Guid,
			Name:          strings.TrimSpace(u.Name),
			FormalName:    strings.TrimSpace(u.FormalName),
			DecimalPlaces: u.DecimalPlaces,
		})
	}

	for _, g := range file.Masters.LedgerGroups {
		if strings.TrimSpace(g.Name) == "" {
			collector.errorf(RecordTypeLedger, g.Guid, "", "ledger group is missing a name")
			continue
		}
		out.Masters.LedgerGroups = append(out.Masters.LedgerGroups, LedgerGroup{
			SourceGuid:       g.Guid,
			Name:             strings.TrimSpace(g.Name),
			Parent:           strings.TrimSpace(g.Parent),
			IsRevenue:        g.IsRevenue,
			IsDeemedPositive: g.IsDeemedPositive,
		})
	}

	for _, l := range file.Masters.Ledgers {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			collector.errorf(RecordTypeLedger, l.Guid, "", "ledger is missing a name")
			continue
		}
		if strings.TrimSpace(l.Parent) == "" {
			collector.warnf(RecordTypeLedger, l.Guid, name, "ledger has no parent group; classification heuristics will not apply")
		}
		out.Masters.Ledgers = append(out.Masters.Ledgers, Ledger{
			SourceGuid:          l.Guid,
			Name:                name,
			Parent:              strings.TrimSpace(l.Parent),
			Alias:               strings.TrimSpace(l.Alias),
			GSTIN:               strings.TrimSpace(l.GSTIN),
			GSTRegistrationType: strings.TrimSpace(l.GSTRegistrationType),
			BankAccountNumber:   strings.TrimSpace(l.BankAccountNumber),
			BankIFSC:            strings.TrimSpace(l.BankIFSC),
			BankName:            strings.TrimSpace(l.BankName),
			IsBillwiseOn:        l.IsBillwiseOn,
			OpeningBalance:      l.OpeningBalance.Decimal,
			ClosingBalance:      l.ClosingBalance.Decimal,
		})
	}

	for _, g := range file.Masters.StockGroups {
		if strings.TrimSpace(g.Name) == "" {
			collector.errorf(RecordTypeStockGroup, g.Guid, "", "stock group is missing a name")
			continue
		}
		out.Masters.StockGroups = append(out.Masters.StockGroups, StockGroup{
			SourceGuid: g.Guid,
			Name:       strings.TrimSpace(g.Name),
			Parent:     strings.TrimSpace(g.Parent),
		})
	}

	for _, s := range file.Masters.StockItems {
		if strings.TrimSpace(s.Name) == "" {
			collector.errorf(RecordTypeStockItem, s.Guid, "", "stock item is missing a name")
			continue
		}
		out.Masters.StockItems = append(out.Masters.StockItems, StockItem{
			SourceGuid:   s.Guid,
			Name:         strings.TrimSpace(s.Name),
			Parent:       strings.TrimSpace(s.Parent),
			BaseUnit:     strings.TrimSpace(s.BaseUnit),
			HSNCode:      strings.TrimSpace(s.HSNCode),
			GSTRate:      s.GSTRate.Decimal,
			OpeningQty:   s.OpeningQty.Decimal,
			OpeningRate:  s.OpeningRate.Decimal,
			OpeningValue: s.OpeningValue.Decimal,
			ClosingQty:   s.ClosingQty.Decimal,
		})
	}

	for _, g := range file.Masters.Godowns {
		if strings.TrimSpace(g.Name) == "" {
			collector.errorf(RecordTypeGodown, g.Guid, "", "godown is missing a name")
			continue
		}
		out.Masters.Godowns = append(out.Masters.Godowns, Godown{
			SourceGuid: g.Guid,
			Name:       strings.TrimSpace(g.Name),
			Parent:     strings.TrimSpace(g.Parent),
			Address:    strings.TrimSpace(g.Address),
		})
	}

	for _, c := range file.Masters.CostCategories {
		if strings.TrimSpace(c.Name) == "" {
			collector.errorf(RecordTypeCostCategory, c.Guid, "", "cost category is missing a name")
			continue
		}
		out.Masters.CostCategories = append(out.Masters.CostCategories, CostCategory{
			SourceGuid: c.Guid,
			Name:       strings.TrimSpace(c.Name),
		})
	}

	for _, c := range file.Masters.CostCenters {
		if strings.TrimSpace(c.Name) == "" {
			collector.errorf(RecordTypeCostCenter, c.Guid, "", "cost center is missing a name")
			continue
		}
		out.Masters.CostCenters = append(out.Masters.CostCenters, CostCenter{
			SourceGuid: c.Guid,
			Name:       strings.TrimSpace(c.Name),
			Parent:     strings.TrimSpace(c.Parent),
			Category:   strings.TrimSpace(c.Category),
		})
	}

	for _, v := range file.Masters.VoucherTypes {
		if strings.TrimSpace(v.Name) == "" {
			continue
		}
		out.Masters.VoucherTypes = append(out.Masters.VoucherTypes, VoucherTypeDef{
			SourceGuid:      v.Guid,
			Name:            strings.TrimSpace(v.Name),
			Parent:          NormalizeVoucherType(v.Parent),
			Abbreviation:    strings.TrimSpace(v.Abbreviation),
			NumberingMethod: strings.TrimSpace(v.NumberingMethod),
		})
	}

	for _, raw := range file.Vouchers {
		normalizeJSONVoucher(&raw, out, collector)
	}

	return out, collector.issues, nil
}

func normalizeJSONVoucher(raw *jsonVoucher, out *TallyData, collector *issueCollector) {
	number := strings.TrimSpace(raw.Number)
	date, err := parseSourceDate(strings.TrimSpace(raw.Date))
	if err != nil {
		collector.errorf(RecordTypeVoucher, raw.Guid, number, "invalid voucher date %q", raw.Date)
		return
	}

	voucher := Voucher{
		SourceGuid:      raw.Guid,
		Number:          number,
		Type:            NormalizeVoucherType(raw.Type),
		TypeName:        strings.TrimSpace(raw.Type),
		Date:            date,
		Narration:       strings.TrimSpace(raw.Narration),
		PartyLedgerName: strings.TrimSpace(raw.PartyLedgerName),
		CurrencySymbol:  strings.TrimSpace(raw.Currency),
		ExchangeRate:    raw.ExchangeRate.Decimal,
		PlaceOfSupply:   strings.TrimSpace(raw.PlaceOfSupply),
		IRN:             strings.TrimSpace(raw.IRN),
		EInvoiceQRCode:  strings.TrimSpace(raw.EInvoiceQRCode),
	}

	for _, e := range raw.LedgerEntries {
		entry, eerr := NewLedgerEntry(strings.TrimSpace(e.LedgerName), e.Amount.Decimal)
		if eerr != nil {
			collector.errorf(RecordTypeVoucher, raw.Guid, number, "invalid ledger entry: %v", eerr)
			return
		}
		entry.LedgerGuid = e.LedgerGuid
		entry.IsPartyLedger = e.IsPartyLedger
		voucher.LedgerEntries = append(voucher.LedgerEntries, entry)

		for _, b := range e.BillAllocations {
			voucher.BillAllocations = append(voucher.BillAllocations, BillAllocation{
				LedgerName: entry.LedgerName,
				BillName:   strings.TrimSpace(b.Name),
				Type:       normalizeBillType(b.BillType),
				Amount:     b.Amount.Decimal,
			})
		}
		for _, c := range e.CostAllocations {
			voucher.CostAllocations = append(voucher.CostAllocations, CostAllocation{
				LedgerName: entry.LedgerName,
				Category:   strings.TrimSpace(c.Category),
				CostCenter: strings.TrimSpace(c.CostCenter),
				Amount:     c.Amount.Decimal,
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
			Qty:           inv.Qty.Decimal,
			Rate:          inv.Rate.Decimal,
			Amount:        inv.Amount.Decimal,
		}
		for _, g := range inv.Godowns {
			entry.GodownAllocations = append(entry.GodownAllocations, GodownAllocation{
				GodownName: strings.TrimSpace(g.GodownName),
				Qty:        g.Qty.Decimal,
			})
		}
		voucher.InventoryEntries = append(voucher.InventoryEntries, entry)
	}

	out.Vouchers = append(out.Vouchers, voucher)
}
