package tallyimport

import (
	"fmt"
	"strings"

	"github.com/himanshudhami/invoicex/models"
)

// MappingSource records which tier of the resolution order produced a
// mapping. Ledger overrides beat group overrides beat built-in defaults
// beat the suspense fallback; the ordering is part of the contract.
type MappingSource string

const (
	MappingSourceLedgerOverride MappingSource = "ledger_override"
	MappingSourceGroupOverride  MappingSource = "group_override"
	MappingSourceDefault        MappingSource = "default"
	MappingSourceSuspense       MappingSource = "suspense"
	MappingSourceSkipped        MappingSource = "skipped"
)

type Resolution struct {
	Kind   models.TargetEntityKind `json:"kind"`
	Id     int                     `json:"id"`
	Source MappingSource           `json:"source"`
	Reason string                  `json:"reason"`
}

func (r Resolution) Unresolved() bool {
	return r.Source == MappingSourceSuspense || r.Source == MappingSourceSkipped
}

// MappingTable holds one batch's operator-supplied overrides. It is built
// from the persisted override rows and passed into the mapper explicitly;
// the mapper has no ambient configuration.
type MappingTable struct {
	ledgerOverrides map[string]targetRef
	groupOverrides  map[string]targetRef
	skipUnmapped    bool
}

type targetRef struct {
	kind models.TargetEntityKind
	id   int
}

func NewMappingTable(overrides []models.ImportMappingOverride, skipUnmapped bool) *MappingTable {
	table := &MappingTable{
		ledgerOverrides: map[string]targetRef{},
		groupOverrides:  map[string]targetRef{},
		skipUnmapped:    skipUnmapped,
	}
	for _, o := range overrides {
		ref := targetRef{kind: o.TargetKind, id: o.TargetId}
		switch o.Scope {
		case models.MappingScopeLedger:
			table.ledgerOverrides[classifierKey(o.SourceName)] = ref
		case models.MappingScopeGroup:
			table.groupOverrides[classifierKey(o.SourceName)] = ref
		}
	}
	return table
}

type defaultGroupKind struct {
	group string
	kind  models.TargetEntityKind
}

// defaultGroupKinds maps well-known chart-of-accounts group names to the
// target entity kind a ledger under that group becomes. Groups absent from
// this table are unresolved and fall through to suspense or skip. The list
// is ordered: the substring fallback takes the first match.
var defaultGroupKinds = []defaultGroupKind{
	{"BANK ACCOUNTS", models.TargetKindBankAccount},
	{"BANK OD A/C", models.TargetKindBankAccount},
	{"SUNDRY DEBTORS", models.TargetKindCustomer},
	{"SUNDRY CREDITORS", models.TargetKindVendor},
	{"CASH-IN-HAND", models.TargetKindAccount},
	{"CASH IN HAND", models.TargetKindAccount},
	{"SALES ACCOUNTS", models.TargetKindAccount},
	{"PURCHASE ACCOUNTS", models.TargetKindAccount},
	{"DIRECT EXPENSES", models.TargetKindAccount},
	{"INDIRECT EXPENSES", models.TargetKindAccount},
	{"DIRECT INCOMES", models.TargetKindAccount},
	{"INDIRECT INCOMES", models.TargetKindAccount},
	{"FIXED ASSETS", models.TargetKindAccount},
	{"CURRENT ASSETS", models.TargetKindAccount},
	{"CURRENT LIABILITIES", models.TargetKindAccount},
	{"CAPITAL ACCOUNT", models.TargetKindAccount},
	{"RESERVES & SURPLUS", models.TargetKindAccount},
	{"DUTIES & TAXES", models.TargetKindAccount},
	{"DUTIES AND TAXES", models.TargetKindAccount},
	{"PROVISIONS", models.TargetKindAccount},
	{"SECURED LOANS", models.TargetKindAccount},
	{"UNSECURED LOANS", models.TargetKindAccount},
	{"LOANS (LIABILITY)", models.TargetKindAccount},
	{"LOANS & ADVANCES (ASSET)", models.TargetKindAccount},
	{"INVESTMENTS", models.TargetKindAccount},
	{"SUSPENSE A/C", models.TargetKindAccount},
	{"MISC. EXPENSES (ASSET)", models.TargetKindAccount},
}

// ResolveLedger walks the resolution order for one ledger reference.
func (t *MappingTable) ResolveLedger(ledgerName string, parentGroup string) Resolution {
	if ref, ok := t.ledgerOverrides[classifierKey(ledgerName)]; ok {
		return Resolution{
			Kind:   ref.kind,
			Id:     ref.id,
			Source: MappingSourceLedgerOverride,
			Reason: fmt.Sprintf("ledger override for %q -> %s/%d", ledgerName, ref.kind, ref.id),
		}
	}
	if ref, ok := t.groupOverrides[classifierKey(parentGroup)]; ok {
		return Resolution{
			Kind:   ref.kind,
			Id:     ref.id,
			Source: MappingSourceGroupOverride,
			Reason: fmt.Sprintf("group override for %q -> %s/%d", parentGroup, ref.kind, ref.id),
		}
	}
	if kind, ok := lookupDefaultKind(parentGroup); ok {
		return Resolution{
			Kind:   kind,
			Source: MappingSourceDefault,
			Reason: fmt.Sprintf("group %q maps to %s by default", parentGroup, kind),
		}
	}
	if t.skipUnmapped {
		return Resolution{
			Source: MappingSourceSkipped,
			Reason: fmt.Sprintf("no mapping found for ledger %q (group %q); skipped per configuration", ledgerName, parentGroup),
		}
	}
	return Resolution{
		Kind:   models.TargetKindSuspense,
		Source: MappingSourceSuspense,
		Reason: fmt.Sprintf("no mapping found for ledger %q (group %q); routed to suspense", ledgerName, parentGroup),
	}
}

func lookupDefaultKind(parentGroup string) (models.TargetEntityKind, bool) {
	key := classifierKey(parentGroup)
	if key == "" {
		return "", false
	}
	for _, entry := range defaultGroupKinds {
		if key == entry.group {
			return entry.kind, true
		}
	}
	// Subgroup names usually embed the primary group ("Sundry Debtors -
	// North"); fall back to substring containment.
	for _, entry := range defaultGroupKinds {
		if strings.Contains(key, entry.group) {
			return entry.kind, true
		}
	}
	return "", false
}
