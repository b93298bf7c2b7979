package tallyimport

import (
	"testing"

	"github.com/himanshudhami/invoicex/models"
)

func TestResolveLedger_OverrideOrder(t *testing.T) {
	overrides := []models.ImportMappingOverride{
		{Scope: models.MappingScopeLedger, SourceName: "Acme Supplies", TargetKind: models.TargetKindVendor, TargetId: 41},
		{Scope: models.MappingScopeGroup, SourceName: "Sundry Creditors", TargetKind: models.TargetKindAccount, TargetId: 9},
	}
	table := NewMappingTable(overrides, false)

	// The ledger override wins over the group override covering the same row.
	r := table.ResolveLedger("Acme Supplies", "Sundry Creditors")
	if r.Source != MappingSourceLedgerOverride || r.Kind != models.TargetKindVendor || r.Id != 41 {
		t.Errorf("ledger override not applied: %+v", r)
	}

	// A sibling under the same group without its own override takes the
	// group override.
	r = table.ResolveLedger("Other Supplier", "Sundry Creditors")
	if r.Source != MappingSourceGroupOverride || r.Id != 9 {
		t.Errorf("group override not applied: %+v", r)
	}

	// No override: the built-in group defaults decide the kind.
	r = table.ResolveLedger("HDFC Bank", "Bank Accounts")
	if r.Source != MappingSourceDefault || r.Kind != models.TargetKindBankAccount {
		t.Errorf("default mapping not applied: %+v", r)
	}

	// Nothing matches: suspense is the end of the chain.
	r = table.ResolveLedger("Mystery", "Weird Group")
	if r.Source != MappingSourceSuspense || r.Kind != models.TargetKindSuspense {
		t.Errorf("suspense fallback not applied: %+v", r)
	}
	if !r.Unresolved() {
		t.Error("suspense resolution must report as unresolved")
	}
}

func TestResolveLedger_SkipUnmapped(t *testing.T) {
	table := NewMappingTable(nil, true)
	r := table.ResolveLedger("Mystery", "Weird Group")
	if r.Source != MappingSourceSkipped {
		t.Errorf("skip_unmapped not honored: %+v", r)
	}
	if !r.Unresolved() {
		t.Error("skipped resolution must report as unresolved")
	}
}

func TestResolveLedger_MatchingIsCaseInsensitive(t *testing.T) {
	overrides := []models.ImportMappingOverride{
		{Scope: models.MappingScopeLedger, SourceName: "acme supplies", TargetKind: models.TargetKindVendor, TargetId: 41},
	}
	table := NewMappingTable(overrides, false)
	r := table.ResolveLedger("ACME SUPPLIES", "Sundry Creditors")
	if r.Source != MappingSourceLedgerOverride {
		t.Errorf("case-insensitive override match failed: %+v", r)
	}
}

func TestResolveLedger_DefaultKinds(t *testing.T) {
	table := NewMappingTable(nil, false)
	cases := []struct {
		group string
		kind  models.TargetEntityKind
	}{
		{"Bank Accounts", models.TargetKindBankAccount},
		{"Sundry Debtors", models.TargetKindCustomer},
		{"Sundry Creditors", models.TargetKindVendor},
		{"Indirect Expenses", models.TargetKindAccount},
		{"Duties & Taxes", models.TargetKindAccount},
	}
	for _, tc := range cases {
		r := table.ResolveLedger("any", tc.group)
		if r.Source != MappingSourceDefault || r.Kind != tc.kind {
			t.Errorf("group %q resolved to %+v, want default/%s", tc.group, r, tc.kind)
		}
	}
}

func TestResolveLedger_SubgroupSubstringFallback(t *testing.T) {
	table := NewMappingTable(nil, false)
	// Subgroups embed the primary group name; containment must still route
	// them to the right kind.
	r := table.ResolveLedger("North Traders", "Sundry Debtors - North")
	if r.Source != MappingSourceDefault || r.Kind != models.TargetKindCustomer {
		t.Errorf("subgroup fallback failed: %+v", r)
	}
}

func TestResolveLedger_SubstringFallbackIsDeterministic(t *testing.T) {
	table := NewMappingTable(nil, false)
	first := table.ResolveLedger("x", "Bank Accounts (Sundry Debtors Branch)")
	for i := 0; i < 50; i++ {
		again := table.ResolveLedger("x", "Bank Accounts (Sundry Debtors Branch)")
		if again.Kind != first.Kind {
			t.Fatalf("resolution flapped between %s and %s", first.Kind, again.Kind)
		}
	}
	// Ordered table: BANK ACCOUNTS is listed before SUNDRY DEBTORS.
	if first.Kind != models.TargetKindBankAccount {
		t.Errorf("kind = %s, want bank_account (first entry in the ordered table)", first.Kind)
	}
}
