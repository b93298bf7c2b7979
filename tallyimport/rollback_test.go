package tallyimport

import (
	"context"
	"sync"
	"testing"

	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
)

type fakeRefSource struct {
	mu      sync.Mutex
	refs    map[tally.RecordType][]models.ImportEntityRef
	deleted []int
}

func newFakeRefSource() *fakeRefSource {
	return &fakeRefSource{refs: map[tally.RecordType][]models.ImportEntityRef{}}
}

func (f *fakeRefSource) add(ref models.ImportEntityRef) {
	f.refs[ref.RecordType] = append(f.refs[ref.RecordType], ref)
}

func (f *fakeRefSource) ListRefs(_ context.Context, batchId int, recordType tally.RecordType) ([]models.ImportEntityRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportEntityRef
	for _, ref := range f.refs[recordType] {
		if ref.BatchId != batchId {
			continue
		}
		if f.isDeleted(ref.ID) {
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

func (f *fakeRefSource) DeleteRef(_ context.Context, refId int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, refId)
	return nil
}

func (f *fakeRefSource) isDeleted(refId int) bool {
	for _, id := range f.deleted {
		if id == refId {
			return true
		}
	}
	return false
}

func rollbackFixture(batchId int) (*fakeTargetRepo, *fakeRefSource) {
	repo := newFakeTargetRepo()
	repo.journals = []fakeJournal{
		{id: 100, batchId: batchId, entry: models.TargetJournalEntry{SourceGuid: "vch-1"}},
		{id: 101, batchId: batchId, entry: models.TargetJournalEntry{SourceGuid: "vch-2"}},
		{id: 102, batchId: batchId, entry: models.TargetJournalEntry{SourceGuid: "led-rent"}},
	}

	refs := newFakeRefSource()
	refs.add(models.ImportEntityRef{ID: 1, BatchId: batchId, RecordType: tally.RecordTypeVoucher, SourceGuid: "vch-1", TargetKind: models.TargetKindJournalEntry, TargetId: 100})
	refs.add(models.ImportEntityRef{ID: 2, BatchId: batchId, RecordType: tally.RecordTypeVoucher, SourceGuid: "vch-2", TargetKind: models.TargetKindJournalEntry, TargetId: 101})
	refs.add(models.ImportEntityRef{ID: 3, BatchId: batchId, RecordType: tally.RecordTypeOpeningBalance, SourceGuid: "led-rent", TargetKind: models.TargetKindJournalEntry, TargetId: 102})
	refs.add(models.ImportEntityRef{ID: 4, BatchId: batchId, RecordType: tally.RecordTypeLedger, SourceGuid: "led-rent", TargetKind: models.TargetKindAccount, TargetId: 10})
	refs.add(models.ImportEntityRef{ID: 5, BatchId: batchId, RecordType: tally.RecordTypeLedger, SourceGuid: "led-vend", TargetKind: models.TargetKindVendor, TargetId: 11})
	refs.add(models.ImportEntityRef{ID: 6, BatchId: batchId, RecordType: tally.RecordTypeStockItem, SourceGuid: "itm-1", TargetKind: models.TargetKindStockItem, TargetId: 12})
	return repo, refs
}

func TestRollback_DeletesInReverseOrderAndGuardsSharedMasters(t *testing.T) {
	repo, refs := rollbackFixture(5)
	// The vendor created by this batch is now referenced by an invoice the
	// batch did not create; it must survive the rollback.
	repo.referenced["vendor|11"] = true

	batch := &models.ImportBatch{ID: 5, Status: models.BatchStatusCompleted}
	manager := NewRollbackManager(repo, refs)

	summary, err := manager.Rollback(testCtx(), batch, RollbackOptions{
		DeleteTransactions: true,
		DeleteMasters:      true,
		Reason:             "wrong company file",
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.DeletedTransactions != 3 {
		t.Errorf("deleted transactions = %d, want 3", summary.DeletedTransactions)
	}
	if summary.DeletedMasters != 2 {
		t.Errorf("deleted masters = %d, want 2 (account and stock item)", summary.DeletedMasters)
	}

	// Masters are removed in reverse dependency order: ledgers before the
	// stock items they may price against.
	want := []string{"account|10", "stock_item|12"}
	if len(repo.deleted) != len(want) {
		t.Fatalf("deleted records = %v, want %v", repo.deleted, want)
	}
	for i := range want {
		if repo.deleted[i] != want[i] {
			t.Fatalf("deleted records = %v, want %v", repo.deleted, want)
		}
	}

	if len(summary.RetainedMasters) != 1 || summary.RetainedMasters[0].Id != 11 {
		t.Fatalf("retained masters = %+v", summary.RetainedMasters)
	}
	if len(summary.Warnings) != 1 {
		t.Errorf("warnings = %+v", summary.Warnings)
	}

	// The manifest rows of everything deleted are gone; the retained
	// vendor's ref survives for a later retry.
	if refs.isDeleted(5) {
		t.Error("retained master's entity ref was deleted")
	}
	for _, id := range []int{1, 2, 3, 4, 6} {
		if !refs.isDeleted(id) {
			t.Errorf("entity ref %d not deleted", id)
		}
	}

	if batch.Status != models.BatchStatusRolledBack {
		t.Errorf("batch status = %s, want rolled_back", batch.Status)
	}
	if batch.RollbackReason != "wrong company file" || batch.RolledBackAt == nil {
		t.Errorf("rollback audit fields not set: %+v", batch)
	}
}

func TestRollback_TransactionsOnlyLeavesMasters(t *testing.T) {
	repo, refs := rollbackFixture(5)
	batch := &models.ImportBatch{ID: 5, Status: models.BatchStatusFailed}
	manager := NewRollbackManager(repo, refs)

	summary, err := manager.Rollback(testCtx(), batch, RollbackOptions{
		DeleteTransactions: true,
		DeleteMasters:      false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.DeletedTransactions != 3 {
		t.Errorf("deleted transactions = %d, want 3", summary.DeletedTransactions)
	}
	if summary.DeletedMasters != 0 || len(repo.deleted) != 0 {
		t.Errorf("masters touched: summary=%+v deleted=%v", summary, repo.deleted)
	}
	if refs.isDeleted(4) || refs.isDeleted(5) || refs.isDeleted(6) {
		t.Error("master entity refs deleted in transactions-only rollback")
	}
}

func TestRollback_RejectsNonTerminalBatch(t *testing.T) {
	repo, refs := rollbackFixture(5)
	batch := &models.ImportBatch{ID: 5, Status: models.BatchStatusImporting}
	manager := NewRollbackManager(repo, refs)

	if _, err := manager.Rollback(testCtx(), batch, RollbackOptions{DeleteTransactions: true}); err == nil {
		t.Fatal("rollback of a running batch accepted")
	}
	if len(repo.deleted) != 0 {
		t.Error("rejected rollback still deleted records")
	}
}

func TestMasterRollbackOrder_IsReverseOfImportOrder(t *testing.T) {
	order := masterRollbackOrder()
	if len(order) == 0 {
		t.Fatal("empty rollback order")
	}
	if order[0] != tally.RecordTypeLedger {
		t.Errorf("first rollback type = %s, want ledger (last master imported)", order[0])
	}
	if order[len(order)-1] != tally.RecordTypeCurrency {
		t.Errorf("last rollback type = %s, want currency (first master imported)", order[len(order)-1])
	}
	for _, rt := range order {
		if rt == tally.RecordTypeVoucher || rt == tally.RecordTypeOpeningBalance {
			t.Errorf("transaction type %s in the master rollback order", rt)
		}
	}
}

func TestRollback_AllowsFailedBatch(t *testing.T) {
	repo, refs := rollbackFixture(9)
	batch := &models.ImportBatch{ID: 9, Status: models.BatchStatusFailed}
	manager := NewRollbackManager(repo, refs)

	if _, err := manager.Rollback(testCtx(), batch, RollbackOptions{DeleteTransactions: true, DeleteMasters: true}); err != nil {
		t.Fatal(err)
	}
	if batch.Status != models.BatchStatusRolledBack {
		t.Errorf("batch status = %s, want rolled_back", batch.Status)
	}
}
