package tallyimport

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanshudhami/invoicex/models"
	"github.com/himanshudhami/invoicex/tally"
	"github.com/shopspring/decimal"
)

const (
	suspenseAccountName = "Import Suspense Account"
	openingAccountName  = "Opening Balance Adjustments"
)

type Config struct {
	// RecordTypes filters the run; empty means every type.
	RecordTypes []tally.RecordType
	FromDate    *time.Time
	ToDate      *time.Time

	CreateJournalEntries   bool
	UpdateStockQuantities  bool
	CreateSuspenseAccounts bool
	SkipUnmapped           bool

	// MaxRecordRetries bounds retries of one target-system write.
	MaxRecordRetries int
	// RecordTimeout caps one stalled target-system call; on expiry that
	// record fails and the run continues.
	RecordTimeout time.Duration
	// FailureEscalation is how many consecutive record failures are read
	// as a systemic outage and abort the batch.
	FailureEscalation int
	// Parallelism bounds the worker pool within one master record type.
	// Vouchers are always sequential.
	Parallelism int

	BalanceTolerance decimal.Decimal
	PatternsPath     string
}

func DefaultConfig() Config {
	return Config{
		CreateJournalEntries:   true,
		UpdateStockQuantities:  true,
		CreateSuspenseAccounts: true,
		MaxRecordRetries:       2,
		RecordTimeout:          30 * time.Second,
		FailureEscalation:      5,
		Parallelism:            1,
		BalanceTolerance:       BalanceToleranceFromEnv(),
	}
}

// BalanceToleranceFromEnv reads TALLY_BALANCE_TOLERANCE, defaulting to 0.01
// in the working currency.
func BalanceToleranceFromEnv() decimal.Decimal {
	if raw := os.Getenv("TALLY_BALANCE_TOLERANCE"); raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil && !d.IsNegative() {
			return d
		}
	}
	return decimal.NewFromFloat(0.01)
}

// Result is the durable outcome of one engine run. Everything in it is
// persisted onto the batch; the batch detail view is the single source of
// truth for what went wrong.
type Result struct {
	Counts          models.ImportCount
	TotalDebit      decimal.Decimal
	TotalCredit     decimal.Decimal
	Imbalance       decimal.Decimal
	SuspenseItems   []models.SuspenseItem
	Errors          []models.ImportErrorRecord
	Classifications []Classification
	Cancelled       bool
}

type resolvedRef struct {
	kind models.TargetEntityKind
	id   int
}

// Engine materializes one parsed batch into the target system in fixed
// dependency order. It is single-use: one engine per run.
type Engine struct {
	repo     models.TargetRepository
	mapping  *MappingTable
	patterns ClassifierPatterns
	tracker  *Tracker
	cfg      Config

	batchId int

	mu          sync.Mutex
	result      Result
	ledgerRefs  map[string]resolvedRef
	masterIds   map[tally.RecordType]map[string]int
	suspenseId  int
	openingId   int
	consecutive int

	cancelled atomic.Bool
}

func NewEngine(repo models.TargetRepository, mapping *MappingTable, patterns ClassifierPatterns, tracker *Tracker, cfg Config, batchId int) *Engine {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.BalanceTolerance.IsZero() {
		cfg.BalanceTolerance = BalanceToleranceFromEnv()
	}
	return &Engine{
		repo:       repo,
		mapping:    mapping,
		patterns:   patterns,
		tracker:    tracker,
		cfg:        cfg,
		batchId:    batchId,
		result:     Result{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero, Imbalance: decimal.Zero},
		ledgerRefs: map[string]resolvedRef{},
		masterIds:  map[tally.RecordType]map[string]int{},
	}
}

// Cancel requests cooperative cancellation. The run stops after the record
// in flight completes; nothing is interrupted mid-record.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

func (e *Engine) cancelRequested(ctx context.Context) bool {
	if e.cancelled.Load() {
		return true
	}
	if models.CancelRequestedForBatch(ctx, e.batchId) {
		e.cancelled.Store(true)
		return true
	}
	return false
}

func (e *Engine) wantsRecordType(rt tally.RecordType) bool {
	if len(e.cfg.RecordTypes) == 0 {
		return true
	}
	for _, t := range e.cfg.RecordTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Run executes the full dependency-ordered import. The returned error is
// batch-fatal (systemic outage, invalid configuration); per-record failures
// land in the Result instead.
func (e *Engine) Run(ctx context.Context, data *tally.TallyData) (*Result, error) {
	if data == nil {
		return nil, fmt.Errorf("no parsed data for batch %d", e.batchId)
	}
	if e.tracker == nil {
		e.tracker = NewTracker(e.batchId, nil)
	}
	groups := NewGroupTable(&data.Masters)

	if err := e.runMastersPhase(ctx, data); err != nil {
		return e.snapshotResult(), err
	}
	if err := e.runOpeningBalancesPhase(ctx, data); err != nil {
		return e.snapshotResult(), err
	}
	if err := e.runVouchersPhase(ctx, data, groups); err != nil {
		return e.snapshotResult(), err
	}

	return e.snapshotResult(), nil
}

func (e *Engine) snapshotResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result.Imbalance = e.result.TotalDebit.Sub(e.result.TotalCredit)
	e.result.Cancelled = e.cancelled.Load()
	out := e.result
	return &out
}

/* masters phase */

type masterItem struct {
	sourceGuid string
	name       string
	record     models.TargetRecord
	amount     decimal.Decimal
	group      string
}

func (e *Engine) runMastersPhase(ctx context.Context, data *tally.TallyData) error {
	sets := masterSets(data)
	total := 0
	for _, set := range sets {
		if e.wantsRecordType(set.recordType) {
			total += len(set.items)
		}
	}
	e.tracker.BeginPhase(ctx, models.PhaseMasters, total)

	for _, set := range sets {
		if !e.wantsRecordType(set.recordType) {
			continue
		}
		if err := e.importMasterSet(ctx, set); err != nil {
			return err
		}
	}
	return nil
}

type masterSet struct {
	recordType tally.RecordType
	items      []masterItem
}

// masterSets flattens the parsed masters into dependency order. Ledgers
// come last within the phase because their routing needs the mapper.
func masterSets(data *tally.TallyData) []masterSet {
	m := &data.Masters
	sets := []masterSet{}

	currencies := masterSet{recordType: tally.RecordTypeCurrency}
	for _, c := range m.Currencies {
		name := c.Symbol
		if name == "" {
			name = c.Name
		}
		currencies.items = append(currencies.items, masterItem{
			sourceGuid: c.SourceGuid,
			name:       name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeCurrency,
				Kind:       models.TargetKindCurrency,
				SourceGuid: c.SourceGuid,
				Name:       name,
				Fields: map[string]interface{}{
					"name":           c.Name,
					"decimal_places": c.DecimalPlaces,
					"exchange_rate":  c.OpeningRate,
				},
			},
		})
	}
	sets = append(sets, currencies)

	units := masterSet{recordType: tally.RecordTypeUnit}
	for _, u := range m.Units {
		units.items = append(units.items, masterItem{
			sourceGuid: u.SourceGuid,
			name:       u.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeUnit,
				Kind:       models.TargetKindUnit,
				SourceGuid: u.SourceGuid,
				Name:       u.Name,
				Fields: map[string]interface{}{
					"formal_name":    u.FormalName,
					"decimal_places": u.DecimalPlaces,
				},
			},
		})
	}
	sets = append(sets, units)

	stockGroups := masterSet{recordType: tally.RecordTypeStockGroup}
	for _, g := range m.StockGroups {
		stockGroups.items = append(stockGroups.items, masterItem{
			sourceGuid: g.SourceGuid,
			name:       g.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeStockGroup,
				Kind:       models.TargetKindStockGroup,
				SourceGuid: g.SourceGuid,
				Name:       g.Name,
				Fields:     map[string]interface{}{"parent": g.Parent},
			},
		})
	}
	sets = append(sets, stockGroups)

	stockItems := masterSet{recordType: tally.RecordTypeStockItem}
	for _, s := range m.StockItems {
		stockItems.items = append(stockItems.items, masterItem{
			sourceGuid: s.SourceGuid,
			name:       s.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeStockItem,
				Kind:       models.TargetKindStockItem,
				SourceGuid: s.SourceGuid,
				Name:       s.Name,
				Fields: map[string]interface{}{
					"parent":        s.Parent,
					"base_unit":     s.BaseUnit,
					"hsn_code":      s.HSNCode,
					"gst_rate":      s.GSTRate,
					"opening_qty":   s.OpeningQty,
					"opening_value": s.OpeningValue,
				},
			},
		})
	}
	sets = append(sets, stockItems)

	godowns := masterSet{recordType: tally.RecordTypeGodown}
	for _, g := range m.Godowns {
		godowns.items = append(godowns.items, masterItem{
			sourceGuid: g.SourceGuid,
			name:       g.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeGodown,
				Kind:       models.TargetKindWarehouse,
				SourceGuid: g.SourceGuid,
				Name:       g.Name,
				Fields:     map[string]interface{}{"address": g.Address},
			},
		})
	}
	sets = append(sets, godowns)

	costCategories := masterSet{recordType: tally.RecordTypeCostCategory}
	for _, c := range m.CostCategories {
		costCategories.items = append(costCategories.items, masterItem{
			sourceGuid: c.SourceGuid,
			name:       c.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeCostCategory,
				Kind:       models.TargetKindCostCategory,
				SourceGuid: c.SourceGuid,
				Name:       c.Name,
			},
		})
	}
	sets = append(sets, costCategories)

	costCenters := masterSet{recordType: tally.RecordTypeCostCenter}
	for _, c := range m.CostCenters {
		costCenters.items = append(costCenters.items, masterItem{
			sourceGuid: c.SourceGuid,
			name:       c.Name,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeCostCenter,
				Kind:       models.TargetKindCostCenter,
				SourceGuid: c.SourceGuid,
				Name:       c.Name,
				Fields:     map[string]interface{}{"category": c.Category},
			},
		})
	}
	sets = append(sets, costCenters)

	ledgers := masterSet{recordType: tally.RecordTypeLedger}
	for _, l := range m.Ledgers {
		ledgers.items = append(ledgers.items, masterItem{
			sourceGuid: l.SourceGuid,
			name:       l.Name,
			group:      l.Parent,
			amount:     l.OpeningBalance,
			record: models.TargetRecord{
				RecordType: tally.RecordTypeLedger,
				SourceGuid: l.SourceGuid,
				Name:       l.Name,
				Fields: map[string]interface{}{
					"parent":              l.Parent,
					"gstin":               l.GSTIN,
					"bank_name":           l.BankName,
					"bank_account_number": l.BankAccountNumber,
					"bank_ifsc":           l.BankIFSC,
					"opening_balance":     l.OpeningBalance,
				},
			},
		})
	}
	sets = append(sets, ledgers)

	return sets
}

func (e *Engine) importMasterSet(ctx context.Context, set masterSet) error {
	workers := e.cfg.Parallelism
	if set.recordType == tally.RecordTypeLedger {
		// Ledger routing updates the shared resolution cache in a defined
		// order; keep it sequential.
		workers = 1
	}
	if workers <= 1 {
		for i := range set.items {
			if e.cancelRequested(ctx) {
				return nil
			}
			if err := e.importMasterItem(ctx, set.recordType, &set.items[i]); err != nil {
				return err
			}
		}
		return nil
	}

	jobs := make(chan *masterItem)
	errs := make(chan error, workers)
	quit := make(chan struct{})
	var quitOnce sync.Once
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if err := e.importMasterItem(ctx, set.recordType, item); err != nil {
					select {
					case errs <- err:
					default:
					}
					// Stop the feeder too: with every worker gone a plain
					// send on jobs would block forever.
					quitOnce.Do(func() { close(quit) })
					return
				}
			}
		}()
	}
feed:
	for i := range set.items {
		if e.cancelRequested(ctx) {
			break
		}
		select {
		case jobs <- &set.items[i]:
		case <-quit:
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func (e *Engine) importMasterItem(ctx context.Context, rt tally.RecordType, item *masterItem) error {
	e.addTotal(1)

	// Idempotent retry: a guid already imported by a previous run of this
	// batch (or an earlier one) is skipped, never re-created.
	kind, id, ok, err := e.repo.FindByExternalRef(ctx, rt, item.sourceGuid)
	if err != nil {
		return e.recordFailure(ctx, rt, item.sourceGuid, item.name, err)
	}
	if ok {
		e.cacheMaster(rt, item.name, kind, id)
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}

	record := item.record
	if rt == tally.RecordTypeLedger {
		resolution := e.mapping.ResolveLedger(item.name, item.group)
		switch resolution.Source {
		case MappingSourceSkipped:
			e.bumpSkipped()
			e.tracker.RecordDone(ctx, true, "")
			return nil
		case MappingSourceSuspense:
			return e.routeLedgerToSuspense(ctx, item, resolution)
		}
		if resolution.Id > 0 {
			// Override points at an existing row; nothing to create.
			e.cacheMaster(rt, item.name, resolution.Kind, resolution.Id)
			if err := models.RecordEntityRef(ctx, e.batchId, rt, item.sourceGuid, resolution.Kind, resolution.Id); err != nil {
				return e.recordFailure(ctx, rt, item.sourceGuid, item.name, err)
			}
			e.bumpImported()
			e.tracker.RecordDone(ctx, true, "")
			return nil
		}
		record.Kind = resolution.Kind
	}

	var newId int
	err = e.withRetry(ctx, func(recordCtx context.Context) error {
		var createErr error
		newId, createErr = e.repo.CreateRecord(recordCtx, e.batchId, record)
		return createErr
	})
	if err != nil {
		return e.recordFailure(ctx, rt, item.sourceGuid, item.name, err)
	}

	e.cacheMaster(rt, item.name, record.Kind, newId)
	if err := models.RecordEntityRef(ctx, e.batchId, rt, item.sourceGuid, record.Kind, newId); err != nil {
		return e.recordFailure(ctx, rt, item.sourceGuid, item.name, err)
	}
	e.bumpImported()
	e.tracker.RecordDone(ctx, true, "")
	return nil
}

// routeLedgerToSuspense parks an unmappable ledger on the batch suspense
// account so the run can finish with the trial balance intact.
func (e *Engine) routeLedgerToSuspense(ctx context.Context, item *masterItem, resolution Resolution) error {
	if !e.cfg.CreateSuspenseAccounts {
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}
	suspenseId, err := e.ensureSuspenseAccount(ctx)
	if err != nil {
		return e.recordFailure(ctx, tally.RecordTypeLedger, item.sourceGuid, item.name, err)
	}
	e.cacheMaster(tally.RecordTypeLedger, item.name, models.TargetKindSuspense, suspenseId)

	e.mu.Lock()
	e.result.Counts.SuspenseCount++
	e.result.SuspenseItems = append(e.result.SuspenseItems, models.SuspenseItem{
		BatchId:     e.batchId,
		RecordType:  tally.RecordTypeLedger,
		SourceGuid:  item.sourceGuid,
		SourceName:  item.name,
		LedgerGroup: item.group,
		Amount:      item.amount,
		Reason:      resolution.Reason,
	})
	e.mu.Unlock()

	e.tracker.RecordDone(ctx, true, "")
	return nil
}

func (e *Engine) ensureSuspenseAccount(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.suspenseId > 0 {
		id := e.suspenseId
		e.mu.Unlock()
		return id, nil
	}
	e.mu.Unlock()

	id, err := e.ensureSystemAccount(ctx, suspenseAccountName, models.TargetKindSuspense)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.suspenseId = id
	e.mu.Unlock()
	return id, nil
}

func (e *Engine) ensureOpeningAccount(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.openingId > 0 {
		id := e.openingId
		e.mu.Unlock()
		return id, nil
	}
	e.mu.Unlock()

	id, err := e.ensureSystemAccount(ctx, openingAccountName, models.TargetKindAccount)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.openingId = id
	e.mu.Unlock()
	return id, nil
}

// ensureSystemAccount finds or creates one of the engine's designated
// accounts, keyed on a stable synthetic guid so retries reuse it.
func (e *Engine) ensureSystemAccount(ctx context.Context, name string, kind models.TargetEntityKind) (int, error) {
	guid := fmt.Sprintf("system:%s", classifierKey(name))
	_, id, ok, err := e.repo.FindByExternalRef(ctx, tally.RecordTypeLedger, guid)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	err = e.withRetry(ctx, func(recordCtx context.Context) error {
		var createErr error
		id, createErr = e.repo.CreateRecord(recordCtx, e.batchId, models.TargetRecord{
			RecordType: tally.RecordTypeLedger,
			Kind:       kind,
			SourceGuid: guid,
			Name:       name,
		})
		return createErr
	})
	if err != nil {
		return 0, err
	}
	if err := models.RecordEntityRef(ctx, e.batchId, tally.RecordTypeLedger, guid, kind, id); err != nil {
		return 0, err
	}
	return id, nil
}

/* opening balances phase */

func (e *Engine) runOpeningBalancesPhase(ctx context.Context, data *tally.TallyData) error {
	if !e.wantsRecordType(tally.RecordTypeOpeningBalance) {
		return nil
	}
	pending := []tally.Ledger{}
	for _, l := range data.Masters.Ledgers {
		if !l.OpeningBalance.IsZero() {
			pending = append(pending, l)
		}
	}
	e.tracker.BeginPhase(ctx, models.PhaseOpeningBalances, len(pending))

	for i := range pending {
		if e.cancelRequested(ctx) {
			return nil
		}
		if err := e.importOpeningBalance(ctx, &pending[i]); err != nil {
			return err
		}
	}
	return nil
}

// importOpeningBalance posts one ledger's opening balance as a two-line
// journal against the opening-balance adjustment account. The ledger's
// stored sign convention carries through: negative = debit.
func (e *Engine) importOpeningBalance(ctx context.Context, ledger *tally.Ledger) error {
	e.addTotal(1)
	rt := tally.RecordTypeOpeningBalance

	_, _, ok, err := e.repo.FindByExternalRef(ctx, rt, ledger.SourceGuid)
	if err != nil {
		return e.recordFailure(ctx, rt, ledger.SourceGuid, ledger.Name, err)
	}
	if ok {
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}

	ref, ok := e.lookupLedger(ledger.Name)
	if !ok {
		// The ledger itself was skipped during the masters phase.
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}

	openingId, err := e.ensureOpeningAccount(ctx)
	if err != nil {
		return e.recordFailure(ctx, rt, ledger.SourceGuid, ledger.Name, err)
	}

	entry := models.TargetJournalEntry{
		SourceGuid: ledger.SourceGuid,
		Number:     fmt.Sprintf("OB-%d-%s", e.batchId, ledger.Name),
		Date:       time.Now().UTC(),
		Notes:      fmt.Sprintf("Opening balance for %s", ledger.Name),
	}
	amount := ledger.OpeningBalance
	if amount.IsNegative() {
		debit := amount.Neg()
		entry.Lines = []models.TargetJournalLine{
			{AccountKind: ref.kind, AccountId: ref.id, Debit: debit, Credit: decimal.Zero, Description: ledger.Name},
			{AccountKind: models.TargetKindAccount, AccountId: openingId, Debit: decimal.Zero, Credit: debit, Description: openingAccountName},
		}
	} else {
		entry.Lines = []models.TargetJournalLine{
			{AccountKind: ref.kind, AccountId: ref.id, Debit: decimal.Zero, Credit: amount, Description: ledger.Name},
			{AccountKind: models.TargetKindAccount, AccountId: openingId, Debit: amount, Credit: decimal.Zero, Description: openingAccountName},
		}
	}

	var journalId int
	err = e.withRetry(ctx, func(recordCtx context.Context) error {
		var createErr error
		journalId, createErr = e.repo.CreateJournalEntry(recordCtx, e.batchId, entry)
		return createErr
	})
	if err != nil {
		return e.recordFailure(ctx, rt, ledger.SourceGuid, ledger.Name, err)
	}
	if err := models.RecordEntityRef(ctx, e.batchId, rt, ledger.SourceGuid, models.TargetKindJournalEntry, journalId); err != nil {
		return e.recordFailure(ctx, rt, ledger.SourceGuid, ledger.Name, err)
	}
	e.bumpImported()
	e.tracker.RecordDone(ctx, true, "")
	return nil
}

/* vouchers phase */

func (e *Engine) runVouchersPhase(ctx context.Context, data *tally.TallyData, groups *GroupTable) error {
	if !e.wantsRecordType(tally.RecordTypeVoucher) {
		return nil
	}
	pending := []*tally.Voucher{}
	for i := range data.Vouchers {
		v := &data.Vouchers[i]
		if e.cfg.FromDate != nil && v.Date.Before(*e.cfg.FromDate) {
			continue
		}
		if e.cfg.ToDate != nil && v.Date.After(*e.cfg.ToDate) {
			continue
		}
		pending = append(pending, v)
	}
	e.tracker.BeginPhase(ctx, models.PhaseVouchers, len(pending))

	// Sequential on purpose: concurrent postings against the same account
	// race on balances.
	for _, v := range pending {
		if e.cancelRequested(ctx) {
			return nil
		}
		if err := e.importVoucher(ctx, v, groups); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) importVoucher(ctx context.Context, voucher *tally.Voucher, groups *GroupTable) error {
	e.addTotal(1)
	rt := tally.RecordTypeVoucher

	debit, credit := voucher.DebitCreditTotals()
	e.mu.Lock()
	e.result.TotalDebit = e.result.TotalDebit.Add(debit)
	e.result.TotalCredit = e.result.TotalCredit.Add(credit)
	e.mu.Unlock()

	_, _, ok, err := e.repo.FindByExternalRef(ctx, rt, voucher.SourceGuid)
	if err != nil {
		return e.recordFailure(ctx, rt, voucher.SourceGuid, voucher.Number, err)
	}
	if ok {
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}

	var classification *Classification
	if voucher.Type == tally.VoucherTypePayment {
		c := Classify(voucher, groups, e.patterns)
		e.mu.Lock()
		e.result.Classifications = append(e.result.Classifications, c)
		e.mu.Unlock()
		classification = &c
	}

	// Balance first: an unbalanced voucher is never partially posted.
	if balanceErr := voucher.BalanceError(e.cfg.BalanceTolerance); balanceErr != nil {
		e.recordVoucherError(ctx, voucher, "unbalanced", balanceErr.Error(), false)
		return nil
	}

	lines, suspense, skip, mapErr := e.mapVoucherLines(ctx, voucher, groups)
	if mapErr != nil {
		return e.recordFailure(ctx, rt, voucher.SourceGuid, voucher.Number, mapErr)
	}
	if skip {
		e.bumpSkipped()
		e.tracker.RecordDone(ctx, true, "")
		return nil
	}

	if e.cfg.CreateJournalEntries {
		notes := voucher.Narration
		if classification != nil {
			notes = fmt.Sprintf("%s [%s: %s]", notes, classification.Category, classification.Reason)
		}
		entry := models.TargetJournalEntry{
			SourceGuid:      voucher.SourceGuid,
			Number:          voucher.Number,
			Date:            voucher.Date,
			Notes:           notes,
			ReferenceNumber: voucher.Number,
			Lines:           lines,
		}
		var journalId int
		err = e.withRetry(ctx, func(recordCtx context.Context) error {
			var createErr error
			journalId, createErr = e.repo.CreateJournalEntry(recordCtx, e.batchId, entry)
			return createErr
		})
		if err != nil {
			return e.recordFailure(ctx, rt, voucher.SourceGuid, voucher.Number, err)
		}
		voucher.JournalEntryId = journalId
		if err := models.RecordEntityRef(ctx, e.batchId, rt, voucher.SourceGuid, models.TargetKindJournalEntry, journalId); err != nil {
			return e.recordFailure(ctx, rt, voucher.SourceGuid, voucher.Number, err)
		}
	}

	if e.cfg.UpdateStockQuantities {
		if err := e.applyInventory(ctx, voucher); err != nil {
			return e.recordFailure(ctx, rt, voucher.SourceGuid, voucher.Number, err)
		}
	}

	// Suspense lines are booked only once the voucher actually posted;
	// counting them earlier would leave phantom suspense entries when the
	// journal write fails.
	e.mu.Lock()
	for i := range suspense {
		e.result.SuspenseItems = append(e.result.SuspenseItems, suspense[i])
		e.result.Counts.SuspenseCount++
		e.result.Counts.TotalRecords++
	}
	e.mu.Unlock()
	e.bumpImported()
	e.tracker.RecordDone(ctx, true, "")
	return nil
}

// mapVoucherLines resolves every ledger entry to a target account line.
// Unresolved entries either skip the whole voucher (SkipUnmapped) or post
// against the suspense account with a Suspense Item attached.
func (e *Engine) mapVoucherLines(ctx context.Context, voucher *tally.Voucher, groups *GroupTable) ([]models.TargetJournalLine, []models.SuspenseItem, bool, error) {
	lines := make([]models.TargetJournalLine, 0, len(voucher.LedgerEntries))
	suspense := []models.SuspenseItem{}

	for _, le := range voucher.LedgerEntries {
		debit, credit := le.DebitCredit()
		ref, ok := e.lookupLedger(le.LedgerName)
		if !ok {
			var err error
			ref, ok, err = e.findImportedLedger(ctx, le.LedgerName, groups)
			if err != nil {
				return nil, nil, false, err
			}
		}
		if !ok {
			resolution := e.mapping.ResolveLedger(le.LedgerName, groups.ParentGroup(le.LedgerName))
			if resolution.Source == MappingSourceSkipped {
				return nil, nil, true, nil
			}
			if resolution.Id > 0 {
				// Override points at an existing row.
				ref = resolvedRef{kind: resolution.Kind, id: resolution.Id}
				e.cacheMaster(tally.RecordTypeLedger, le.LedgerName, ref.kind, ref.id)
			} else {
				// A default resolution carries a kind but no target row; a
				// journal line cannot point at a row that does not exist,
				// so the line parks on suspense instead.
				if !e.cfg.CreateSuspenseAccounts {
					return nil, nil, true, nil
				}
				suspenseId, err := e.ensureSuspenseAccount(ctx)
				if err != nil {
					return nil, nil, false, err
				}
				reason := resolution.Reason
				if resolution.Source == MappingSourceDefault {
					reason = fmt.Sprintf("ledger %q was not imported in this run; line parked on suspense", le.LedgerName)
				}
				ref = resolvedRef{kind: models.TargetKindSuspense, id: suspenseId}
				suspense = append(suspense, models.SuspenseItem{
					BatchId:     e.batchId,
					RecordType:  tally.RecordTypeVoucher,
					SourceGuid:  voucher.SourceGuid,
					SourceName:  le.LedgerName,
					LedgerGroup: groups.ParentGroup(le.LedgerName),
					Amount:      le.Amount.Abs(),
					Reason:      reason,
				})
			}
		}
		lines = append(lines, models.TargetJournalLine{
			AccountKind: ref.kind,
			AccountId:   ref.id,
			Description: le.LedgerName,
			Debit:       debit,
			Credit:      credit,
		})
	}
	return lines, suspense, false, nil
}

// findImportedLedger consults the persisted entity refs for a ledger the
// in-run cache does not know. That happens on voucher-only runs, where the
// masters phase never executes, and on retries after a partial failure.
func (e *Engine) findImportedLedger(ctx context.Context, name string, groups *GroupTable) (resolvedRef, bool, error) {
	guid := groups.Guid(name)
	if guid == "" {
		return resolvedRef{}, false, nil
	}
	kind, id, ok, err := e.repo.FindByExternalRef(ctx, tally.RecordTypeLedger, guid)
	if err != nil {
		return resolvedRef{}, false, err
	}
	if !ok {
		return resolvedRef{}, false, nil
	}
	e.cacheMaster(tally.RecordTypeLedger, name, kind, id)
	return resolvedRef{kind: kind, id: id}, true, nil
}

func (e *Engine) applyInventory(ctx context.Context, voucher *tally.Voucher) error {
	for _, inv := range voucher.InventoryEntries {
		stockItemId := e.lookupMasterId(tally.RecordTypeStockItem, inv.StockItemName)
		if stockItemId == 0 {
			continue
		}
		warehouseId := 0
		if len(inv.GodownAllocations) > 0 {
			warehouseId = e.lookupMasterId(tally.RecordTypeGodown, inv.GodownAllocations[0].GodownName)
		}
		movement := models.TargetStockMovement{
			StockItemId: stockItemId,
			WarehouseId: warehouseId,
			Qty:         inv.Qty,
			Rate:        inv.Rate,
			Amount:      inv.Amount,
		}
		err := e.withRetry(ctx, func(recordCtx context.Context) error {
			return e.repo.ApplyStockMovement(recordCtx, e.batchId, movement)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

/* bookkeeping helpers */

func (e *Engine) cacheMaster(rt tally.RecordType, name string, kind models.TargetEntityKind, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rt == tally.RecordTypeLedger {
		e.ledgerRefs[classifierKey(name)] = resolvedRef{kind: kind, id: id}
		return
	}
	ids, ok := e.masterIds[rt]
	if !ok {
		ids = map[string]int{}
		e.masterIds[rt] = ids
	}
	ids[classifierKey(name)] = id
}

func (e *Engine) lookupLedger(name string) (resolvedRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref, ok := e.ledgerRefs[classifierKey(name)]
	return ref, ok
}

func (e *Engine) lookupMasterId(rt tally.RecordType, name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.masterIds[rt][classifierKey(name)]
}

func (e *Engine) addTotal(n int) {
	e.mu.Lock()
	e.result.Counts.TotalRecords += n
	e.mu.Unlock()
}

func (e *Engine) bumpImported() {
	e.mu.Lock()
	e.result.Counts.ImportedCount++
	e.consecutive = 0
	e.mu.Unlock()
}

func (e *Engine) bumpSkipped() {
	e.mu.Lock()
	e.result.Counts.SkippedCount++
	e.consecutive = 0
	e.mu.Unlock()
}

// recordFailure books a per-record failure. It returns a batch-fatal error
// only when failures look systemic (too many in a row).
func (e *Engine) recordFailure(ctx context.Context, rt tally.RecordType, sourceGuid, sourceName string, cause error) error {
	e.mu.Lock()
	e.result.Counts.FailedCount++
	e.consecutive++
	systemic := e.cfg.FailureEscalation > 0 && e.consecutive >= e.cfg.FailureEscalation
	e.result.Errors = append(e.result.Errors, models.ImportErrorRecord{
		BatchId:    e.batchId,
		RecordType: rt,
		SourceGuid: sourceGuid,
		SourceName: sourceName,
		ErrorCode:  "target_write_failed",
		Message:    cause.Error(),
		Retryable:  true,
	})
	e.mu.Unlock()

	e.tracker.RecordDone(ctx, false, cause.Error())
	if systemic {
		return fmt.Errorf("%d consecutive record failures, treating target system as unreachable: %w", e.cfg.FailureEscalation, cause)
	}
	return nil
}

func (e *Engine) recordVoucherError(ctx context.Context, voucher *tally.Voucher, code string, message string, retryable bool) {
	e.mu.Lock()
	e.result.Counts.FailedCount++
	e.consecutive = 0
	e.result.Errors = append(e.result.Errors, models.ImportErrorRecord{
		BatchId:    e.batchId,
		RecordType: tally.RecordTypeVoucher,
		SourceGuid: voucher.SourceGuid,
		SourceName: voucher.Number,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	})
	e.mu.Unlock()
	e.tracker.RecordDone(ctx, false, message)
}

// withRetry wraps one target-system write with a per-call timeout and a
// bounded retry loop.
func (e *Engine) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= e.cfg.MaxRecordRetries; attempt++ {
		recordCtx := ctx
		cancel := func() {}
		if e.cfg.RecordTimeout > 0 {
			recordCtx, cancel = context.WithTimeout(ctx, e.cfg.RecordTimeout)
		}
		err = fn(recordCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt < e.cfg.MaxRecordRetries {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}
	}
	return err
}
