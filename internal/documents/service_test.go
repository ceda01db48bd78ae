package documents_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/store/memory"
)

const (
	itemPlain int64 = iota + 1
	itemSerial
	itemBatch
	itemRetired
)

const (
	locMain int64 = 1
	locSide int64 = 2
)

var day = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type auditRecorder struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type metricsRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *metricsRecorder) ObserveConfirm(kind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, kind+":"+outcome)
}

type fixture struct {
	store   *memory.Store
	orch    *posting.Orchestrator
	dir     *masterdata.MemoryDirectory
	svc     *documents.Service
	stock   *inventory.Service
	ledger  *accounting.Service
	audit   *auditRecorder
	metrics *metricsRecorder
	cogs    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New(memory.WithLockTimeout(2 * time.Second))

	ids := make(map[string]int64)
	for _, c := range []struct{ key, code, name string }{
		{mappings.KeyCash, "1100", "Cash"},
		{mappings.KeyReceivable, "1200", "Receivable"},
		{mappings.KeyInventory, "1300", "Inventory"},
		{mappings.KeyPayable, "2100", "Payable"},
		{mappings.KeyRevenue, "4100", "Revenue"},
		{mappings.KeyAdjustmentGain, "4200", "Adjustment gain"},
		{mappings.KeyCOGS, "5100", "COGS"},
		{mappings.KeyAdjustmentLoss, "5200", "Adjustment loss"},
	} {
		typ, err := accounts.TypeForCode(c.code)
		require.NoError(t, err)
		acc, err := store.Accounts().Create(ctx, accounts.Account{Code: c.code, Name: c.name, Type: typ, IsActive: true})
		require.NoError(t, err)
		ids[c.key] = acc.ID
	}
	maps := mappings.NewMemoryRepository()
	for key, id := range ids {
		require.NoError(t, maps.Upsert(ctx, mappings.Module, key, id))
	}

	dir := masterdata.NewMemoryDirectory()
	dir.PutItem(masterdata.Item{ID: itemPlain, SKU: "P-1", Name: "Plain", IsActive: true})
	dir.PutItem(masterdata.Item{ID: itemSerial, SKU: "S-1", Name: "Serial", Tracking: masterdata.TrackingSerial, IsActive: true})
	dir.PutItem(masterdata.Item{ID: itemBatch, SKU: "B-1", Name: "Batch", Tracking: masterdata.TrackingBatch, IsActive: true})
	dir.PutItem(masterdata.Item{ID: itemRetired, SKU: "R-1", Name: "Retired", IsActive: false})
	dir.PutLocation(masterdata.Location{ID: locMain, Code: "MAIN", Name: "Main", IsActive: true})
	dir.PutLocation(masterdata.Location{ID: locSide, Code: "SIDE", Name: "Side", IsActive: true})

	stockEngine := inventory.NewEngine(inventory.EngineConfig{})
	ledgerEngine := accounting.NewEngine()
	orch := posting.NewOrchestrator(dir, maps, stockEngine, ledgerEngine, nil)
	f := &fixture{
		store:   store,
		orch:    orch,
		dir:     dir,
		stock:   inventory.NewService(store.Inventory(), stockEngine, dir, nil, nil),
		ledger:  accounting.NewService(store.Ledger(), ledgerEngine, nil, nil, nil),
		audit:   &auditRecorder{},
		metrics: &metricsRecorder{},
		cogs:    ids[mappings.KeyCOGS],
	}
	f.svc = f.service(store.Documents())
	return f
}

func (f *fixture) service(repo documents.RepositoryPort) *documents.Service {
	return documents.NewService(repo, f.orch, f.dir, documents.Config{
		RetryBase: time.Millisecond,
		Audit:     f.audit,
		Metrics:   f.metrics,
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) draft(t *testing.T, kind documents.Kind, lines ...documents.LineInput) documents.Document {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), documents.CreateInput{
		Kind:        kind,
		Date:        day,
		PaymentType: posting.PaymentCash,
		LocationID:  locMain,
		Lines:       lines,
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) journalCount(t *testing.T) int {
	t.Helper()
	journals, err := f.ledger.GetJournals(context.Background(), accounting.JournalFilter{})
	require.NoError(t, err)
	return len(journals)
}

func (f *fixture) qty(t *testing.T, item int64) decimal.Decimal {
	t.Helper()
	b, err := f.stock.GetBalance(context.Background(), item, locMain)
	require.NoError(t, err)
	return b.Qty
}

func TestCreateDraftGeneratesNumber(t *testing.T) {
	f := newFixture(t)

	doc := f.draft(t, posting.KindSalesInvoice, documents.LineInput{ItemID: itemPlain, Qty: dec("2"), UnitPrice: dec("5")})
	require.True(t, strings.HasPrefix(doc.Number, "SI-"))
	require.Equal(t, documents.StatusDraft, doc.Status)
	require.NotEqual(t, uuid.Nil, doc.ID)
	require.Len(t, doc.Lines, 1)
	require.NotZero(t, doc.Lines[0].ID)

	got, err := f.svc.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc.Number, got.Number)

	_, err = f.svc.Create(context.Background(), documents.CreateInput{Kind: "INVOICE", LocationID: locMain})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDraftLineEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("1"), UnitCost: dec("3")})

	doc, err := f.svc.AddLine(ctx, doc.ID, documents.LineInput{ItemID: itemBatch, Qty: dec("4"), UnitCost: dec("2"), BatchNumber: "B-01"})
	require.NoError(t, err)
	require.Len(t, doc.Lines, 2)

	doc, err = f.svc.UpdateLine(ctx, doc.ID, doc.Lines[0].ID, documents.LineInput{ItemID: itemPlain, Qty: dec("6"), UnitCost: dec("3")})
	require.NoError(t, err)
	requireDec(t, "6", doc.Lines[0].Qty)

	doc, err = f.svc.RemoveLine(ctx, doc.ID, doc.Lines[1].ID)
	require.NoError(t, err)
	require.Len(t, doc.Lines, 1)

	_, err = f.svc.RemoveLine(ctx, doc.ID, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	note := "received late"
	doc, err = f.svc.UpdateHeader(ctx, doc.ID, documents.HeaderInput{Note: &note})
	require.NoError(t, err)
	require.Equal(t, note, doc.Note)

	_, err = f.svc.AddLine(ctx, doc.ID, documents.LineInput{ItemID: itemPlain, Qty: dec("0")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddLine(ctx, doc.ID, documents.LineInput{ItemID: itemPlain, Qty: dec("0.00001"), UnitCost: dec("3")})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "qty", verr.Field)
}

func TestConfirmBackdatedDocumentLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Confirm(ctx, f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("10"), UnitCost: dec("4")}).ID)
	require.NoError(t, err)

	late, err := f.svc.Create(ctx, documents.CreateInput{
		Kind:        posting.KindGRN,
		Date:        day.AddDate(0, 0, -1),
		PaymentType: posting.PaymentCash,
		LocationID:  locMain,
		Lines:       []documents.LineInput{{ItemID: itemPlain, Qty: dec("5"), UnitCost: dec("8")}},
	})
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, late.ID)
	require.ErrorIs(t, err, inventory.ErrBackdated)
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetByID(ctx, late.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, got.Status)
	require.Equal(t, 1, f.journalCount(t))
	requireDec(t, "10", f.qty(t, itemPlain))
	require.Equal(t, []string{"GRN:confirmed", "GRN:invalid"}, f.metrics.outcomes)
}

func TestConfirmPostsBothLedgers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := f.draft(t, posting.KindGRN,
		documents.LineInput{ItemID: itemPlain, Qty: dec("100"), UnitCost: dec("10")},
		documents.LineInput{ItemID: itemPlain, Qty: dec("50"), UnitCost: dec("16")},
	)
	res, err := f.svc.Confirm(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusConfirmed, res.Document.Status)
	require.NotNil(t, res.Document.ConfirmedAt)
	require.NotNil(t, res.Journal)
	require.Equal(t, res.Journal.ID, *res.Document.JournalID)
	require.Len(t, res.Entries, 2)

	b, err := f.stock.GetBalance(ctx, itemPlain, locMain)
	require.NoError(t, err)
	requireDec(t, "150", b.Qty)
	requireDec(t, "12", b.AvgCost)
	requireDec(t, "1800", b.Value)

	sale := f.draft(t, posting.KindSalesInvoice, documents.LineInput{ItemID: itemPlain, Qty: dec("40"), UnitPrice: dec("20")})
	res, err = f.svc.Confirm(ctx, sale.ID)
	require.NoError(t, err)
	requireDec(t, "480", res.Entries[0].TotalCost)
	debit, credit := res.Journal.Totals()
	require.True(t, debit.Equal(credit))
	requireDec(t, "1280", debit)

	cogs, err := f.ledger.GetAccountBalance(ctx, f.cogs)
	require.NoError(t, err)
	requireDec(t, "480", cogs.Net())
	requireDec(t, "110", f.qty(t, itemPlain))

	require.Equal(t, []string{"document.create", "document.confirm", "document.create", "document.confirm"}, f.audit.actions())
	require.Equal(t, []string{"GRN:confirmed", "SALES_INVOICE:confirmed"}, f.metrics.outcomes)
}

func TestConfirmSerialCountMismatchLeavesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.draft(t, posting.KindGRN, documents.LineInput{
		ItemID: itemSerial, Qty: dec("5"), UnitCost: dec("10"),
		Serials: []string{"SN1", "SN2", "SN3", "SN4"},
	})
	_, err := f.svc.Confirm(ctx, doc.ID)
	require.ErrorIs(t, err, shared.ErrTracking)
	var terr *shared.TrackingValidationError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, 5, terr.Expected)
	require.Equal(t, 4, terr.Got)
	require.Equal(t, itemSerial, terr.ItemID)

	got, err := f.svc.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, got.Status)
	require.Nil(t, got.JournalID)
	require.Zero(t, f.journalCount(t))
	requireDec(t, "0", f.qty(t, itemSerial))
	require.Equal(t, []string{"GRN:tracking_invalid"}, f.metrics.outcomes)
}

func TestConfirmRejectsDuplicateSerialsAndMissingBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup := f.draft(t, posting.KindGRN,
		documents.LineInput{ItemID: itemSerial, Qty: dec("2"), UnitCost: dec("1"), Serials: []string{"A", "B"}},
		documents.LineInput{ItemID: itemSerial, Qty: dec("1"), UnitCost: dec("1"), Serials: []string{"B"}},
	)
	_, err := f.svc.Confirm(ctx, dup.ID)
	var terr *shared.TrackingValidationError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, []string{"B"}, terr.Duplicates)

	batch := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemBatch, Qty: dec("3"), UnitCost: dec("1")})
	_, err = f.svc.Confirm(ctx, batch.ID)
	require.ErrorIs(t, err, shared.ErrTracking)

	fractional := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemSerial, Qty: dec("1.5"), UnitCost: dec("1"), Serials: []string{"X"}})
	_, err = f.svc.Confirm(ctx, fractional.ID)
	require.ErrorIs(t, err, shared.ErrTracking)
	require.Zero(t, f.journalCount(t))
}

func TestConfirmRejectsUnknownOrInactiveReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missing := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: 404, Qty: dec("1"), UnitCost: dec("1")})
	_, err := f.svc.Confirm(ctx, missing.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	retired := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemRetired, Qty: dec("1"), UnitCost: dec("1")})
	_, err = f.svc.Confirm(ctx, retired.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Confirm(ctx, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, f.journalCount(t))
}

func TestDoubleConfirmHasNoDuplicateEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("10"), UnitCost: dec("4")})
	_, err := f.svc.Confirm(ctx, doc.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, doc.ID)
	require.ErrorIs(t, err, documents.ErrAlreadyConfirmed)
	require.Equal(t, 1, f.journalCount(t))
	requireDec(t, "10", f.qty(t, itemPlain))

	_, err = f.svc.AddLine(ctx, doc.ID, documents.LineInput{ItemID: itemPlain, Qty: dec("1")})
	require.ErrorIs(t, err, documents.ErrInvalidState)
	note := "too late"
	_, err = f.svc.UpdateHeader(ctx, doc.ID, documents.HeaderInput{Note: &note})
	require.ErrorIs(t, err, documents.ErrInvalidState)
	_, err = f.svc.RemoveLine(ctx, doc.ID, doc.Lines[0].ID)
	require.ErrorIs(t, err, documents.ErrInvalidState)
}

func TestConcurrentConfirmOfSameDocumentPostsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("10"), UnitCost: dec("4")})

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Confirm(ctx, doc.ID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, documents.ErrAlreadyConfirmed)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, f.journalCount(t))
	requireDec(t, "10", f.qty(t, itemPlain))
}

func TestConcurrentSalesMatchSequentialApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.draft(t, posting.KindGRN,
		documents.LineInput{ItemID: itemPlain, Qty: dec("100"), UnitCost: dec("10")},
		documents.LineInput{ItemID: itemPlain, Qty: dec("50"), UnitCost: dec("16")},
	)
	_, err := f.svc.Confirm(ctx, receipt.ID)
	require.NoError(t, err)

	const sales = 10
	drafts := make([]documents.Document, sales)
	for i := range drafts {
		drafts[i] = f.draft(t, posting.KindSalesInvoice, documents.LineInput{ItemID: itemPlain, Qty: dec("4"), UnitPrice: dec("20")})
	}
	var wg sync.WaitGroup
	errs := make([]error, sales)
	for i, d := range drafts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Confirm(ctx, d.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	b, err := f.stock.GetBalance(ctx, itemPlain, locMain)
	require.NoError(t, err)
	requireDec(t, "110", b.Qty)
	requireDec(t, "12", b.AvgCost)
	requireDec(t, "1320", b.Value)
	cogs, err := f.ledger.GetAccountBalance(ctx, f.cogs)
	require.NoError(t, err)
	requireDec(t, "480", cogs.Net())
	require.Equal(t, sales+1, f.journalCount(t))

	mismatches, err := f.stock.Verify(ctx, inventory.BalanceFilter{})
	require.NoError(t, err)
	require.Empty(t, mismatches)
	issues, err := f.ledger.Verify(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)
}

// flakyPort fails the first n units of work with a lock conflict.
type flakyPort struct {
	inner documents.RepositoryPort
	mu    sync.Mutex
	fail  int
	calls int
}

func (p *flakyPort) WithTx(ctx context.Context, fn func(context.Context, documents.Tx) error) error {
	p.mu.Lock()
	p.calls++
	failing := p.calls <= p.fail
	p.mu.Unlock()
	if failing {
		return &shared.ConcurrencyConflictError{Key: "stock:1:1", Err: context.DeadlineExceeded}
	}
	return p.inner.WithTx(ctx, fn)
}

func TestConfirmRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("1"), UnitCost: dec("1")})
	once := &flakyPort{inner: f.store.Documents(), fail: 1}
	_, err := f.service(once).Confirm(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, once.calls)

	other := f.draft(t, posting.KindGRN, documents.LineInput{ItemID: itemPlain, Qty: dec("1"), UnitCost: dec("1")})
	always := &flakyPort{inner: f.store.Documents(), fail: 10}
	_, err = f.service(always).Confirm(ctx, other.ID)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Equal(t, 2, always.calls)

	got, err := f.svc.GetByID(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, got.Status)
}
