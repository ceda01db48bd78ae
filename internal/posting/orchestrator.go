package posting

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Tx is the unit of work a posting runs in: both ledgers behind one set of
// locks.
type Tx interface {
	inventory.Tx
	accounting.Tx
}

// Orchestrator posts documents to the stock ledger and the general ledger.
type Orchestrator struct {
	directory masterdata.Directory
	mappings  mappings.Repository
	stock     *inventory.Engine
	ledger    *accounting.Engine
	logger    *slog.Logger
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(directory masterdata.Directory, mappingRepo mappings.Repository, stock *inventory.Engine, ledger *accounting.Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{directory: directory, mappings: mappingRepo, stock: stock, ledger: ledger, logger: logger}
}

// movement is one planned stock ledger append.
type movement struct {
	line       Line
	item       masterdata.Item
	locationID int64
	source     inventory.SourceType
	account    int64
}

// plan holds everything resolved before locks are taken.
type plan struct {
	doc       Document
	moves     []movement
	transfers []movement
	accounts  map[string]int64
}

func (p *plan) lockKeys() []string {
	var keys []string
	for _, m := range slices.Concat(p.moves, p.transfers) {
		keys = append(keys, shared.StockKey(m.item.ID, m.locationID))
		keys = append(keys, shared.AccountKey(m.account))
	}
	for _, id := range p.accounts {
		keys = append(keys, shared.AccountKey(id))
	}
	return shared.SortKeys(keys)
}

// Post applies doc within tx. Every key is locked up front in sorted order;
// any error leaves tx to be rolled back by the caller.
func (o *Orchestrator) Post(ctx context.Context, tx Tx, doc Document) (Result, error) {
	if err := doc.Validate(); err != nil {
		return Result{}, err
	}
	p, err := o.plan(ctx, doc)
	if err != nil {
		return Result{}, err
	}
	if err := tx.LockKeys(ctx, p.lockKeys()...); err != nil {
		return Result{}, err
	}
	var (
		entries []inventory.Entry
		lines   []accounting.PostingLineInput
	)
	switch doc.Kind {
	case KindGRN:
		entries, lines, err = o.postGRN(ctx, tx, p)
	case KindSalesInvoice:
		entries, lines, err = o.postSales(ctx, tx, p)
	case KindAdjustment:
		entries, lines, err = o.postAdjustment(ctx, tx, p)
	case KindTransfer:
		entries, lines, err = o.postTransfer(ctx, tx, p)
	}
	if err != nil {
		if errors.Is(err, shared.ErrUnbalanced) {
			o.logger.Error("document journal unbalanced",
				slog.String("document_id", doc.ID.String()),
				slog.String("kind", string(doc.Kind)),
				slog.Any("error", err),
			)
		}
		return Result{}, err
	}
	result := Result{Entries: entries}
	if len(lines) == 0 {
		return result, nil
	}
	description := string(doc.Kind) + " " + doc.Number
	if doc.Note != "" {
		description += ": " + doc.Note
	}
	journal, err := o.ledger.Post(ctx, tx, accounting.PostingInput{
		Date:         doc.Date,
		Description:  description,
		SourceModule: doc.Kind.SourceModule(),
		SourceID:     doc.ID,
		Lines:        lines,
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnbalanced) {
			o.logger.Error("document journal unbalanced", slog.String("document_id", doc.ID.String()), slog.Any("error", err))
		}
		return Result{}, err
	}
	result.Journal = &journal
	return result, nil
}

func (o *Orchestrator) plan(ctx context.Context, doc Document) (*plan, error) {
	p := &plan{doc: doc, accounts: make(map[string]int64)}
	need := func(keys ...string) error {
		for _, key := range keys {
			id, err := o.resolve(ctx, key)
			if err != nil {
				return err
			}
			p.accounts[key] = id
		}
		return nil
	}
	settlement := mappings.KeyCash
	switch doc.Kind {
	case KindGRN:
		if doc.PaymentType == PaymentCredit {
			settlement = mappings.KeyPayable
		}
		if err := need(settlement); err != nil {
			return nil, err
		}
	case KindSalesInvoice:
		if doc.PaymentType == PaymentCredit {
			settlement = mappings.KeyReceivable
		}
		if err := need(settlement, mappings.KeyRevenue, mappings.KeyCOGS); err != nil {
			return nil, err
		}
	case KindAdjustment:
		for _, l := range doc.Lines {
			key := mappings.KeyAdjustmentGain
			if l.Direction == DirectionOut {
				key = mappings.KeyAdjustmentLoss
			}
			if err := need(key); err != nil {
				return nil, err
			}
		}
	}
	for _, l := range doc.Lines {
		item, err := o.directory.GetItem(ctx, l.ItemID)
		if err != nil {
			return nil, err
		}
		m, err := o.movement(ctx, doc, l, item, doc.LocationID)
		if err != nil {
			return nil, err
		}
		p.moves = append(p.moves, m)
		if doc.Kind == KindTransfer {
			in, err := o.movement(ctx, doc, l, item, doc.DestLocationID)
			if err != nil {
				return nil, err
			}
			in.source = inventory.SourceTransferIn
			p.transfers = append(p.transfers, in)
		}
	}
	return p, nil
}

func (o *Orchestrator) movement(ctx context.Context, doc Document, l Line, item masterdata.Item, locationID int64) (movement, error) {
	account, err := o.inventoryAccount(ctx, item, locationID)
	if err != nil {
		return movement{}, err
	}
	m := movement{line: l, item: item, locationID: locationID, account: account}
	switch doc.Kind {
	case KindGRN:
		m.source = inventory.SourcePurchase
	case KindSalesInvoice:
		m.source = inventory.SourceSales
	case KindAdjustment:
		m.source = inventory.SourceAdjustmentIn
		if l.Direction == DirectionOut {
			m.source = inventory.SourceAdjustmentOut
		}
	case KindTransfer:
		m.source = inventory.SourceTransferOut
	}
	return m, nil
}

func (o *Orchestrator) resolve(ctx context.Context, key string) (int64, error) {
	mapping, err := o.mappings.Get(ctx, mappings.Module, key)
	if err != nil {
		return 0, err
	}
	return mapping.AccountID, nil
}

// inventoryAccount resolves the item's category mapping first, then the
// location mapping, then the default.
func (o *Orchestrator) inventoryAccount(ctx context.Context, item masterdata.Item, locationID int64) (int64, error) {
	keys := make([]string, 0, 3)
	if item.CategoryID != 0 {
		keys = append(keys, mappings.CategoryInventoryKey(item.CategoryID))
	}
	keys = append(keys, mappings.LocationInventoryKey(locationID), mappings.KeyInventory)
	var lastErr error
	for _, key := range keys {
		id, err := o.resolve(ctx, key)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (o *Orchestrator) appendEntry(ctx context.Context, tx Tx, doc Document, m movement, qty, unitCost decimal.Decimal) (inventory.Entry, error) {
	entry := inventory.Entry{
		ItemID:       m.item.ID,
		LocationID:   m.locationID,
		TxnDate:      doc.Date,
		SourceType:   m.source,
		SourceID:     doc.ID,
		SourceNumber: doc.Number,
		UnitCost:     unitCost,
		Remarks:      doc.Note,
	}
	if inward, _ := m.source.Inward(); inward {
		entry.QtyIn = qty
	} else {
		entry.QtyOut = qty
	}
	stored, _, err := o.stock.Append(ctx, tx, entry)
	return stored, err
}

// postGRN receives each line at its cost: Dr inventory, Cr cash or payable.
func (o *Orchestrator) postGRN(ctx context.Context, tx Tx, p *plan) ([]inventory.Entry, []accounting.PostingLineInput, error) {
	jb := newJournalBuilder()
	settlement := p.accounts[mappings.KeyCash]
	if p.doc.PaymentType == PaymentCredit {
		settlement = p.accounts[mappings.KeyPayable]
	}
	entries := make([]inventory.Entry, 0, len(p.moves))
	for _, m := range p.moves {
		entry, err := o.appendEntry(ctx, tx, p.doc, m, m.line.Qty, m.line.UnitCost)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
		jb.debit(m.account, entry.TotalCost)
		jb.credit(settlement, entry.TotalCost)
	}
	if err := jb.check(); err != nil {
		return nil, nil, err
	}
	return entries, jb.lines(), nil
}

// postSales issues stock at the running average. The revenue half and the
// cost half must each balance on their own.
func (o *Orchestrator) postSales(ctx context.Context, tx Tx, p *plan) ([]inventory.Entry, []accounting.PostingLineInput, error) {
	revenue := newJournalBuilder()
	cost := newJournalBuilder()
	settlement := p.accounts[mappings.KeyCash]
	if p.doc.PaymentType == PaymentCredit {
		settlement = p.accounts[mappings.KeyReceivable]
	}
	entries := make([]inventory.Entry, 0, len(p.moves))
	for _, m := range p.moves {
		entry, err := o.appendEntry(ctx, tx, p.doc, m, m.line.Qty, decimal.Zero)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
		amount := money.Extend(entry.QtyOut, m.line.UnitPrice)
		revenue.debit(settlement, amount)
		revenue.credit(p.accounts[mappings.KeyRevenue], amount)
		cost.debit(p.accounts[mappings.KeyCOGS], entry.TotalCost)
		cost.credit(m.account, entry.TotalCost)
	}
	if err := revenue.check(); err != nil {
		return nil, nil, err
	}
	if err := cost.check(); err != nil {
		return nil, nil, err
	}
	return entries, append(revenue.lines(), cost.lines()...), nil
}

// postAdjustment moves stock at the current average, falling back to the
// item's cost basis for receipts into a location without cost history.
func (o *Orchestrator) postAdjustment(ctx context.Context, tx Tx, p *plan) ([]inventory.Entry, []accounting.PostingLineInput, error) {
	jb := newJournalBuilder()
	entries := make([]inventory.Entry, 0, len(p.moves))
	for _, m := range p.moves {
		unitCost := decimal.Zero
		if m.source == inventory.SourceAdjustmentIn {
			balance, err := tx.Stock().GetBalanceForUpdate(ctx, inventory.Key{ItemID: m.item.ID, LocationID: m.locationID})
			if err != nil && !errors.Is(err, inventory.ErrBalanceNotFound) {
				return nil, nil, err
			}
			unitCost = balance.AvgCost
			if !unitCost.IsPositive() {
				unitCost = m.item.CostBasis
			}
		}
		entry, err := o.appendEntry(ctx, tx, p.doc, m, m.line.Qty, unitCost)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
		if m.source == inventory.SourceAdjustmentIn {
			jb.debit(m.account, entry.TotalCost)
			jb.credit(p.accounts[mappings.KeyAdjustmentGain], entry.TotalCost)
		} else {
			jb.debit(p.accounts[mappings.KeyAdjustmentLoss], entry.TotalCost)
			jb.credit(m.account, entry.TotalCost)
		}
	}
	if err := jb.check(); err != nil {
		return nil, nil, err
	}
	return entries, jb.lines(), nil
}

// postTransfer issues from the source at its average and receives the same
// cost at the destination. A journal is only needed when the two locations
// map to different inventory accounts.
func (o *Orchestrator) postTransfer(ctx context.Context, tx Tx, p *plan) ([]inventory.Entry, []accounting.PostingLineInput, error) {
	jb := newJournalBuilder()
	entries := make([]inventory.Entry, 0, 2*len(p.moves))
	for i, out := range p.moves {
		issued, err := o.appendEntry(ctx, tx, p.doc, out, out.line.Qty, decimal.Zero)
		if err != nil {
			return nil, nil, err
		}
		in := p.transfers[i]
		received, err := o.appendEntry(ctx, tx, p.doc, in, issued.QtyOut, issued.UnitCost)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, issued, received)
		if in.account != out.account {
			jb.debit(in.account, received.TotalCost)
			jb.credit(out.account, issued.TotalCost)
		}
	}
	if err := jb.check(); err != nil {
		return nil, nil, err
	}
	return entries, jb.lines(), nil
}
