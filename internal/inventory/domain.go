package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType names the business event behind a movement.
type SourceType string

const (
	SourcePurchase      SourceType = "PURCHASE"
	SourceSales         SourceType = "SALES"
	SourceProductionIn  SourceType = "PRODUCTION_IN"
	SourceProductionOut SourceType = "PRODUCTION_OUT"
	SourceAdjustmentIn  SourceType = "ADJUSTMENT_IN"
	SourceAdjustmentOut SourceType = "ADJUSTMENT_OUT"
	SourceTransferIn    SourceType = "TRANSFER_IN"
	SourceTransferOut   SourceType = "TRANSFER_OUT"
)

// Inward reports whether the source type adds stock. ok is false for unknown
// types.
func (t SourceType) Inward() (inward, ok bool) {
	switch t {
	case SourcePurchase, SourceProductionIn, SourceAdjustmentIn, SourceTransferIn:
		return true, true
	case SourceSales, SourceProductionOut, SourceAdjustmentOut, SourceTransferOut:
		return false, true
	}
	return false, false
}

// Key identifies a stock balance.
type Key struct {
	ItemID     int64 `json:"item_id"`
	LocationID int64 `json:"location_id"`
}

func (k Key) String() string { return fmt.Sprintf("%d:%d", k.ItemID, k.LocationID) }

// Entry is an immutable stock ledger record.
type Entry struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	ItemID       int64           `json:"item_id"`
	LocationID   int64           `json:"location_id"`
	TxnDate      time.Time       `json:"txn_date"`
	SourceType   SourceType      `json:"source_type"`
	SourceID     uuid.UUID       `json:"source_id"`
	SourceNumber string          `json:"source_number"`
	QtyIn        decimal.Decimal `json:"qty_in"`
	QtyOut       decimal.Decimal `json:"qty_out"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Remarks      string          `json:"remarks,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Key returns the balance key the entry moves.
func (e Entry) Key() Key { return Key{ItemID: e.ItemID, LocationID: e.LocationID} }

// Balance is the derived stock position of an (item, location).
type Balance struct {
	ItemID     int64           `json:"item_id"`
	LocationID int64           `json:"location_id"`
	Qty        decimal.Decimal `json:"qty"`
	AvgCost    decimal.Decimal `json:"avg_cost"`
	Value      decimal.Decimal `json:"value"`
	Negative   bool            `json:"negative"`
	LastSeq    int64           `json:"last_seq"`
	// LastTxnDate is the business date of the latest movement. Movements
	// dated earlier are rejected.
	LastTxnDate time.Time `json:"last_txn_date"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key returns the balance key.
func (b Balance) Key() Key { return Key{ItemID: b.ItemID, LocationID: b.LocationID} }

// BalanceFilter narrows balance listings. Zero fields match everything.
type BalanceFilter struct {
	ItemID     int64
	LocationID int64
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ItemID     int64
	LocationID int64
	SourceType SourceType
	SourceID   uuid.UUID
	DateFrom   time.Time
	DateTo     time.Time
	// BySeq orders entries in append order instead of (TxnDate, Seq).
	BySeq bool
	// PageSize bounds each store round trip; defaults to 200.
	PageSize int
}

// Cursor is the keyset position of the last entry read.
type Cursor struct {
	TxnDate time.Time
	Seq     int64
}

// CardLine is one row of a stock card projection.
type CardLine struct {
	Entry      Entry           `json:"entry"`
	BalanceQty decimal.Decimal `json:"balance_qty"`
	AvgCost    decimal.Decimal `json:"avg_cost"`
	Value      decimal.Decimal `json:"value"`
}

// Mismatch describes a snapshot that disagrees with a replay of the ledger.
type Mismatch struct {
	Key      Key     `json:"key"`
	Snapshot Balance `json:"snapshot"`
	Replayed Balance `json:"replayed"`
}

// NegativePolicy decides how outbound movements below zero are treated.
type NegativePolicy string

const (
	// NegativeFlag permits negative stock and marks the balance.
	NegativeFlag NegativePolicy = "flag"
	// NegativeBlock rejects movements that would go below zero.
	NegativeBlock NegativePolicy = "block"
)

var (
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrBalanceNotFound indicates missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrBackdated indicates a movement dated before the latest movement of
	// its balance key.
	ErrBackdated = errors.New("inventory: movement dated before the latest movement")
)
