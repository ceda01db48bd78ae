// Package masterdata exposes the read-only item and location directories the
// ledgers depend on. Ownership of these records lives outside the posting core.
package masterdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TrackingMode dictates which identifying data a document line must carry.
type TrackingMode string

const (
	TrackingNone   TrackingMode = "NONE"
	TrackingBatch  TrackingMode = "BATCH"
	TrackingSerial TrackingMode = "SERIAL"
)

// Valid reports whether the mode is known.
func (m TrackingMode) Valid() bool {
	switch m {
	case TrackingNone, TrackingBatch, TrackingSerial:
		return true
	}
	return false
}

// Item is a stock keeping unit.
type Item struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CategoryID   int64           `json:"category_id"`
	Tracking     TrackingMode    `json:"tracking"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	IsActive     bool            `json:"is_active"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Location is a warehouse or bin that holds stock.
type Location struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory resolves items and locations by id.
type Directory interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
}
