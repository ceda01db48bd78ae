// Package posting turns a confirmed business document into stock ledger
// entries and one balanced journal inside the caller's unit of work.
package posting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Kind enumerates postable documents.
type Kind string

const (
	KindGRN          Kind = "GRN"
	KindSalesInvoice Kind = "SALES_INVOICE"
	KindAdjustment   Kind = "ADJUSTMENT"
	KindTransfer     Kind = "TRANSFER"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindGRN, KindSalesInvoice, KindAdjustment, KindTransfer:
		return true
	}
	return false
}

// NumberPrefix is the prefix of generated document numbers.
func (k Kind) NumberPrefix() string {
	switch k {
	case KindGRN:
		return "GRN"
	case KindSalesInvoice:
		return "SI"
	case KindAdjustment:
		return "ADJ"
	case KindTransfer:
		return "TRF"
	}
	return "DOC"
}

// SourceModule tags the journal posted for a document of this kind.
func (k Kind) SourceModule() string { return "DOCUMENT." + string(k) }

// PaymentType selects the settlement account of purchases and sales.
type PaymentType string

const (
	PaymentCash   PaymentType = "CASH"
	PaymentCredit PaymentType = "CREDIT"
)

// Direction is the sign of an adjustment line.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Document is the postable view of a business document.
type Document struct {
	ID             uuid.UUID
	Kind           Kind
	Number         string
	Date           time.Time
	PaymentType    PaymentType
	LocationID     int64
	DestLocationID int64
	Note           string
	Lines          []Line
}

// Line is one item row of a document.
type Line struct {
	ID        int64
	ItemID    int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	UnitPrice decimal.Decimal
	Direction Direction
}

// Result is what a posting produced.
type Result struct {
	Entries []inventory.Entry
	// Journal is nil when every journal line would have been zero.
	Journal *accounting.Journal
}

// Validate checks the document shape for its kind.
func (d Document) Validate() error {
	if d.ID == uuid.Nil {
		return shared.Validation("id", "required")
	}
	if !d.Kind.Valid() {
		return shared.Validation("kind", "unknown document kind "+string(d.Kind))
	}
	if d.Date.IsZero() {
		return shared.Validation("date", "required")
	}
	if d.LocationID == 0 {
		return shared.Validation("location_id", "required")
	}
	if len(d.Lines) == 0 {
		return shared.Validation("lines", "document has no lines")
	}
	switch d.Kind {
	case KindGRN, KindSalesInvoice:
		if d.PaymentType != PaymentCash && d.PaymentType != PaymentCredit {
			return shared.Validation("payment_type", "must be CASH or CREDIT")
		}
	case KindTransfer:
		if d.DestLocationID == 0 {
			return shared.Validation("dest_location_id", "required")
		}
		if d.DestLocationID == d.LocationID {
			return shared.Validation("dest_location_id", "must differ from location_id")
		}
	}
	for i, l := range d.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.ItemID == 0 {
			return shared.Validation(field+".item_id", "required")
		}
		if !l.Qty.IsPositive() {
			return shared.Validation(field+".qty", "must be positive")
		}
		if !money.IsQty(l.Qty) {
			return shared.Validation(field+".qty", "at most 4 decimal places")
		}
		switch d.Kind {
		case KindGRN:
			if l.UnitCost.IsNegative() {
				return shared.Validation(field+".unit_cost", "must not be negative")
			}
		case KindSalesInvoice:
			if l.UnitPrice.IsNegative() {
				return shared.Validation(field+".unit_price", "must not be negative")
			}
		case KindAdjustment:
			if l.Direction != DirectionIn && l.Direction != DirectionOut {
				return shared.Validation(field+".direction", "must be IN or OUT")
			}
		}
	}
	return nil
}
