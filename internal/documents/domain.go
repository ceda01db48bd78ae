// Package documents owns the DRAFT to CONFIRMED lifecycle of business
// documents and hands confirmed documents to the posting orchestrator.
package documents

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
)

// Kind, PaymentType and Direction are shared with the orchestrator.
type (
	Kind        = posting.Kind
	PaymentType = posting.PaymentType
	Direction   = posting.Direction
)

// Status enumerates document lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusConfirmed Status = "CONFIRMED"
)

// Document is a goods receipt, sales invoice, stock adjustment or transfer.
type Document struct {
	ID             uuid.UUID   `json:"id"`
	Kind           Kind        `json:"kind"`
	Number         string      `json:"number"`
	Date           time.Time   `json:"date"`
	PartyID        int64       `json:"party_id,omitempty"`
	PaymentType    PaymentType `json:"payment_type,omitempty"`
	LocationID     int64       `json:"location_id"`
	DestLocationID int64       `json:"dest_location_id,omitempty"`
	Status         Status      `json:"status"`
	Note           string      `json:"note,omitempty"`
	ConfirmedAt    *time.Time  `json:"confirmed_at,omitempty"`
	JournalID      *int64      `json:"journal_id,omitempty"`
	Lines          []Line      `json:"lines"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Line is one item row of a document.
type Line struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"item_id"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Direction   Direction       `json:"direction,omitempty"`
	BatchNumber string          `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	Serials     []string        `json:"serials,omitempty"`
}

// LineInput describes a line to add or replace.
type LineInput struct {
	ItemID      int64           `json:"item_id"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Direction   Direction       `json:"direction"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	Serials     []string        `json:"serials"`
}

// CreateInput captures a new draft.
type CreateInput struct {
	Kind           Kind        `json:"kind"`
	Number         string      `json:"number"`
	Date           time.Time   `json:"date"`
	PartyID        int64       `json:"party_id"`
	PaymentType    PaymentType `json:"payment_type"`
	LocationID     int64       `json:"location_id"`
	DestLocationID int64       `json:"dest_location_id"`
	Note           string      `json:"note"`
	Lines          []LineInput `json:"lines"`
}

// HeaderInput patches draft header fields. Nil fields are left untouched.
type HeaderInput struct {
	Number         *string      `json:"number"`
	Date           *time.Time   `json:"date"`
	PartyID        *int64       `json:"party_id"`
	PaymentType    *PaymentType `json:"payment_type"`
	LocationID     *int64       `json:"location_id"`
	DestLocationID *int64       `json:"dest_location_id"`
	Note           *string      `json:"note"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	Kind     Kind
	Status   Status
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
}

// Confirmation is the outcome of a successful Confirm.
type Confirmation struct {
	Document Document            `json:"document"`
	Entries  []inventory.Entry   `json:"entries"`
	Journal  *accounting.Journal `json:"journal,omitempty"`
}

var (
	// ErrInvalidState indicates an edit on a document that is no longer a draft.
	ErrInvalidState = errors.New("documents: invalid state transition")
	// ErrAlreadyConfirmed indicates a second confirmation of the same document.
	ErrAlreadyConfirmed = errors.New("documents: document already confirmed")
)

func (d Document) toPosting() posting.Document {
	lines := make([]posting.Line, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, posting.Line{
			ID:        l.ID,
			ItemID:    l.ItemID,
			Qty:       l.Qty,
			UnitCost:  l.UnitCost,
			UnitPrice: l.UnitPrice,
			Direction: l.Direction,
		})
	}
	return posting.Document{
		ID:             d.ID,
		Kind:           d.Kind,
		Number:         d.Number,
		Date:           d.Date,
		PaymentType:    d.PaymentType,
		LocationID:     d.LocationID,
		DestLocationID: d.DestLocationID,
		Note:           d.Note,
		Lines:          lines,
	}
}

func (in LineInput) toLine() Line {
	return Line{
		ItemID:      in.ItemID,
		Qty:         in.Qty,
		UnitCost:    in.UnitCost,
		UnitPrice:   in.UnitPrice,
		Direction:   in.Direction,
		BatchNumber: in.BatchNumber,
		ExpiryDate:  in.ExpiryDate,
		Serials:     in.Serials,
	}
}
