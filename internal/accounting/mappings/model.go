package mappings

import (
	"fmt"
	"time"
)

// Module groups the keys the posting orchestrator resolves.
const Module = "POSTING"

// Posting keys.
const (
	KeyInventory       = "inventory"
	KeyCash            = "cash"
	KeyPayable         = "payable"
	KeyReceivable      = "receivable"
	KeyRevenue         = "revenue"
	KeyCOGS            = "cogs"
	KeyAdjustmentGain  = "adjustment.gain"
	KeyAdjustmentLoss  = "adjustment.loss"
	categoryKeyPattern = "inventory.category.%d"
	locationKeyPattern = "inventory.location.%d"
)

// CategoryInventoryKey returns the inventory key for an item category.
func CategoryInventoryKey(categoryID int64) string {
	return fmt.Sprintf(categoryKeyPattern, categoryID)
}

// LocationInventoryKey returns the inventory key for a stock location. It
// applies when the item's category has no mapping of its own.
func LocationInventoryKey(locationID int64) string {
	return fmt.Sprintf(locationKeyPattern, locationID)
}

// AccountMapping links integration keys to ledger accounts.
type AccountMapping struct {
	Module    string    `json:"module"`
	Key       string    `json:"key"`
	AccountID int64     `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
