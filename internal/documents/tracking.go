package documents

import (
	"slices"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ValidateTracking checks batch and serial data of every line against the
// item's tracking mode. Serial numbers must be unique per item across the
// whole document.
func ValidateTracking(doc Document, items map[int64]masterdata.Item) error {
	seen := make(map[int64]map[string]bool)
	for _, line := range doc.Lines {
		item := items[line.ItemID]
		switch item.Tracking {
		case masterdata.TrackingBatch:
			if strings.TrimSpace(line.BatchNumber) == "" {
				return &shared.TrackingValidationError{LineID: line.ID, ItemID: line.ItemID, Reason: "batch number required"}
			}
		case masterdata.TrackingSerial:
			if !line.Qty.Equal(line.Qty.Truncate(0)) {
				return &shared.TrackingValidationError{LineID: line.ID, ItemID: line.ItemID, Reason: "serial tracked quantity must be a whole number"}
			}
			serials := make([]string, 0, len(line.Serials))
			for _, s := range line.Serials {
				if s = strings.TrimSpace(s); s != "" {
					serials = append(serials, s)
				}
			}
			want := int(line.Qty.IntPart())
			if len(serials) != want {
				return &shared.TrackingValidationError{
					LineID: line.ID, ItemID: line.ItemID,
					Reason:   "serial count does not match quantity",
					Expected: want, Got: len(serials),
				}
			}
			if seen[line.ItemID] == nil {
				seen[line.ItemID] = make(map[string]bool)
			}
			local := make(map[string]bool, len(serials))
			var dups []string
			for _, s := range serials {
				if local[s] || seen[line.ItemID][s] {
					dups = append(dups, s)
				}
				local[s] = true
			}
			if len(dups) > 0 {
				slices.Sort(dups)
				return &shared.TrackingValidationError{
					LineID: line.ID, ItemID: line.ItemID,
					Reason:     "serial numbers must be distinct",
					Duplicates: slices.Compact(dups),
				}
			}
			for s := range local {
				seen[line.ItemID][s] = true
			}
		}
	}
	return nil
}
