package app

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata"
)

// Seed is the master data loaded into the embedded store at boot.
type Seed struct {
	Locations []SeedLocation `yaml:"locations"`
	Items     []SeedItem     `yaml:"items"`
	Accounts  []SeedAccount  `yaml:"accounts"`
	// Mappings binds posting keys (cash, inventory.location.2, ...) to
	// account codes.
	Mappings map[string]string `yaml:"mappings"`
}

// SeedLocation describes a stock location.
type SeedLocation struct {
	ID       int64  `yaml:"id"`
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Inactive bool   `yaml:"inactive"`
}

// SeedItem describes a stock keeping unit. Decimals are strings.
type SeedItem struct {
	ID           int64  `yaml:"id"`
	SKU          string `yaml:"sku"`
	Name         string `yaml:"name"`
	Unit         string `yaml:"unit"`
	CategoryID   int64  `yaml:"category_id"`
	Tracking     string `yaml:"tracking"`
	CostBasis    string `yaml:"cost_basis"`
	SellingPrice string `yaml:"selling_price"`
	Inactive     bool   `yaml:"inactive"`
}

// SeedAccount describes a chart of accounts entry.
type SeedAccount struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("app: parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply loads the seed into the directory, the chart of accounts and the
// posting mappings.
func (s *Seed) Apply(ctx context.Context, dir *masterdata.MemoryDirectory, accountSvc *accounts.Service, mappingRepo mappings.Repository) error {
	for _, l := range s.Locations {
		dir.PutLocation(masterdata.Location{ID: l.ID, Code: l.Code, Name: l.Name, IsActive: !l.Inactive})
	}
	for _, it := range s.Items {
		item := masterdata.Item{
			ID:         it.ID,
			SKU:        it.SKU,
			Name:       it.Name,
			Unit:       it.Unit,
			CategoryID: it.CategoryID,
			Tracking:   masterdata.TrackingMode(it.Tracking),
			IsActive:   !it.Inactive,
		}
		if item.Tracking == "" {
			item.Tracking = masterdata.TrackingNone
		}
		if !item.Tracking.Valid() {
			return fmt.Errorf("app: seed item %d: unknown tracking %q", it.ID, it.Tracking)
		}
		var err error
		if item.CostBasis, err = seedDecimal(it.CostBasis); err != nil {
			return fmt.Errorf("app: seed item %d cost_basis: %w", it.ID, err)
		}
		if item.SellingPrice, err = seedDecimal(it.SellingPrice); err != nil {
			return fmt.Errorf("app: seed item %d selling_price: %w", it.ID, err)
		}
		dir.PutItem(item)
	}
	codes := make(map[string]int64, len(s.Accounts))
	for _, a := range s.Accounts {
		created, err := accountSvc.Create(ctx, accounts.CreateInput{Code: a.Code, Name: a.Name})
		if err != nil {
			return fmt.Errorf("app: seed account %s: %w", a.Code, err)
		}
		codes[created.Code] = created.ID
	}
	for key, code := range s.Mappings {
		id, ok := codes[code]
		if !ok {
			return fmt.Errorf("app: seed mapping %s: unknown account code %s", key, code)
		}
		if err := mappingRepo.Upsert(ctx, mappings.Module, key, id); err != nil {
			return err
		}
	}
	return nil
}

func seedDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
