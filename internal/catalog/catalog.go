// Package catalog holds the credit product catalog and builds product
// offers for approved applications.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Product is one credit product that can be offered.
type Product struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	BaseAnnualRate    float64 `json:"base_annual_rate"`   // percent per year
	MinScore          float64 `json:"min_score"`          // 0..1000 applicant score floor
	RequiresGuarantee bool    `json:"requires_guarantee"` // product needs a pledged guarantee
	MaxLimit          float64 `json:"max_limit"`
	MaxTermMonths     int     `json:"max_term_months"`
}

// Catalog is an ordered set of products.
type Catalog struct {
	Products []Product `json:"products"`
}

// DefaultCatalog returns the built-in product set, used when no catalog
// file is configured.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Products: []Product{
			{
				ID:                "personal-flex",
				Name:              "Personal Flex Credit",
				BaseAnnualRate:    24.0,
				MinScore:          500,
				RequiresGuarantee: false,
				MaxLimit:          50_000,
				MaxTermMonths:     36,
			},
			{
				ID:                "secured-plus",
				Name:              "Secured Plus Credit",
				BaseAnnualRate:    14.5,
				MinScore:          550,
				RequiresGuarantee: true,
				MaxLimit:          250_000,
				MaxTermMonths:     60,
			},
			{
				ID:                "premier-line",
				Name:              "Premier Credit Line",
				BaseAnnualRate:    11.0,
				MinScore:          750,
				RequiresGuarantee: true,
				MaxLimit:          500_000,
				MaxTermMonths:     84,
			},
		},
	}
}

// LoadCatalog reads a catalog from a JSON file and validates it.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var cat Catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}

	return &cat, nil
}

// Validate checks the catalog for usable products.
func (c *Catalog) Validate() error {
	if len(c.Products) == 0 {
		return fmt.Errorf("catalog has no products")
	}

	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if p.ID == "" {
			return fmt.Errorf("product %d has no id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate product id %q", p.ID)
		}
		seen[p.ID] = true

		if p.BaseAnnualRate <= 0 {
			return fmt.Errorf("product %q has non-positive base rate", p.ID)
		}
		if p.MinScore < 0 || p.MinScore > 1000 {
			return fmt.Errorf("product %q min score %v outside [0,1000]", p.ID, p.MinScore)
		}
		if p.MaxLimit <= 0 {
			return fmt.Errorf("product %q has non-positive max limit", p.ID)
		}
		if p.MaxTermMonths <= 0 {
			return fmt.Errorf("product %q has non-positive max term", p.ID)
		}
	}

	return nil
}

// Eligible returns the products an applicant qualifies for, cheapest
// rate first.
func (c *Catalog) Eligible(score float64, hasGuarantee bool) []Product {
	eligible := make([]Product, 0, len(c.Products))
	for _, p := range c.Products {
		if score < p.MinScore {
			continue
		}
		if p.RequiresGuarantee && !hasGuarantee {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].BaseAnnualRate < eligible[j].BaseAnnualRate
	})

	return eligible
}
