package subscription

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Unlimited marks a plan limit with no cap.
const Unlimited int64 = -1

// Plan is a named tier with numeric limits and feature flags.
type Plan struct {
	ID               string          `yaml:"id"`
	Name             string          `yaml:"name"`
	MaxAgents        int64           `yaml:"max_agents"`
	MaxLeadsPerMonth int64           `yaml:"max_leads_per_month"`
	MaxStorageGB     int64           `yaml:"max_storage_gb"`
	Features         map[string]bool `yaml:"features"`
	Price            decimal.Decimal `yaml:"price"`
	AnnualPrice      decimal.Decimal `yaml:"annual_price"`
}

// Limit returns the cap for res, or Unlimited.
func (p Plan) Limit(res Resource) int64 {
	switch res {
	case ResourceAgents:
		return p.MaxAgents
	case ResourceLeads:
		return p.MaxLeadsPerMonth
	case ResourceStorage:
		return p.MaxStorageGB
	default:
		return 0
	}
}

// HasFeature reports whether the flag is enabled on the plan.
func (p Plan) HasFeature(name string) bool {
	return p.Features[name]
}

// PriceFor returns the list price for a billing cycle.
func (p Plan) PriceFor(c BillingCycle) decimal.Decimal {
	if c == CycleAnnual && !p.AnnualPrice.IsZero() {
		return p.AnnualPrice
	}
	if c == CycleAnnual {
		return p.Price.Mul(decimal.NewFromInt(12))
	}
	return p.Price
}

// Validate checks ids, names and that limits are either non-negative or Unlimited.
func (p Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPlan)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: plan %s has no name", ErrInvalidPlan, p.ID)
	}
	for res, v := range map[Resource]int64{
		ResourceAgents:  p.MaxAgents,
		ResourceLeads:   p.MaxLeadsPerMonth,
		ResourceStorage: p.MaxStorageGB,
	} {
		if v < Unlimited {
			return fmt.Errorf("%w: plan %s has negative %s limit %d", ErrInvalidPlan, p.ID, res, v)
		}
	}
	if p.Price.IsNegative() || p.AnnualPrice.IsNegative() {
		return fmt.Errorf("%w: plan %s has a negative price", ErrInvalidPlan, p.ID)
	}
	return nil
}

// LoadPlansYAML reads a plan catalog:
//
//	plans:
//	  - id: pro
//	    name: Pro
//	    max_agents: 25
//	    max_leads_per_month: 500
//	    max_storage_gb: -1
//	    price: "4999"
func LoadPlansYAML(r io.Reader) ([]Plan, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty plan catalog", ErrInvalidPlan)
		}
		return nil, errors.Join(ErrInvalidPlan, err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("%w: empty plan catalog", ErrInvalidPlan)
	}

	seen := make(map[string]struct{}, len(doc.Plans))
	for _, p := range doc.Plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %s", ErrInvalidPlan, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return doc.Plans, nil
}
