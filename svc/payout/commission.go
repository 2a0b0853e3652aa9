package payout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// CommissionKind says how a rule turns a sale into a commission.
type CommissionKind string

const (
	CommissionPercentage CommissionKind = "percentage"
	CommissionFlat       CommissionKind = "flat"
)

// CommissionRule is the structured form of a payee's commission terms.
type CommissionRule struct {
	Kind  CommissionKind
	Value decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Percent builds a percentage rule.
func Percent(v decimal.Decimal) CommissionRule {
	return CommissionRule{Kind: CommissionPercentage, Value: v}
}

// Flat builds a fixed-amount-per-sale rule.
func Flat(v decimal.Decimal) CommissionRule {
	return CommissionRule{Kind: CommissionFlat, Value: v}
}

// Apply returns the commission on a sale.
func (r CommissionRule) Apply(sale decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case CommissionFlat:
		return r.Value
	case CommissionPercentage:
		return sale.Mul(r.Value).Div(hundred)
	default:
		return decimal.Zero
	}
}

func (r CommissionRule) String() string {
	if r.Kind == CommissionFlat {
		return "flat " + r.Value.String()
	}
	return r.Value.String() + "%"
}

func (r CommissionRule) Validate() error {
	if r.Kind != CommissionPercentage && r.Kind != CommissionFlat {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommissionRule, r.Kind)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: negative value", ErrInvalidCommissionRule)
	}
	if r.Kind == CommissionPercentage && r.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s%% is over 100", ErrInvalidCommissionRule, r.Value)
	}
	return nil
}

var leadingNumber = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+)?`)

// ParseCommissionRule reads legacy free-text rules: "20", "20%",
// "20% of sale", "flat 5000", "Rs. 5000 flat", "₹5000".
func ParseCommissionRule(text string) (CommissionRule, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return CommissionRule{}, fmt.Errorf("%w: empty", ErrInvalidCommissionRule)
	}

	kind := CommissionPercentage
	if strings.Contains(s, "flat") {
		kind = CommissionFlat
		s = strings.ReplaceAll(s, "flat", "")
	}
	for _, currency := range []string{"₹", "rs.", "rs", "inr"} {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(s), currency); ok {
			kind = CommissionFlat
			s = rest
			break
		}
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))

	num := leadingNumber.FindString(s)
	if num == "" {
		return CommissionRule{}, fmt.Errorf("%w: %q", ErrInvalidCommissionRule, text)
	}
	v, err := decimal.NewFromString(num)
	if err != nil {
		return CommissionRule{}, fmt.Errorf("%w: %q", ErrInvalidCommissionRule, text)
	}

	r := CommissionRule{Kind: kind, Value: v}
	if err := r.Validate(); err != nil {
		return CommissionRule{}, err
	}
	return r, nil
}
