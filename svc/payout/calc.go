package payout

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkingDays counts Monday to Friday in the month.
func WorkingDays(month, year int) int {
	p := Period{Month: month, Year: year}
	n := 0
	for d := p.Start(); d.Before(p.End()); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

// AgentPayoutInput is what an agent payout is computed from.
type AgentPayoutInput struct {
	Type        AgentType
	BaseSalary  decimal.Decimal
	WorkingDays int
	PresentDays int
	Commission  decimal.Decimal
}

// AgentPayoutAmounts is the result, in paise.
type AgentPayoutAmounts struct {
	AbsentDays int
	Deduction  decimal.Decimal
	Final      decimal.Decimal
}

// ComputeAgentPayout applies the attendance deduction and adds commission
// according to the agent type. Unknown types are paid as salary.
// Components are rounded before the final amount is derived from them, so
// recomputing from stored values gives the same result.
func ComputeAgentPayout(in AgentPayoutInput) AgentPayoutAmounts {
	absent := max(in.WorkingDays-in.PresentDays, 0)

	deduction := decimal.Zero
	if in.WorkingDays > 0 && absent > 0 {
		deduction = money(in.BaseSalary.
			Div(decimal.NewFromInt(int64(in.WorkingDays))).
			Mul(decimal.NewFromInt(int64(absent))))
	}

	return AgentPayoutAmounts{
		AbsentDays: absent,
		Deduction:  deduction,
		Final:      finalPayout(in.Type, in.BaseSalary, deduction, in.Commission),
	}
}

// finalPayout works on rounded components only.
func finalPayout(t AgentType, base, deduction, commission decimal.Decimal) decimal.Decimal {
	base, deduction, commission = money(base), money(deduction), money(commission)
	switch t {
	case AgentHybrid:
		return base.Sub(deduction).Add(commission)
	case AgentCommission:
		return commission
	default:
		return base.Sub(deduction)
	}
}

// money rounds a stored amount to paise.
func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
