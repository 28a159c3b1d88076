package model

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// CostInputs are the operator-entered cost figures for a product. Any of them may be
// unknown; percentages are expressed in whole percent (12.5 = 12.5%).
type CostInputs struct {
	UnitCost    *decimal.Decimal
	StorageCost *decimal.Decimal
	FreightCost *decimal.Decimal
	VariablePct *decimal.Decimal
	TaxPct      *decimal.Decimal
	ManualFlag  bool
}

// Known reports whether there is any real cost input to estimate profit from.
func (c CostInputs) Known() bool {
	return c.ManualFlag || c.UnitCost != nil || c.StorageCost != nil || c.FreightCost != nil ||
		c.VariablePct != nil || c.TaxPct != nil
}

// Economics is a derived profitability view. Nil fields mean "unknown, pending real cost
// input" and are never replaced with estimated percentages.
type Economics struct {
	Revenue decimal.Decimal  `json:"revenue"`
	Units   int64            `json:"units"`
	Profit  *decimal.Decimal `json:"profit"`
	ROI     *decimal.Decimal `json:"roi"`
	ACOS    *decimal.Decimal `json:"acos"`
}

// ComputeEconomics derives profit and ROI from costs, and ACOS from ad spend.
// adSpend nil or zero attributed revenue leaves ACOS unknown.
func ComputeEconomics(revenue decimal.Decimal, units int64, costs CostInputs, adSpend *decimal.Decimal) Economics {
	e := Economics{Revenue: revenue, Units: units}

	if costs.Known() {
		perUnit := orZero(costs.UnitCost).Add(orZero(costs.StorageCost)).Add(orZero(costs.FreightCost))
		pct := orZero(costs.VariablePct).Add(orZero(costs.TaxPct))
		cogs := perUnit.Mul(decimal.NewFromInt(units)).Add(revenue.Mul(pct).Div(hundred))
		profit := revenue.Sub(cogs)
		e.Profit = &profit
		if cogs.IsPositive() {
			roi := profit.Div(cogs).Mul(hundred).Round(2)
			e.ROI = &roi
		}
	}

	if adSpend != nil && revenue.IsPositive() {
		acos := adSpend.Div(revenue).Mul(hundred).Round(2)
		e.ACOS = &acos
	}
	return e
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
