package profits

import "fmt"

// YearFigures is what one year contributes to a running balance.
type YearFigures struct {
	NetProfit Dual
	Payouts   float64
}

// MeasureYear extracts the balance contribution of scope from a year's
// aggregation.
//
// A representative is measured on the representative share across every
// branch in the aggregation, less representative payouts. A branch is
// measured on the share named by its policy entry, less branch payouts. The
// company is measured on total net profit, after headquarters costs when
// adj is given, less every payout.
func MeasureYear(agg Aggregation, scope Scope, adj *CompanyAdjustments) (YearFigures, error) {
	switch scope.Kind() {
	case ScopeRepresentative:
		return YearFigures{
			NetProfit: agg.Raw.Shares.Rep.SubScalar(agg.Raw.Costs.Rep),
			Payouts:   agg.Payouts.Representative,
		}, nil
	case ScopeBranch:
		measure, err := MeasureOf(scope.Branch)
		if err != nil {
			return YearFigures{}, err
		}
		net := agg.Raw.Shares.Branch.SubScalar(agg.Raw.Costs.Branch)
		if measure == MeasureRepShare {
			net = agg.Raw.Shares.Rep.SubScalar(agg.Raw.Costs.Rep)
		}
		return YearFigures{NetProfit: net, Payouts: agg.Payouts.Branch}, nil
	default:
		net := agg.NetProfit.Total
		if adj != nil {
			net = adj.NetProfit.Total
		}
		return YearFigures{NetProfit: net, Payouts: agg.Payouts.Total}, nil
	}
}

// CarryForward folds yearly figures from earliest through year into a
// running balance: each year's closing balance is the previous closing plus
// net profit minus payouts. Nothing before earliest contributes.
func CarryForward(scope Scope, earliest, year int, figures func(year int) (YearFigures, error)) (RunningBalance, error) {
	if year <= 0 || earliest <= 0 {
		return RunningBalance{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	if year < earliest {
		return RunningBalance{}, fmt.Errorf("%w: year %d precedes earliest year %d", ErrInvalidPeriod, year, earliest)
	}
	rb := RunningBalance{
		Scope:    scope,
		Year:     year,
		FromYear: earliest,
		Steps:    make([]BalanceStep, 0, year-earliest+1),
	}
	var balance Dual
	for y := earliest; y <= year; y++ {
		f, err := figures(y)
		if err != nil {
			return RunningBalance{}, err
		}
		step := BalanceStep{Year: y, Opening: balance, NetProfit: f.NetProfit, Payouts: f.Payouts}
		balance = balance.Add(f.NetProfit).SubScalar(f.Payouts)
		step.Closing = balance
		rb.Steps = append(rb.Steps, step)
	}
	last := rb.Steps[len(rb.Steps)-1]
	rb.Opening = last.Opening
	rb.NetProfit = last.NetProfit
	rb.Payouts = last.Payouts
	rb.Balance = balance
	return rb, nil
}
