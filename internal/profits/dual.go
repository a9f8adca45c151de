package profits

// Dual carries a monetary amount in its accrued and paid variants. Every
// arithmetic step applies to both variants independently.
type Dual struct {
	Accrued float64 `json:"accrued"`
	Paid    float64 `json:"paid"`
}

// Flat lifts a single-valued amount (costs, payouts) into both variants.
func Flat(v float64) Dual {
	return Dual{Accrued: v, Paid: v}
}

// Add returns the element-wise sum.
func (d Dual) Add(o Dual) Dual {
	return Dual{Accrued: d.Accrued + o.Accrued, Paid: d.Paid + o.Paid}
}

// Sub returns the element-wise difference.
func (d Dual) Sub(o Dual) Dual {
	return Dual{Accrued: d.Accrued - o.Accrued, Paid: d.Paid - o.Paid}
}

// SubScalar subtracts v from both variants.
func (d Dual) SubScalar(v float64) Dual {
	return d.Sub(Flat(v))
}

// IsZero reports whether both variants are zero.
func (d Dual) IsZero() bool {
	return d.Accrued == 0 && d.Paid == 0
}

// SumDuals adds values in the given order.
func SumDuals(values ...Dual) Dual {
	var out Dual
	for _, v := range values {
		out = out.Add(v)
	}
	return out
}
