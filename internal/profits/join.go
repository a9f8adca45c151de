package profits

import "sort"

// JoinResult is the outcome of joining the three record streams.
type JoinResult struct {
	Tuples     []Tuple
	Incomplete []IncompleteJoin
}

type joinSlot struct {
	tuple    Tuple
	hasSales bool
	hasCosts bool
}

// Join merges sales, cost and payout records sharing a key into one tuple per
// key. Missing sides are zero. Records outside the query, and records booked
// on the headquarters or private cost centres, are left out. Branch names are
// normalised to their table spelling where recognised; unknown names pass
// through so aggregation can reject them.
func Join(sales []SalesRecord, costs []CostRecord, payouts []PayoutRecord, q Query) JoinResult {
	slots := make(map[Key]*joinSlot)
	slot := func(k Key) *joinSlot {
		s, ok := slots[k]
		if !ok {
			s = &joinSlot{tuple: Tuple{Key: k}}
			slots[k] = s
		}
		return s
	}
	admit := func(k Key) (Key, bool) {
		if IsCostCentre(k.Branch) {
			return k, false
		}
		if name, err := Canonical(k.Branch); err == nil {
			k.Branch = name
		}
		return k, q.Matches(k)
	}

	for _, r := range sales {
		k, ok := admit(r.Key())
		if !ok {
			continue
		}
		s := slot(k)
		s.hasSales = true
		s.tuple.Sales = s.tuple.Sales.Add(r.Sales)
		s.tuple.Profit = s.tuple.Profit.Add(r.Profit)
		s.tuple.Shares = s.tuple.Shares.Add(r.EffectiveShares())
	}
	for _, r := range costs {
		k, ok := admit(r.Key())
		if !ok {
			continue
		}
		s := slot(k)
		s.hasCosts = true
		s.tuple.Costs = s.tuple.Costs.Add(r.Shares)
	}
	for _, r := range payouts {
		k, ok := admit(r.Key())
		if !ok {
			continue
		}
		s := slot(k)
		s.tuple.Payouts += r.Amount
	}

	keys := make([]Key, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	out := JoinResult{Tuples: make([]Tuple, 0, len(keys))}
	for _, k := range keys {
		s := slots[k]
		out.Tuples = append(out.Tuples, s.tuple)
		if s.hasSales != s.hasCosts {
			out.Incomplete = append(out.Incomplete, IncompleteJoin{
				Key:          k,
				MissingSales: !s.hasSales,
				MissingCosts: !s.hasCosts,
			})
		}
	}
	return out
}
