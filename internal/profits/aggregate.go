package profits

import "sort"

// Aggregate sums the tuples that fall inside scope. Each tuple is routed
// through the branch policy, representative shares always land in PH, and
// every total is re-summed from its buckets. An unknown branch fails the
// whole call; an empty slice yields zeros.
func Aggregate(tuples []Tuple, scope Scope) (Aggregation, error) {
	var agg Aggregation
	for _, t := range tuples {
		if !scope.Matches(t.Key) {
			continue
		}
		alloc, err := Allocate(t.Key.Branch, t.Shares)
		if err != nil {
			return Aggregation{}, err
		}
		costs, err := AllocateCost(t.Key.Branch, t.Costs)
		if err != nil {
			return Aggregation{}, err
		}

		agg.ProfitCN.Firm = agg.ProfitCN.Firm.Add(alloc.Firm)
		agg.ProfitCN.Branches = agg.ProfitCN.Branches.Add(alloc.Branch)
		agg.ProfitCN.PH = agg.ProfitCN.PH.Add(alloc.Rep)
		agg.ProfitCN.Fund = agg.ProfitCN.Fund.Add(alloc.Fund)

		agg.Costs.Firm += costs.Firm
		agg.Costs.Branches += costs.Branch
		agg.Costs.PH += costs.Rep

		agg.Raw.Sales = agg.Raw.Sales.Add(t.Sales)
		agg.Raw.Profit = agg.Raw.Profit.Add(t.Profit)
		agg.Raw.Shares = agg.Raw.Shares.Add(t.Shares)
		agg.Raw.Costs = agg.Raw.Costs.Add(t.Costs)

		if t.Key.Representative == "" {
			agg.Payouts.Branch += t.Payouts
		} else {
			agg.Payouts.Representative += t.Payouts
		}
	}
	agg.ProfitCN = agg.ProfitCN.resum()
	agg.Costs = agg.Costs.resum()
	agg.NetProfit = NetOf(agg.ProfitCN, agg.Costs)
	agg.Payouts.Total = agg.Payouts.Branch + agg.Payouts.Representative
	return agg, nil
}

// AdjustForCompany applies the headquarters and private cost centres to a
// company-wide aggregation. Headquarters costs are charged to the firm
// bucket; private costs are taken from the firm's net profit afterwards.
func AdjustForCompany(agg Aggregation, headquarters, private float64) CompanyAdjustments {
	total := agg.Costs
	total.Firm += headquarters
	total = total.resum()

	net := NetOf(agg.ProfitCN, total)
	after := net
	after.Firm = after.Firm.SubScalar(private)
	after = after.resum()

	return CompanyAdjustments{
		HeadquartersCosts:     headquarters,
		PrivateCosts:          private,
		TotalCosts:            total,
		NetProfit:             net,
		NetProfitAfterPrivate: after,
	}
}

// Breakdown aggregates scope once per branch present in tuples, in policy
// table order. Each line's balance is that year's result only.
func Breakdown(tuples []Tuple, scope Scope) ([]Line, error) {
	present := make(map[string]struct{})
	for _, t := range tuples {
		if scope.Matches(t.Key) {
			present[t.Key.Branch] = struct{}{}
		}
	}
	order := Branches()
	rank := make(map[string]int, len(order))
	for i, b := range order {
		rank[b] = i
	}
	branches := make([]string, 0, len(present))
	for b := range present {
		if _, ok := rank[b]; !ok {
			_, err := Classify(b)
			return nil, err
		}
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return rank[branches[i]] < rank[branches[j]] })

	lines := make([]Line, 0, len(branches))
	for _, b := range branches {
		lineScope := Scope{Branch: b, Representative: scope.Representative}
		agg, err := Aggregate(tuples, lineScope)
		if err != nil {
			return nil, err
		}
		figures, err := MeasureYear(agg, lineScope, nil)
		if err != nil {
			return nil, err
		}
		group, _ := Classify(b)
		lines = append(lines, Line{
			Branch:    b,
			Group:     group,
			ProfitCN:  agg.ProfitCN,
			Costs:     agg.Costs,
			NetProfit: agg.NetProfit,
			Payouts:   agg.Payouts,
			Balance:   figures.NetProfit.SubScalar(figures.Payouts),
		})
	}
	return lines, nil
}
