package profits

import (
	"fmt"
	"strings"
)

// ScopeKind identifies the dimension a report is computed for.
type ScopeKind string

const (
	ScopeCompany        ScopeKind = "company"
	ScopeBranch         ScopeKind = "branch"
	ScopeRepresentative ScopeKind = "representative"
)

// Scope selects the slice of records a report covers. Both fields empty means
// the whole company. A representative scope may be narrowed to one branch.
type Scope struct {
	Branch         string `json:"branch,omitempty"`
	Representative string `json:"representative,omitempty"`
}

// CompanyScope returns the company-wide scope.
func CompanyScope() Scope { return Scope{} }

// BranchScope returns the scope of a single branch.
func BranchScope(branch string) Scope { return Scope{Branch: branch} }

// RepresentativeScope returns the scope of a representative, optionally
// filtered to one branch.
func RepresentativeScope(name, branch string) Scope {
	return Scope{Representative: name, Branch: branch}
}

// Kind classifies the scope.
func (s Scope) Kind() ScopeKind {
	switch {
	case s.Representative != "":
		return ScopeRepresentative
	case s.Branch != "":
		return ScopeBranch
	default:
		return ScopeCompany
	}
}

// Matches reports whether a record key falls inside the scope.
func (s Scope) Matches(k Key) bool {
	if s.Branch != "" && k.Branch != s.Branch {
		return false
	}
	if s.Representative != "" && k.Representative != s.Representative {
		return false
	}
	return true
}

func (s Scope) String() string {
	switch s.Kind() {
	case ScopeRepresentative:
		if s.Branch != "" {
			return fmt.Sprintf("representative:%s@%s", s.Representative, s.Branch)
		}
		return "representative:" + s.Representative
	case ScopeBranch:
		return "branch:" + s.Branch
	default:
		return "company"
	}
}

// Key identifies a joined record slot. Month zero never appears in records;
// it is only used by queries to mean the whole year.
type Key struct {
	Year           int    `json:"year"`
	Month          int    `json:"month"`
	Branch         string `json:"branch"`
	Representative string `json:"representative,omitempty"`
}

// Less orders keys by year, month, branch and representative.
func (k Key) Less(o Key) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	if k.Month != o.Month {
		return k.Month < o.Month
	}
	if k.Branch != o.Branch {
		return k.Branch < o.Branch
	}
	return k.Representative < o.Representative
}

func (k Key) String() string {
	parts := []string{fmt.Sprintf("%04d-%02d", k.Year, k.Month), k.Branch}
	if k.Representative != "" {
		parts = append(parts, k.Representative)
	}
	return strings.Join(parts, "/")
}

// ProfitShares is the split of a sale's profit between headquarters, the
// branch, the representative and the company fund.
type ProfitShares struct {
	HQ     Dual `json:"hq"`
	Branch Dual `json:"branch"`
	Rep    Dual `json:"rep"`
	Fund   Dual `json:"fund"`
}

// IsZero reports whether no share carries a value.
func (p ProfitShares) IsZero() bool {
	return p.HQ.IsZero() && p.Branch.IsZero() && p.Rep.IsZero() && p.Fund.IsZero()
}

// Add sums two share splits.
func (p ProfitShares) Add(o ProfitShares) ProfitShares {
	return ProfitShares{
		HQ:     p.HQ.Add(o.HQ),
		Branch: p.Branch.Add(o.Branch),
		Rep:    p.Rep.Add(o.Rep),
		Fund:   p.Fund.Add(o.Fund),
	}
}

// SalesRecord is one branch/representative/month of sales and profit.
type SalesRecord struct {
	Year           int          `json:"year"`
	Month          int          `json:"month"`
	Branch         string       `json:"branch"`
	Representative string       `json:"representative,omitempty"`
	Sales          Dual         `json:"sales"`
	Profit         Dual         `json:"profit"`
	Shares         ProfitShares `json:"shares"`
}

// Key returns the join key of the record.
func (r SalesRecord) Key() Key {
	return Key{Year: r.Year, Month: r.Month, Branch: r.Branch, Representative: r.Representative}
}

// EffectiveShares returns the share split, attributing the whole profit to
// the record owner when the provider supplied no split.
func (r SalesRecord) EffectiveShares() ProfitShares {
	if !r.Shares.IsZero() || r.Profit.IsZero() {
		return r.Shares
	}
	if r.Representative != "" {
		return ProfitShares{Rep: r.Profit}
	}
	return ProfitShares{Branch: r.Profit}
}

// CostShares is the split of a cost between headquarters, branch and
// representative. Costs have no paid variant.
type CostShares struct {
	HQ     float64 `json:"hq"`
	Branch float64 `json:"branch"`
	Rep    float64 `json:"rep"`
}

// Total returns the sum of all shares.
func (c CostShares) Total() float64 {
	return c.HQ + c.Branch + c.Rep
}

// Add sums two cost splits.
func (c CostShares) Add(o CostShares) CostShares {
	return CostShares{HQ: c.HQ + o.HQ, Branch: c.Branch + o.Branch, Rep: c.Rep + o.Rep}
}

// CostRecord is the pre-aggregated cost for one key.
type CostRecord struct {
	Year           int        `json:"year"`
	Month          int        `json:"month"`
	Branch         string     `json:"branch"`
	Representative string     `json:"representative,omitempty"`
	Shares         CostShares `json:"shares"`
}

// Key returns the join key of the record.
func (r CostRecord) Key() Key {
	return Key{Year: r.Year, Month: r.Month, Branch: r.Branch, Representative: r.Representative}
}

// PayoutRecord is cash disbursed against a branch share (no representative)
// or a representative share.
type PayoutRecord struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	Branch         string  `json:"branch"`
	Representative string  `json:"representative,omitempty"`
	Amount         float64 `json:"amount"`
}

// Key returns the join key of the record.
func (r PayoutRecord) Key() Key {
	return Key{Year: r.Year, Month: r.Month, Branch: r.Branch, Representative: r.Representative}
}

// CostLineItem is an itemised cost entry. Only the headquarters and private
// cost centres are read this way.
type CostLineItem struct {
	Year           int     `json:"year"`
	Month          int     `json:"month"`
	Branch         string  `json:"branch"`
	Representative string  `json:"representative,omitempty"`
	Kind           string  `json:"kind,omitempty"`
	Purpose        string  `json:"purpose,omitempty"`
	Contractor     string  `json:"contractor,omitempty"`
	DocumentNo     string  `json:"document_no,omitempty"`
	Value          float64 `json:"value"`
}

// Tuple is the joined view of one key: sales, costs and payouts side by side
// with zero for any side that had no record.
type Tuple struct {
	Key     Key          `json:"key"`
	Sales   Dual         `json:"sales"`
	Profit  Dual         `json:"profit"`
	Shares  ProfitShares `json:"shares"`
	Costs   CostShares   `json:"costs"`
	Payouts float64      `json:"payouts"`
}

// AggregatedProfit holds profit per bucket. Total always equals
// Firm + Branches + PH; Fund is already part of Firm.
type AggregatedProfit struct {
	Firm     Dual `json:"firm"`
	Branches Dual `json:"branches"`
	PH       Dual `json:"ph"`
	Fund     Dual `json:"fund"`
	Total    Dual `json:"total"`
}

func (a AggregatedProfit) resum() AggregatedProfit {
	a.Total = SumDuals(a.Firm, a.Branches, a.PH)
	return a
}

// CostSummary holds costs per bucket. Total always equals
// Firm + Branches + PH.
type CostSummary struct {
	Firm     float64 `json:"firm"`
	Branches float64 `json:"branches"`
	PH       float64 `json:"ph"`
	Total    float64 `json:"total"`
}

func (c CostSummary) resum() CostSummary {
	c.Total = c.Firm + c.Branches + c.PH
	return c
}

// NetOf derives net profit per bucket: profit minus the matching cost bucket.
func NetOf(profit AggregatedProfit, costs CostSummary) AggregatedProfit {
	return AggregatedProfit{
		Firm:     profit.Firm.SubScalar(costs.Firm),
		Branches: profit.Branches.SubScalar(costs.Branches),
		PH:       profit.PH.SubScalar(costs.PH),
		Fund:     profit.Fund,
	}.resum()
}

// RawTotals are the ungrouped sums of a slice, before any firm/branch routing.
type RawTotals struct {
	Sales  Dual         `json:"sales"`
	Profit Dual         `json:"profit"`
	Shares ProfitShares `json:"shares"`
	Costs  CostShares   `json:"costs"`
}

// PayoutTotals splits payouts by what they were drawn against.
type PayoutTotals struct {
	Branch         float64 `json:"branch"`
	Representative float64 `json:"representative"`
	Total          float64 `json:"total"`
}

// Aggregation is the result of summing tuples for a scope.
type Aggregation struct {
	ProfitCN  AggregatedProfit `json:"profit_cn"`
	Costs     CostSummary      `json:"costs"`
	NetProfit AggregatedProfit `json:"net_profit"`
	Raw       RawTotals        `json:"raw"`
	Payouts   PayoutTotals     `json:"payouts"`
}

// CompanyAdjustments carries the company-level cost centres that are never
// distributed into branch or representative buckets.
type CompanyAdjustments struct {
	HeadquartersCosts     float64          `json:"headquarters_costs"`
	PrivateCosts          float64          `json:"private_costs"`
	TotalCosts            CostSummary      `json:"total_costs"`
	NetProfit             AggregatedProfit `json:"net_profit"`
	NetProfitAfterPrivate AggregatedProfit `json:"net_profit_after_private"`
}

// Line is the per-branch row of a company or representative report. Its
// balance is the year's own result and is never carried forward.
type Line struct {
	Branch    string           `json:"branch"`
	Group     BranchGroup      `json:"group"`
	ProfitCN  AggregatedProfit `json:"profit_cn"`
	Costs     CostSummary      `json:"costs"`
	NetProfit AggregatedProfit `json:"net_profit"`
	Payouts   PayoutTotals     `json:"payouts"`
	Balance   Dual             `json:"balance"`
}

// BalanceStep is one year of a carry-forward computation.
type BalanceStep struct {
	Year      int     `json:"year"`
	Opening   Dual    `json:"opening"`
	NetProfit Dual    `json:"net_profit"`
	Payouts   float64 `json:"payouts"`
	Closing   Dual    `json:"closing"`
}

// RunningBalance is the cumulative position of a scope at the end of Year.
type RunningBalance struct {
	Scope     Scope         `json:"scope"`
	Year      int           `json:"year"`
	FromYear  int           `json:"from_year"`
	Opening   Dual          `json:"opening"`
	NetProfit Dual          `json:"net_profit"`
	Payouts   float64       `json:"payouts"`
	Balance   Dual          `json:"balance"`
	Steps     []BalanceStep `json:"steps"`
	Degraded  []DegradedKey `json:"degraded,omitempty"`
}

// DegradedKey records a provider fetch that failed and was zero-filled.
type DegradedKey struct {
	Source         string `json:"source"`
	Year           int    `json:"year"`
	Month          int    `json:"month,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Representative string `json:"representative,omitempty"`
	Reason         string `json:"reason"`
}

// IncompleteJoin notes a key that had sales without costs or costs without
// sales. It is informational; the missing side is zero-filled.
type IncompleteJoin struct {
	Key          Key  `json:"key"`
	MissingSales bool `json:"missing_sales,omitempty"`
	MissingCosts bool `json:"missing_costs,omitempty"`
}

// Report is the reconciled result for one scope and period.
type Report struct {
	Scope          Scope               `json:"scope"`
	Year           int                 `json:"year"`
	Month          int                 `json:"month,omitempty"`
	Period         Period              `json:"period"`
	ProfitCN       AggregatedProfit    `json:"profit_cn"`
	Costs          CostSummary         `json:"costs"`
	NetProfit      AggregatedProfit    `json:"net_profit"`
	Payouts        PayoutTotals        `json:"payouts"`
	Company        *CompanyAdjustments `json:"company,omitempty"`
	Lines          []Line              `json:"lines,omitempty"`
	RunningBalance RunningBalance      `json:"running_balance"`
	Degraded       []DegradedKey       `json:"degraded,omitempty"`
	Incomplete     []IncompleteJoin    `json:"incomplete,omitempty"`
}

// IsDegraded reports whether any contribution was zero-filled after a
// provider failure.
func (r Report) IsDegraded() bool {
	return len(r.Degraded) > 0
}

// MonthSummary is one row of the monthly history of a scope.
type MonthSummary struct {
	Year        int         `json:"year"`
	Month       int         `json:"month"`
	Aggregation Aggregation `json:"aggregation"`
}

// History lists month summaries newest first.
type History struct {
	Scope    Scope          `json:"scope"`
	Year     int            `json:"year"`
	Months   []MonthSummary `json:"months"`
	Degraded []DegradedKey  `json:"degraded,omitempty"`
}
