package profits

import "context"

// Query narrows a provider request. Zero values mean unfiltered.
type Query struct {
	Year           int    `json:"year"`
	Month          int    `json:"month,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Representative string `json:"representative,omitempty"`
}

// Matches reports whether a key satisfies the query.
func (q Query) Matches(k Key) bool {
	if q.Year != 0 && k.Year != q.Year {
		return false
	}
	if q.Month != 0 && k.Month != q.Month {
		return false
	}
	if q.Branch != "" && k.Branch != q.Branch {
		return false
	}
	if q.Representative != "" && k.Representative != q.Representative {
		return false
	}
	return true
}

// Provider supplies raw records. Implementations own timeouts and retries.
type Provider interface {
	ListYears(ctx context.Context) (YearCatalogue, error)
	Today(ctx context.Context) (Today, error)
	SalesRecords(ctx context.Context, q Query) ([]SalesRecord, error)
	CostRecords(ctx context.Context, q Query) ([]CostRecord, error)
	Payouts(ctx context.Context, q Query) ([]PayoutRecord, error)
	RawCosts(ctx context.Context, q Query, limit int) ([]CostLineItem, error)
}
