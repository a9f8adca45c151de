package profits

import (
	"fmt"
	"sort"
)

// recentlyOpenDays is how many days into a month the previous month still
// counts as open for bookkeeping.
const recentlyOpenDays = 10

// Today is the reference date reported by the data provider.
type Today struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// Validate checks the date is a plausible calendar date.
func (t Today) Validate() error {
	if t.Year <= 0 || t.Month < 1 || t.Month > 12 || t.Day < 1 || t.Day > 31 {
		return fmt.Errorf("%w: reference date %04d-%02d-%02d", ErrInvalidPeriod, t.Year, t.Month, t.Day)
	}
	return nil
}

// YearCatalogue lists the years that have any data.
type YearCatalogue struct {
	Years       []int `json:"years"`
	CurrentYear int   `json:"current_year"`
}

// Earliest returns the oldest year with data.
func (c YearCatalogue) Earliest() (int, bool) {
	if len(c.Years) == 0 {
		return 0, false
	}
	earliest := c.Years[0]
	for _, y := range c.Years[1:] {
		if y < earliest {
			earliest = y
		}
	}
	return earliest, true
}

// Sorted returns the catalogue years newest first.
func (c YearCatalogue) Sorted() []int {
	out := append([]int(nil), c.Years...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Period is the resolved view of a requested fiscal year.
type Period struct {
	Year              int   `json:"year"`
	IsCurrentYear     bool  `json:"is_current_year"`
	AvailableMonths   []int `json:"available_months"`
	RecentlyOpenMonth int   `json:"recently_open_month,omitempty"`
	PriorYear         int   `json:"prior_year"`
	PriorYearInRange  bool  `json:"prior_year_in_range"`
	EarliestYear      int   `json:"earliest_year"`
	Today             Today `json:"today"`
}

// ResolvePeriod determines the months available for a year and whether the
// prior year has data. Years after today's year are rejected.
func ResolvePeriod(today Today, year int, catalogue YearCatalogue) (Period, error) {
	if err := today.Validate(); err != nil {
		return Period{}, err
	}
	if year <= 0 {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	if year > today.Year {
		return Period{}, fmt.Errorf("%w: year %d is after %d", ErrInvalidPeriod, year, today.Year)
	}
	p := Period{
		Year:          year,
		IsCurrentYear: year == today.Year,
		PriorYear:     year - 1,
		Today:         today,
	}
	last := 12
	if p.IsCurrentYear {
		last = today.Month
		if today.Day <= recentlyOpenDays && today.Month > 1 {
			p.RecentlyOpenMonth = today.Month - 1
		}
	}
	p.AvailableMonths = make([]int, 0, last)
	for m := 1; m <= last; m++ {
		p.AvailableMonths = append(p.AvailableMonths, m)
	}
	earliest, ok := catalogue.Earliest()
	if !ok {
		earliest = year
	}
	p.EarliestYear = earliest
	p.PriorYearInRange = ok && p.PriorYear >= earliest
	return p, nil
}

// ValidateMonth accepts zero (whole year) or a month that is available.
func (p Period) ValidateMonth(month int) error {
	if month == 0 {
		return nil
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	if p.IsCurrentYear && month > p.Today.Month {
		return fmt.Errorf("%w: month %d is after %04d-%02d", ErrInvalidPeriod, month, p.Today.Year, p.Today.Month)
	}
	return nil
}

// HistoryMonths lists the months shown in the monthly history, newest first.
// The running month of the current year is excluded because it is still open.
func (p Period) HistoryMonths() []int {
	last := 12
	if p.IsCurrentYear {
		last = p.Today.Month - 1
	}
	out := make([]int, 0, last)
	for m := last; m >= 1; m-- {
		out = append(out, m)
	}
	return out
}
