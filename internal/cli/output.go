package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/salpa/profits/internal/profits"
)

var amounts = message.NewPrinter(language.English)

func amount(v float64) string {
	return amounts.Sprintf("%.2f", v)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func row(tw *tabwriter.Writer, cells ...string) {
	fmt.Fprintln(tw, strings.Join(cells, "\t"))
}

func monthLabel(month int) string {
	if month == 0 {
		return "all"
	}
	return strconv.Itoa(month)
}

func warnDegraded(w io.Writer, keys []profits.DegradedKey) {
	fmt.Fprintf(w, "warning: %d provider fetches failed and were zero-filled\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(w, "  %s year=%d month=%s branch=%q rep=%q: %s\n",
			k.Source, k.Year, monthLabel(k.Month), k.Branch, k.Representative, k.Reason)
	}
}

func renderPeriod(w io.Writer, p profits.Period) error {
	months := make([]string, 0, len(p.AvailableMonths))
	for _, m := range p.AvailableMonths {
		months = append(months, strconv.Itoa(m))
	}
	tw := newTable(w)
	row(tw, "YEAR", strconv.Itoa(p.Year))
	row(tw, "CURRENT", strconv.FormatBool(p.IsCurrentYear))
	row(tw, "MONTHS", strings.Join(months, ","))
	if p.RecentlyOpenMonth != 0 {
		row(tw, "OPEN MONTH", strconv.Itoa(p.RecentlyOpenMonth))
	}
	row(tw, "PRIOR YEAR", fmt.Sprintf("%d (in range: %t)", p.PriorYear, p.PriorYearInRange))
	row(tw, "EARLIEST", strconv.Itoa(p.EarliestYear))
	return tw.Flush()
}

func bucketRows(tw *tabwriter.Writer, profit profits.AggregatedProfit, costs profits.CostSummary, net profits.AggregatedProfit) {
	row(tw, "BUCKET", "PROFIT", "PROFIT PAID", "COSTS", "NET", "NET PAID")
	buckets := []struct {
		name   string
		profit profits.Dual
		cost   float64
		net    profits.Dual
	}{
		{"firm", profit.Firm, costs.Firm, net.Firm},
		{"branches", profit.Branches, costs.Branches, net.Branches},
		{"ph", profit.PH, costs.PH, net.PH},
		{"total", profit.Total, costs.Total, net.Total},
	}
	for _, b := range buckets {
		row(tw, b.name, amount(b.profit.Accrued), amount(b.profit.Paid), amount(b.cost), amount(b.net.Accrued), amount(b.net.Paid))
	}
	row(tw, "fund", amount(profit.Fund.Accrued), amount(profit.Fund.Paid), "", "", "")
}

func renderReport(w io.Writer, r profits.Report) error {
	fmt.Fprintf(w, "%s %d month=%s\n\n", r.Scope, r.Year, monthLabel(r.Month))

	tw := newTable(w)
	bucketRows(tw, r.ProfitCN, r.Costs, r.NetProfit)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\npayouts: branch %s, representative %s, total %s\n",
		amount(r.Payouts.Branch), amount(r.Payouts.Representative), amount(r.Payouts.Total))
	if adj := r.Company; adj != nil {
		fmt.Fprintf(w, "headquarters costs %s, private costs %s\n", amount(adj.HeadquartersCosts), amount(adj.PrivateCosts))
		fmt.Fprintf(w, "net after headquarters %s, after private %s\n",
			amount(adj.NetProfit.Total.Accrued), amount(adj.NetProfitAfterPrivate.Total.Accrued))
	}

	if len(r.Lines) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w)
		row(tw, "BRANCH", "GROUP", "PROFIT", "COSTS", "NET", "PAYOUTS", "BALANCE", "BALANCE PAID")
		for _, l := range r.Lines {
			row(tw, l.Branch, l.Group.String(), amount(l.ProfitCN.Total.Accrued), amount(l.Costs.Total),
				amount(l.NetProfit.Total.Accrued), amount(l.Payouts.Total), amount(l.Balance.Accrued), amount(l.Balance.Paid))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	rb := r.RunningBalance
	_, err := fmt.Fprintf(w, "\nbalance since %d: %s (paid %s)\n", rb.FromYear, amount(rb.Balance.Accrued), amount(rb.Balance.Paid))
	return err
}

func renderBalance(w io.Writer, rb profits.RunningBalance) error {
	fmt.Fprintf(w, "%s %d from %d\n\n", rb.Scope, rb.Year, rb.FromYear)
	tw := newTable(w)
	row(tw, "YEAR", "OPENING", "NET", "PAYOUTS", "CLOSING", "CLOSING PAID")
	for _, s := range rb.Steps {
		row(tw, strconv.Itoa(s.Year), amount(s.Opening.Accrued), amount(s.NetProfit.Accrued),
			amount(s.Payouts), amount(s.Closing.Accrued), amount(s.Closing.Paid))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nbalance: %s (paid %s)\n", amount(rb.Balance.Accrued), amount(rb.Balance.Paid))
	return err
}

func renderHistory(w io.Writer, h profits.History) error {
	fmt.Fprintf(w, "%s %d\n\n", h.Scope, h.Year)
	tw := newTable(w)
	row(tw, "MONTH", "PROFIT", "COSTS", "NET", "NET PAID", "PAYOUTS")
	for _, m := range h.Months {
		agg := m.Aggregation
		row(tw, fmt.Sprintf("%d-%02d", m.Year, m.Month), amount(agg.ProfitCN.Total.Accrued), amount(agg.Costs.Total),
			amount(agg.NetProfit.Total.Accrued), amount(agg.NetProfit.Total.Paid), amount(agg.Payouts.Total))
	}
	return tw.Flush()
}

func renderQueue(w io.Writer, s QueueStats) error {
	tw := newTable(w)
	row(tw, "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY", "FAILED")
	row(tw, s.Queue, strconv.Itoa(s.Pending), strconv.Itoa(s.Active), strconv.Itoa(s.Scheduled),
		strconv.Itoa(s.Retry), strconv.Itoa(s.Failed))
	return tw.Flush()
}
