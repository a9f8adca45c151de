package profits

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BranchGroup decides how a branch's own profit share rolls up.
type BranchGroup int

const (
	// GroupA branches keep their branch share in the branches bucket.
	GroupA BranchGroup = iota + 1
	// GroupB branches fold their branch share into the firm bucket.
	GroupB
)

func (g BranchGroup) String() string {
	switch g {
	case GroupA:
		return "A"
	case GroupB:
		return "B"
	default:
		return "unknown"
	}
}

// MarshalText renders the group for JSON payloads.
func (g BranchGroup) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText parses the rendering produced by MarshalText.
func (g *BranchGroup) UnmarshalText(text []byte) error {
	switch string(text) {
	case "A":
		*g = GroupA
	case "B":
		*g = GroupB
	default:
		return fmt.Errorf("profits: unknown branch group %q", text)
	}
	return nil
}

// BalanceMeasure names the share a branch's own running balance is measured on.
type BalanceMeasure int

const (
	MeasureBranchShare BalanceMeasure = iota + 1
	MeasureRepShare
)

// Reserved company-level cost centres.
const (
	CostCentreHQ      = "HQ"
	CostCentrePrivate = "Private"
)

type branchPolicy struct {
	name    string
	group   BranchGroup
	measure BalanceMeasure
}

var branchTable = []branchPolicy{
	{name: "Pcim", group: GroupA, measure: MeasureBranchShare},
	{name: "Łomża", group: GroupA, measure: MeasureBranchShare},
	{name: "Lublin", group: GroupA, measure: MeasureBranchShare},
	{name: "Malbork", group: GroupA, measure: MeasureBranchShare},
	{name: "Rzgów", group: GroupB, measure: MeasureBranchShare},
	{name: "Myślibórz", group: GroupB, measure: MeasureBranchShare},
	{name: "MG", group: GroupB, measure: MeasureRepShare},
	{name: "STH", group: GroupB, measure: MeasureRepShare},
	{name: "BHP", group: GroupB, measure: MeasureRepShare},
}

var (
	branchByFold      = map[string]branchPolicy{}
	costCentresByFold = map[string]string{}
)

func init() {
	for _, p := range branchTable {
		branchByFold[foldName(p.name)] = p
	}
	for _, name := range []string{CostCentreHQ, CostCentrePrivate} {
		costCentresByFold[foldName(name)] = name
	}
}

// foldName reduces a name to lowercase ASCII letters so aliases such as
// "lomza" and "ŁOMŻA" meet the same table entry.
func foldName(name string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			switch r {
			case 'ł':
				return 'l'
			case 'Ł':
				return 'L'
			}
			return r
		}),
		norm.NFC,
	)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// Canonical returns the table spelling of a branch or cost centre name.
func Canonical(name string) (string, error) {
	key := foldName(name)
	if p, ok := branchByFold[key]; ok {
		return p.name, nil
	}
	if cc, ok := costCentresByFold[key]; ok {
		return cc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBranch, name)
}

// IsCostCentre reports whether name is the headquarters or private cost centre.
func IsCostCentre(name string) bool {
	_, ok := costCentresByFold[foldName(name)]
	return ok
}

// Branches lists every recognised branch, Group A first.
func Branches() []string {
	out := make([]string, 0, len(branchTable))
	for _, p := range branchTable {
		out = append(out, p.name)
	}
	return out
}

func lookup(branch string) (branchPolicy, error) {
	p, ok := branchByFold[foldName(branch)]
	if !ok {
		return branchPolicy{}, fmt.Errorf("%w: %q", ErrUnknownBranch, branch)
	}
	return p, nil
}

// Classify returns the roll-up group of a branch.
func Classify(branch string) (BranchGroup, error) {
	p, err := lookup(branch)
	if err != nil {
		return 0, err
	}
	return p.group, nil
}

// MeasureOf returns the share a branch's running balance is computed on.
func MeasureOf(branch string) (BalanceMeasure, error) {
	p, err := lookup(branch)
	if err != nil {
		return 0, err
	}
	return p.measure, nil
}

// Allocation is a branch's profit routed onto the top-level buckets.
type Allocation struct {
	Firm   Dual
	Branch Dual
	Rep    Dual
	Fund   Dual
}

// Allocate routes one branch's profit shares. The representative share is
// never regrouped; the fund always lands in the firm bucket.
func Allocate(branch string, shares ProfitShares) (Allocation, error) {
	group, err := Classify(branch)
	if err != nil {
		return Allocation{}, err
	}
	out := Allocation{
		Firm: shares.HQ.Add(shares.Fund),
		Rep:  shares.Rep,
		Fund: shares.Fund,
	}
	switch group {
	case GroupA:
		out.Branch = shares.Branch
	case GroupB:
		out.Firm = out.Firm.Add(shares.Branch)
	}
	return out, nil
}

// CostAllocation is a branch's cost routed onto the top-level buckets.
type CostAllocation struct {
	Firm   float64
	Branch float64
	Rep    float64
}

// AllocateCost routes costs with the same group rule as profit.
func AllocateCost(branch string, costs CostShares) (CostAllocation, error) {
	group, err := Classify(branch)
	if err != nil {
		return CostAllocation{}, err
	}
	out := CostAllocation{Firm: costs.HQ, Rep: costs.Rep}
	switch group {
	case GroupA:
		out.Branch = costs.Branch
	case GroupB:
		out.Firm += costs.Branch
	}
	return out, nil
}
