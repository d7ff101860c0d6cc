// Package analytics groups ledger entries into per-category usage breakdowns.
package analytics

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/tokenledger/transaction"
)

// Period is the look-back window of a breakdown.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodAll     Period = "all"
)

// DefaultPeriod is used when the caller names none.
const DefaultPeriod = PeriodMonth

var periodLengths = map[Period]time.Duration{
	PeriodWeek:    7 * 24 * time.Hour,
	PeriodMonth:   30 * 24 * time.Hour,
	PeriodQuarter: 90 * 24 * time.Hour,
	PeriodYear:    365 * 24 * time.Hour,
}

// ParsePeriod accepts a period name; the empty string yields DefaultPeriod.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return DefaultPeriod, nil
	}
	if p == PeriodAll {
		return p, nil
	}
	if _, ok := periodLengths[p]; !ok {
		return "", fmt.Errorf("analytics: unknown period %q", s)
	}
	return p, nil
}

// Since returns the start of the window ending at now. PeriodAll returns the
// zero time.
func (p Period) Since(now time.Time) time.Time {
	d, ok := periodLengths[p]
	if !ok {
		return time.Time{}
	}
	return now.Add(-d)
}

// Usage is one row of a breakdown.
type Usage struct {
	Category   string `json:"category"`
	TokensUsed int64  `json:"tokens_used"`
	Unused     int64  `json:"unused"`
}

type tally struct {
	earned int64
	spent  int64
}

// Folder accumulates a breakdown one entry at a time. Its memory is bounded by
// the number of distinct categories, never by history length.
type Folder struct {
	since time.Time
	byCat map[string]*tally
}

// NewFolder creates a Folder that ignores entries older than since.
func NewFolder(since time.Time) *Folder {
	return &Folder{since: since, byCat: make(map[string]*tally)}
}

// Add folds one entry into the breakdown.
func (f *Folder) Add(tx *transaction.Transaction) {
	if !f.since.IsZero() && tx.Timestamp.Before(f.since) {
		return
	}
	cat := tx.Category
	if cat == "" {
		cat = transaction.CategoryGeneral
	}
	t, ok := f.byCat[cat]
	if !ok {
		t = &tally{}
		f.byCat[cat] = t
	}
	switch tx.Kind {
	case transaction.KindEarned:
		t.earned += tx.Amount
	case transaction.KindSpent:
		t.spent += tx.Amount
	}
}

// CategoryTotal is a per-category sum computed outside the Folder, typically
// by a store aggregation query.
type CategoryTotal struct {
	Category string `json:"category" bson:"_id"`
	Earned   int64  `json:"earned" bson:"earned"`
	Spent    int64  `json:"spent" bson:"spent"`
}

// AddTotal folds a pre-aggregated category sum. It is equivalent to adding
// every entry the sum covers.
func (f *Folder) AddTotal(ct CategoryTotal) {
	cat := ct.Category
	if cat == "" {
		cat = transaction.CategoryGeneral
	}
	t, ok := f.byCat[cat]
	if !ok {
		t = &tally{}
		f.byCat[cat] = t
	}
	t.earned += ct.Earned
	t.spent += ct.Spent
}

// Result returns the breakdown ordered by tokens used descending, then by
// category name.
func (f *Folder) Result() []Usage {
	out := make([]Usage, 0, len(f.byCat))
	for cat, t := range f.byCat {
		out = append(out, Usage{
			Category:   cat,
			TokensUsed: t.spent,
			Unused:     max(0, t.earned-t.spent),
		})
	}
	slices.SortFunc(out, func(a, b Usage) int {
		if a.TokensUsed != b.TokensUsed {
			if a.TokensUsed > b.TokensUsed {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Category, b.Category)
	})
	return out
}
