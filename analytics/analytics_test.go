package analytics

import (
	"reflect"
	"testing"
	"time"

	"github.com/xraph/tokenledger/transaction"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"", PeriodMonth, false},
		{"week", PeriodWeek, false},
		{"Quarter", PeriodQuarter, false},
		{"all", PeriodAll, false},
		{"decade", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePeriod(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSince(t *testing.T) {
	now := time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)
	if got := PeriodWeek.Since(now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("week since = %v", got)
	}
	if got := PeriodAll.Since(now); !got.IsZero() {
		t.Errorf("all since = %v, want zero", got)
	}
}

func TestFolderBreakdown(t *testing.T) {
	now := time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)
	since := PeriodMonth.Since(now)

	entries := []transaction.Transaction{
		{Kind: transaction.KindEarned, Amount: 200, Timestamp: now.Add(-time.Hour)},
		{Kind: transaction.KindSpent, Amount: 50, Category: "documents", Timestamp: now.Add(-2 * time.Hour)},
		{Kind: transaction.KindSpent, Amount: 20, Category: "chat", Timestamp: now.Add(-3 * time.Hour)},
		{Kind: transaction.KindSpent, Amount: 30, Category: "chat", Timestamp: now.Add(-4 * time.Hour)},
		{Kind: transaction.KindSpent, Amount: 10, Timestamp: now.Add(-5 * time.Hour)},
		{Kind: transaction.KindEarned, Amount: 40, Category: "video", Timestamp: now.Add(-6 * time.Hour)},
		// Outside the window.
		{Kind: transaction.KindSpent, Amount: 999, Category: "chat", Timestamp: now.AddDate(0, -2, 0)},
	}

	f := NewFolder(since)
	for i := range entries {
		f.Add(&entries[i])
	}

	want := []Usage{
		{Category: "chat", TokensUsed: 50, Unused: 0},
		{Category: "documents", TokensUsed: 50, Unused: 0},
		{Category: "general", TokensUsed: 10, Unused: 190},
		{Category: "video", TokensUsed: 0, Unused: 40},
	}
	if got := f.Result(); !reflect.DeepEqual(got, want) {
		t.Errorf("Result =\n%+v\nwant\n%+v", got, want)
	}
}

func TestFolderEmpty(t *testing.T) {
	if got := NewFolder(time.Time{}).Result(); len(got) != 0 {
		t.Errorf("empty folder returned %v", got)
	}
}

func TestFolderAddTotalMatchesAdd(t *testing.T) {
	now := time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC)
	entries := []transaction.Transaction{
		{Kind: transaction.KindEarned, Amount: 100, Timestamp: now},
		{Kind: transaction.KindSpent, Amount: 30, Category: "chat", Timestamp: now},
		{Kind: transaction.KindSpent, Amount: 15, Timestamp: now},
	}

	streamed := NewFolder(time.Time{})
	for i := range entries {
		streamed.Add(&entries[i])
	}

	summed := NewFolder(time.Time{})
	summed.AddTotal(CategoryTotal{Category: "", Earned: 100, Spent: 15})
	summed.AddTotal(CategoryTotal{Category: "chat", Spent: 30})

	if a, b := streamed.Result(), summed.Result(); !reflect.DeepEqual(a, b) {
		t.Errorf("streamed %+v != summed %+v", a, b)
	}
}
