package dues

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestStatusFor(t *testing.T) {
	asOf := time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		paid  string
		total string
		month time.Time
		want  Status
	}{
		{"fully paid", "600", "600", month(2026, time.March), StatusPaid},
		{"overpaid rounding", "600.01", "600", month(2026, time.March), StatusPaid},
		{"partial even when old", "100", "600", month(2026, time.January), StatusPartial},
		{"unpaid past month", "0", "600", month(2026, time.May), StatusOverdue},
		{"unpaid current month", "0", "600", month(2026, time.June), StatusPending},
		{"unpaid future month", "0", "600", month(2026, time.July), StatusPending},
		{"zero total stays pending", "0", "0", month(2026, time.June), StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StatusFor(dec(tc.paid), dec(tc.total), tc.month, asOf)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMonthsOverdue(t *testing.T) {
	asOf := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)

	require.Equal(t, 0, MonthsOverdue(month(2026, time.June), asOf))
	require.Equal(t, 1, MonthsOverdue(month(2026, time.May), asOf))
	require.Equal(t, 5, MonthsOverdue(month(2026, time.January), asOf))
	require.Equal(t, 18, MonthsOverdue(month(2024, time.December), asOf))
	require.Equal(t, 0, MonthsOverdue(month(2026, time.September), asOf))
}

func TestMonthsInRange(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	months := MonthsInRange(start, end)
	require.Len(t, months, 3)
	require.Equal(t, month(2026, time.January), months[0])
	require.Equal(t, month(2026, time.March), months[2])

	// Mid-month starts snap back to the first so the starting month counts.
	months = MonthsInRange(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), end)
	require.Len(t, months, 3)

	require.Empty(t, MonthsInRange(end, end))
}

func TestDueDerivedAmounts(t *testing.T) {
	d := Due{BaseAmount: dec("600"), PenaltyAmount: dec("60"), PaidAmount: dec("200")}
	require.True(t, d.TotalAmount().Equal(dec("660")))
	require.True(t, d.Balance().Equal(dec("460")))
}

func TestNormalizeDescription(t *testing.T) {
	require.Equal(t, NormalizeDescription("  Aidat  2026 "), NormalizeDescription("aidat 2026"))
	require.Equal(t, "aidat 2026", NormalizeDescription("AIDAT   2026"))
	require.Equal(t, "", NormalizeDescription("   "))
}
