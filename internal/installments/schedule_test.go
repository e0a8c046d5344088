package installments

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGenerateScheduleEvenSplit(t *testing.T) {
	schedule, err := GenerateSchedule(dec("1200000"), 12, day("2024-01-15"), nil)
	require.NoError(t, err)
	require.Len(t, schedule.Installments, 12)
	require.Empty(t, schedule.Warnings)

	for i, it := range schedule.Installments {
		require.Equal(t, i+1, it.QuotaNumber)
		requireAmount(t, "100000", it.QuotaValue)
		requireAmount(t, "100000", it.Balance)
		require.Equal(t, StatusPending, it.Status)
		require.Equal(t, 15, it.DueDate.Day())
	}
	require.Equal(t, day("2024-02-15"), schedule.Installments[0].DueDate)
	require.Equal(t, day("2025-01-15"), schedule.Installments[11].DueDate)
	requireAmount(t, "1200000", schedule.Total)
}

func TestGenerateScheduleLastQuotaAbsorbsRemainder(t *testing.T) {
	cases := []struct {
		total string
		n     int
		last  string
	}{
		{"100", 3, "33.34"},
		{"0.05", 10, "0.05"},
		{"1000000.01", 7, "142857.17"},
		{"0", 4, "0"},
		{"999.99", 1, "999.99"},
	}
	for _, tc := range cases {
		schedule, err := GenerateSchedule(dec(tc.total), tc.n, day("2024-03-01"), nil)
		require.NoError(t, err)
		requireAmount(t, tc.total, SumQuotas(schedule.Installments), tc.total)
		requireAmount(t, tc.last, schedule.Installments[tc.n-1].QuotaValue, tc.total)
		for _, it := range schedule.Installments {
			require.False(t, it.QuotaValue.IsNegative())
		}
	}
}

func TestGenerateScheduleCustomAmounts(t *testing.T) {
	custom := []decimal.Decimal{dec("500"), dec("300"), dec("250")}
	schedule, err := GenerateSchedule(dec("1000"), 3, day("2024-01-10"), custom)
	require.NoError(t, err)
	requireAmount(t, "500", schedule.Installments[0].QuotaValue)
	requireAmount(t, "250", schedule.Installments[2].QuotaValue)
	requireAmount(t, "1050", schedule.Total)
	require.Len(t, schedule.Warnings, 1)
	require.Equal(t, WarningCustomTotalMismatch, schedule.Warnings[0].Code)
}

func TestGenerateScheduleKeepsCustomAmountsVerbatim(t *testing.T) {
	custom := []decimal.Decimal{dec("10.005"), dec("40"), dec("49.995")}
	schedule, err := GenerateSchedule(dec("100"), 3, day("2024-01-10"), custom)
	require.NoError(t, err)
	require.Empty(t, schedule.Warnings)
	requireAmount(t, "10.005", schedule.Installments[0].QuotaValue)
	requireAmount(t, "49.995", schedule.Installments[2].QuotaValue)
	requireAmount(t, "100", schedule.Total)
	require.Equal(t, "10.005", custom[0].String())
}

func TestGenerateScheduleRejectsInvalidParameters(t *testing.T) {
	_, err := GenerateSchedule(dec("100"), 0, day("2024-01-01"), nil)
	require.True(t, errors.Is(err, ErrInvalidScheduleParameters))

	_, err = GenerateSchedule(dec("-1"), 2, day("2024-01-01"), nil)
	require.True(t, errors.Is(err, ErrInvalidScheduleParameters))

	_, err = GenerateSchedule(dec("100"), 2, day("2024-01-01"), []decimal.Decimal{dec("100")})
	require.True(t, errors.Is(err, ErrInvalidScheduleParameters))

	_, err = GenerateSchedule(dec("100"), 2, day("2024-01-01"), []decimal.Decimal{dec("150"), dec("-50")})
	require.True(t, errors.Is(err, ErrInvalidScheduleParameters))
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	require.Equal(t, day("2024-02-29"), AddMonths(day("2024-01-31"), 1))
	require.Equal(t, day("2023-02-28"), AddMonths(day("2023-01-31"), 1))
	require.Equal(t, day("2024-04-30"), AddMonths(day("2024-01-31"), 3))
	require.Equal(t, day("2025-01-31"), AddMonths(day("2024-01-31"), 12))
	require.Equal(t, day("2024-03-15"), AddMonths(time.Date(2024, 2, 15, 18, 30, 0, 0, time.UTC), 1))
}

func TestPlanAmounts(t *testing.T) {
	n, custom, err := PlanAmounts(PaymentPlan{NumberQuotas: intPtr(24)})
	require.NoError(t, err)
	require.Equal(t, 24, n)
	require.Nil(t, custom)

	n, custom, err = PlanAmounts(PaymentPlan{CustomAmounts: []QuotaAmount{
		{Number: 2, Amount: dec("20")},
		{Number: 1, Amount: dec("10")},
	}})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	requireAmount(t, "10", custom[0])
	requireAmount(t, "20", custom[1])

	_, _, err = PlanAmounts(PaymentPlan{CustomAmounts: []QuotaAmount{{Number: 1, Amount: dec("1")}, {Number: 3, Amount: dec("1")}}})
	require.ErrorIs(t, err, ErrInvalidScheduleParameters)

	_, _, err = PlanAmounts(PaymentPlan{})
	require.ErrorIs(t, err, ErrInvalidScheduleParameters)
}
