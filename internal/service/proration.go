package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clubhub/billing-engine/internal/domain"
)

// Prorate вычисляет знаковую корректировку при смене тарифа посреди
// оплаченного периода: (новая цена - старая цена) * доля оставшегося
// периода. Доля считается в целых днях, результат округляется до
// минимальной единицы валюты по правилу "половина от нуля".
// Положительный результат — доплата, отрицательный — кредит.
func Prorate(oldAmount, newAmount decimal.Decimal, periodStart, periodEnd, now time.Time) decimal.Decimal {
	totalDays := wholeDaysBetween(periodStart, periodEnd)
	if totalDays <= 0 {
		return decimal.Zero
	}

	remainingDays := wholeDaysBetween(now, periodEnd)
	if remainingDays < 0 {
		remainingDays = 0
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	fraction := decimal.NewFromInt(remainingDays).Div(decimal.NewFromInt(totalDays))

	return newAmount.Sub(oldAmount).Mul(fraction).Round(2)
}

// wholeDaysBetween число целых календарных дней между двумя моментами
func wholeDaysBetween(from, to time.Time) int64 {
	return int64(truncateToDay(to).Sub(truncateToDay(from)) / (24 * time.Hour))
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// clampToMonth возвращает дату списания в заданном месяце: день
// обрезается до длины месяца, если настроенный день в нем отсутствует.
// Обрезка не залипает — следующий месяц снова считается от настроенного дня.
func clampToMonth(year int, month time.Month, day int, loc *time.Location) time.Time {
	// нулевой день следующего месяца — последний день текущего
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// nextBillingDate первая дата списания строго после after для заданной
// периодичности и настроенного дня месяца
func nextBillingDate(after time.Time, frequency domain.BillingFrequency, billingDay int) time.Time {
	after = truncateToDay(after)

	if frequency == domain.BillingFrequencyAnnual {
		candidate := clampToMonth(after.Year(), after.Month(), billingDay, after.Location())
		if !candidate.After(after) {
			candidate = clampToMonth(after.Year()+1, after.Month(), billingDay, after.Location())
		}
		return candidate
	}

	candidate := clampToMonth(after.Year(), after.Month(), billingDay, after.Location())
	if !candidate.After(after) {
		candidate = clampToMonth(after.Year(), after.Month()+1, billingDay, after.Location())
	}
	return candidate
}

// billingPeriodFrom вычисляет границы периода, начинающегося в from:
// период заканчивается на следующей дате списания
func billingPeriodFrom(from time.Time, frequency domain.BillingFrequency, billingDay int) (start, end time.Time) {
	start = truncateToDay(from)
	end = nextBillingDate(start, frequency, billingDay)
	return start, end
}
