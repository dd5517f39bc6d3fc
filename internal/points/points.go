// Package points содержит правила начисления баллов и расчёта серий.
package points

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoplate/ecoplate-system/internal/model"
)

// Таблица множителей и минимумов баллов за единицу продукта.
// Баллы за единицу: max(floor, round(co2 * multiplier)) для положительных действий,
// min(0, round(co2 * multiplier)) для wasted (штраф, никогда не положительный).
var (
	multipliers = map[model.ActionKind]decimal.Decimal{
		model.ActionConsumed: decimal.NewFromFloat(1.0),
		model.ActionShared:   decimal.NewFromFloat(1.2),
		model.ActionSold:     decimal.NewFromFloat(1.5),
		model.ActionWasted:   decimal.NewFromFloat(-0.5),
	}

	floors = map[model.ActionKind]int64{
		model.ActionConsumed: 1,
		model.ActionShared:   2,
		model.ActionSold:     3,
	}
)

// Milestones перечисляет значения серии, на которых выдаются бейджи за серию.
var Milestones = []int{3, 7, 14, 30, 60, 90, 100, 365}

// ForInteraction возвращает количество баллов за событие жизненного цикла продукта.
// co2PerUnit — зафиксированный на момент события коэффициент выбросов за единицу.
func ForInteraction(action model.ActionKind, quantity int, co2PerUnit decimal.Decimal) int64 {
	mult, ok := multipliers[action]
	if !ok || quantity <= 0 {
		return 0
	}

	perUnit := co2PerUnit.Mul(mult).Round(0).IntPart()

	if action == model.ActionWasted {
		if perUnit > 0 {
			perUnit = 0
		}
		return perUnit * int64(quantity)
	}

	if floor := floors[action]; perUnit < floor {
		perUnit = floor
	}

	return perUnit * int64(quantity)
}

// CO2Saved возвращает объём сэкономленного CO2 за событие.
// Выброшенные продукты ничего не экономят.
func CO2Saved(action model.ActionKind, quantity int, co2PerUnit decimal.Decimal) decimal.Decimal {
	if action == model.ActionWasted || quantity <= 0 {
		return decimal.Zero
	}
	return co2PerUnit.Mul(decimal.NewFromInt(int64(quantity)))
}

// Qualifies сообщает, засчитывается ли действие в серию активных дней.
func Qualifies(action model.ActionKind) bool {
	return action != model.ActionWasted
}

// IsMilestone сообщает, является ли значение серии контрольной отметкой.
func IsMilestone(streak int) bool {
	for _, m := range Milestones {
		if streak == m {
			return true
		}
	}
	return false
}

// CurrentStreak вычисляет текущую серию по списку дат активности.
// days — различные календарные дни (UTC, усечённые до суток) в порядке убывания.
// Отсчёт ведётся назад от сегодняшнего дня до первого пропущенного.
func CurrentStreak(days []time.Time, now time.Time) int {
	expected := now.UTC().Truncate(24 * time.Hour)

	streak := 0
	for _, d := range days {
		if !d.Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}

	return streak
}
