// Package carbon предоставляет коэффициенты выбросов CO2 по категориям продуктов.
package carbon

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CategoryOther — категория по умолчанию для нераспознанных продуктов.
const CategoryOther = "other"

// Встроенные коэффициенты выбросов, кг CO2-эквивалента на единицу продукта.
// Используются, когда внешний сервис коэффициентов не настроен или недоступен.
var defaultFactors = map[string]decimal.Decimal{
	"meat":        decimal.NewFromFloat(27.0),
	"seafood":     decimal.NewFromFloat(6.1),
	"dairy":       decimal.NewFromFloat(3.2),
	"produce":     decimal.NewFromFloat(2.0),
	"fruits":      decimal.NewFromFloat(1.1),
	"bakery":      decimal.NewFromFloat(1.6),
	"grains":      decimal.NewFromFloat(1.4),
	"beverages":   decimal.NewFromFloat(0.7),
	CategoryOther: decimal.NewFromFloat(1.0),
}

// NormalizeCategory приводит категорию к известному значению.
// Нераспознанные категории попадают в корзину "other".
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if _, ok := defaultFactors[c]; ok {
		return c
	}
	return CategoryOther
}

// FactorFor возвращает встроенный коэффициент выбросов для категории.
func FactorFor(category string) decimal.Decimal {
	return defaultFactors[NormalizeCategory(category)]
}
