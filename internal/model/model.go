// Package model содержит доменные сущности сервиса экоплейт.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя приложения.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Product описывает продукт в инвентаре холодильника пользователя.
type Product struct {
	ID         int64
	UserID     int64
	Name       string
	Category   string
	Quantity   int
	ExpiryDate *time.Time
	CreatedAt  time.Time
}

// ActionKind описывает вид события жизненного цикла продукта.
type ActionKind string

const (
	ActionConsumed ActionKind = "consumed"
	ActionShared   ActionKind = "shared"
	ActionSold     ActionKind = "sold"
	ActionWasted   ActionKind = "wasted"
)

// ProductInteraction описывает одно событие жизненного цикла продукта.
// Записи не изменяются и не удаляются: это журнал, из которого выводится баланс.
type ProductInteraction struct {
	ID          int64
	UserID      int64
	ProductID   int64
	Action      ActionKind
	Quantity    int
	Category    string
	CO2Emission decimal.Decimal
	RecordedAt  time.Time
}

// LedgerKind описывает вид записи в журнале баллов.
type LedgerKind string

const (
	LedgerInteraction LedgerKind = "interaction"
	LedgerBadgeBonus  LedgerKind = "badge_bonus"
	LedgerRedemption  LedgerKind = "redemption"
)

// Balance содержит производный баланс пользователя.
type Balance struct {
	TotalPoints   int64           `json:"totalPoints"`
	CurrentStreak int             `json:"currentStreak"`
	TotalCO2Saved decimal.Decimal `json:"totalCo2Saved"`
}

// BadgeCriteria описывает вид условия разблокировки бейджа.
type BadgeCriteria string

const (
	CriteriaFirstInteraction BadgeCriteria = "first_interaction"
	CriteriaStreak           BadgeCriteria = "streak"
	CriteriaInteractions     BadgeCriteria = "interactions"
	CriteriaShared           BadgeCriteria = "shared"
)

// Badge описывает элемент каталога достижений.
type Badge struct {
	ID            int64
	Code          string
	Name          string
	Description   string
	PointsAwarded int64
	Criteria      BadgeCriteria
	Threshold     int
}

// UserBadge фиксирует факт разблокировки бейджа пользователем.
type UserBadge struct {
	UserID     int64
	BadgeID    int64
	UnlockedAt time.Time
}

// RewardCategory описывает категорию вознаграждения.
type RewardCategory string

const (
	RewardPhysical RewardCategory = "physical"
	RewardVoucher  RewardCategory = "voucher"
)

// Reward описывает элемент каталога вознаграждений.
type Reward struct {
	ID         int64
	Name       string
	Category   RewardCategory
	PointsCost int64
	Stock      int
	Active     bool
}

// RedemptionStatus описывает статус выданного вознаграждения.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionCollected RedemptionStatus = "collected"
	RedemptionExpired   RedemptionStatus = "expired"
)

// UserRedemption описывает одну единицу полученного вознаграждения.
// Допустимые переходы статуса: pending → collected и pending → expired.
type UserRedemption struct {
	ID          int64
	UserID      int64
	RewardID    int64
	PointsSpent int64
	Code        string
	Status      RedemptionStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CollectedAt *time.Time
}
