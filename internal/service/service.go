// Package service реализует бизнес-логику сервиса экоплейт.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoplate/ecoplate-system/internal/carbon"
	"github.com/ecoplate/ecoplate-system/internal/model"
	"github.com/ecoplate/ecoplate-system/internal/points"
	"github.com/ecoplate/ecoplate-system/internal/repository"
	"github.com/ecoplate/ecoplate-system/internal/validation"
)

// ErrInvalidQuantity возвращается при неположительном количестве.
var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrInvalidAction возвращается при неизвестном виде действия.
	ErrInvalidAction = errors.New("unknown action kind")
	// ErrInvalidCode возвращается при неверном формате кода получения.
	ErrInvalidCode = errors.New("invalid redemption code")
	// ErrInvalidProduct возвращается при некорректных данных продукта.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	// redemptionWindow — срок, в течение которого вознаграждение можно забрать.
	redemptionWindow = 30 * 24 * time.Hour

	// maxRedemptionQuantity ограничивает количество единиц в одном запросе.
	maxRedemptionQuantity = 10

	// streakDaysLimit покрывает годовую серию с запасом.
	streakDaysLimit = 400

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error)
	GetProduct(ctx context.Context, userID, productID int64) (*model.Product, error)
	GetProductsByUser(ctx context.Context, userID int64) ([]model.Product, error)
	CreateInteraction(ctx context.Context, in *model.ProductInteraction, pointsDelta int64, co2Delta decimal.Decimal) (*model.ProductInteraction, error)
	GetBalance(ctx context.Context, userID int64) (int64, decimal.Decimal, error)
	GetActivityDays(ctx context.Context, userID int64, limit int) ([]time.Time, error)
	GetInteractionStats(ctx context.Context, userID int64) (repository.InteractionStats, error)
	GetBadges(ctx context.Context) ([]model.Badge, error)
	GetUserBadges(ctx context.Context, userID int64) ([]model.UserBadge, error)
	UnlockBadge(ctx context.Context, userID int64, badge model.Badge) (bool, error)
	GetActiveRewards(ctx context.Context) ([]model.Reward, error)
	CreateRedemption(ctx context.Context, userID, rewardID int64, quantity int, codes []string, expiresAt time.Time) (*model.Reward, []model.UserRedemption, error)
	GetRedemptionsByUser(ctx context.Context, userID int64) ([]repository.RedemptionWithReward, error)
	CollectRedemption(ctx context.Context, userID int64, code string) (*model.UserRedemption, error)
	ExpireRedemptions(ctx context.Context, now time.Time) (int64, error)
}

// Service содержит бизнес-логику сервиса экоплейт.
type Service struct {
	repo         Repository
	carbonClient *carbon.Client
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом коэффициентов выбросов.
func NewService(repo Repository, carbonClient *carbon.Client) *Service {
	return &Service{
		repo:         repo,
		carbonClient: carbonClient,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// AddProduct добавляет продукт в инвентарь пользователя.
// Нераспознанная категория попадает в корзину "other".
func (s *Service) AddProduct(ctx context.Context, userID int64, name, category string, quantity int, expiry *time.Time) (*model.Product, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidProduct)
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return s.repo.CreateProduct(ctx, &model.Product{
		UserID:     userID,
		Name:       name,
		Category:   carbon.NormalizeCategory(category),
		Quantity:   quantity,
		ExpiryDate: expiry,
	})
}

// GetProductsByUser возвращает инвентарь пользователя.
func (s *Service) GetProductsByUser(ctx context.Context, userID int64) ([]model.Product, error) {
	return s.repo.GetProductsByUser(ctx, userID)
}

// InteractionResult описывает итог записи события жизненного цикла продукта.
type InteractionResult struct {
	Interaction    *model.ProductInteraction
	PointsEarned   int64
	UnlockedBadges []model.Badge
}

// RecordInteraction записывает событие жизненного цикла продукта, начисляет баллы
// и запускает проверку бейджей. Коэффициент выбросов фиксируется на момент события:
// последующие изменения таблицы коэффициентов не влияют на уже начисленные баллы.
func (s *Service) RecordInteraction(ctx context.Context, userID, productID int64, actionKind string, quantity int) (*InteractionResult, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	action, ok := validation.ParseAction(actionKind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAction, actionKind)
	}

	product, err := s.repo.GetProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	category := carbon.NormalizeCategory(product.Category)
	factor := s.resolveFactor(ctx, category)

	pointsDelta := points.ForInteraction(action, quantity, factor)
	co2Delta := points.CO2Saved(action, quantity, factor)

	created, err := s.repo.CreateInteraction(ctx, &model.ProductInteraction{
		UserID:      userID,
		ProductID:   productID,
		Action:      action,
		Quantity:    quantity,
		Category:    category,
		CO2Emission: factor,
	}, pointsDelta, co2Delta)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.evaluateBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &InteractionResult{
		Interaction:    created,
		PointsEarned:   pointsDelta,
		UnlockedBadges: unlocked,
	}, nil
}

// resolveFactor возвращает коэффициент выбросов для категории: из внешнего
// сервиса, если он настроен и отвечает, иначе из встроенной таблицы.
func (s *Service) resolveFactor(ctx context.Context, category string) decimal.Decimal {
	if s.carbonClient != nil {
		if factor, found, err := s.carbonClient.GetFactor(ctx, category); err == nil && found {
			return factor
		}
	}
	return carbon.FactorFor(category)
}

// evaluateBadges проверяет условия всех ещё не разблокированных бейджей и
// разблокирует подходящие. Бейджи за серию выдаются только на точных контрольных
// отметках. Повторный вызов с тем же состоянием ничего не разблокирует: вставка
// идемпотентна на уровне хранилища.
func (s *Service) evaluateBadges(ctx context.Context, userID int64) ([]model.Badge, error) {
	badges, err := s.repo.GetBadges(ctx)
	if err != nil {
		return nil, err
	}

	owned, err := s.repo.GetUserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	ownedSet := make(map[int64]struct{}, len(owned))
	for _, ub := range owned {
		ownedSet[ub.BadgeID] = struct{}{}
	}

	stats, err := s.repo.GetInteractionStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	days, err := s.repo.GetActivityDays(ctx, userID, streakDaysLimit)
	if err != nil {
		return nil, err
	}
	streak := points.CurrentStreak(days, time.Now())

	var unlocked []model.Badge
	for _, b := range badges {
		if _, ok := ownedSet[b.ID]; ok {
			continue
		}
		if !badgeMatches(b, stats, streak) {
			continue
		}

		inserted, err := s.repo.UnlockBadge(ctx, userID, b)
		if err != nil {
			return nil, err
		}
		if inserted {
			unlocked = append(unlocked, b)
		}
	}

	return unlocked, nil
}

func badgeMatches(b model.Badge, stats repository.InteractionStats, streak int) bool {
	switch b.Criteria {
	case model.CriteriaFirstInteraction:
		return stats.Total >= 1
	case model.CriteriaStreak:
		return points.IsMilestone(b.Threshold) && streak == b.Threshold
	case model.CriteriaInteractions:
		return stats.NonWasted >= b.Threshold
	case model.CriteriaShared:
		return stats.Shared >= b.Threshold
	}
	return false
}

// GetBalance возвращает производный баланс пользователя: сумму журнала баллов,
// текущую серию и сэкономленный CO2. Чистая функция журнала: без новых событий
// повторный вызов возвращает те же значения.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	totalPoints, totalCO2, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	days, err := s.repo.GetActivityDays(ctx, userID, streakDaysLimit)
	if err != nil {
		return nil, err
	}

	return &model.Balance{
		TotalPoints:   totalPoints,
		CurrentStreak: points.CurrentStreak(days, time.Now()),
		TotalCO2Saved: totalCO2,
	}, nil
}

// GetRewards возвращает активные вознаграждения по возрастанию стоимости.
func (s *Service) GetRewards(ctx context.Context) ([]model.Reward, error) {
	return s.repo.GetActiveRewards(ctx)
}

// RedemptionResult описывает итог обмена баллов на вознаграждение.
type RedemptionResult struct {
	Redemptions      []model.UserRedemption
	TotalPointsSpent int64
	Reward           *model.Reward
}

// Redeem обменивает баллы пользователя на указанное количество единиц вознаграждения.
// Проверки и списание выполняются атомарно в хранилище; стоимость фиксируется
// на момент обмена.
func (s *Service) Redeem(ctx context.Context, userID, rewardID int64, quantity int) (*RedemptionResult, error) {
	if quantity <= 0 || quantity > maxRedemptionQuantity {
		return nil, ErrInvalidQuantity
	}

	codes := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		code, err := generateRedemptionCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		codes = append(codes, code)
	}

	expiresAt := time.Now().Add(redemptionWindow)

	reward, redemptions, err := s.repo.CreateRedemption(ctx, userID, rewardID, quantity, codes, expiresAt)
	if err != nil {
		return nil, err
	}

	return &RedemptionResult{
		Redemptions:      redemptions,
		TotalPointsSpent: reward.PointsCost * int64(quantity),
		Reward:           reward,
	}, nil
}

func generateRedemptionCode() (string, error) {
	buf := make([]byte, validation.CodeSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	suffix := make([]byte, validation.CodeSuffixLen)
	for i, b := range buf {
		suffix[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return validation.CodePrefix + string(suffix), nil
}

// GetRedemptionsByUser возвращает историю получений пользователя, новейшие первыми.
func (s *Service) GetRedemptionsByUser(ctx context.Context, userID int64) ([]repository.RedemptionWithReward, error) {
	return s.repo.GetRedemptionsByUser(ctx, userID)
}

// CollectRedemption помечает ожидающее получение как выданное при предъявлении кода.
func (s *Service) CollectRedemption(ctx context.Context, userID int64, code string) (*model.UserRedemption, error) {
	if !validation.IsValidRedemptionCode(code) {
		return nil, ErrInvalidCode
	}
	return s.repo.CollectRedemption(ctx, userID, code)
}

// BadgeStatus объединяет бейдж каталога с состоянием разблокировки у пользователя.
type BadgeStatus struct {
	Badge      model.Badge
	Unlocked   bool
	UnlockedAt *time.Time
}

// GetBadgesForUser возвращает каталог бейджей с отметками о разблокировке.
func (s *Service) GetBadgesForUser(ctx context.Context, userID int64) ([]BadgeStatus, error) {
	badges, err := s.repo.GetBadges(ctx)
	if err != nil {
		return nil, err
	}

	owned, err := s.repo.GetUserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlockedAt := make(map[int64]time.Time, len(owned))
	for _, ub := range owned {
		unlockedAt[ub.BadgeID] = ub.UnlockedAt
	}

	res := make([]BadgeStatus, 0, len(badges))
	for _, b := range badges {
		st := BadgeStatus{Badge: b}
		if at, ok := unlockedAt[b.ID]; ok {
			st.Unlocked = true
			t := at
			st.UnlockedAt = &t
		}
		res = append(res, st)
	}

	return res, nil
}

// StartExpirySweeper запускает фоновый процесс перевода просроченных получений
// в статус expired. Баллы при истечении срока не возвращаются.
func (s *Service) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.repo.ExpireRedemptions(ctx, time.Now())
			}
		}
	}()
}
