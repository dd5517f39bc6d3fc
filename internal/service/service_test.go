package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecoplate/ecoplate-system/internal/model"
	"github.com/ecoplate/ecoplate-system/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	product    *model.Product
	productErr error

	createdInteraction *model.ProductInteraction
	capturedPoints     int64
	capturedCO2        decimal.Decimal
	interactionErr     error

	balancePoints int64
	balanceCO2    decimal.Decimal
	balanceErr    error

	activityDays []time.Time

	stats repository.InteractionStats

	badges     []model.Badge
	userBadges []model.UserBadge

	unlockCalls    []int64
	unlockInserted bool

	rewards []model.Reward

	redemptionReward  *model.Reward
	redemptions       []model.UserRedemption
	redemptionErr     error
	capturedCodes     []string
	capturedExpiresAt time.Time
	capturedQuantity  int

	collectRedemption *model.UserRedemption
	collectErr        error

	expireCalls chan struct{}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	created := *p
	created.ID = 1
	return &created, nil
}

func (s *stubRepo) GetProduct(ctx context.Context, userID, productID int64) (*model.Product, error) {
	return s.product, s.productErr
}

func (s *stubRepo) GetProductsByUser(ctx context.Context, userID int64) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) CreateInteraction(ctx context.Context, in *model.ProductInteraction, pointsDelta int64, co2Delta decimal.Decimal) (*model.ProductInteraction, error) {
	if s.interactionErr != nil {
		return nil, s.interactionErr
	}
	created := *in
	created.ID = 7
	created.RecordedAt = time.Now()
	s.createdInteraction = &created
	s.capturedPoints = pointsDelta
	s.capturedCO2 = co2Delta
	return &created, nil
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, decimal.Decimal, error) {
	return s.balancePoints, s.balanceCO2, s.balanceErr
}

func (s *stubRepo) GetActivityDays(ctx context.Context, userID int64, limit int) ([]time.Time, error) {
	return s.activityDays, nil
}

func (s *stubRepo) GetInteractionStats(ctx context.Context, userID int64) (repository.InteractionStats, error) {
	return s.stats, nil
}

func (s *stubRepo) GetBadges(ctx context.Context) ([]model.Badge, error) {
	return s.badges, nil
}

func (s *stubRepo) GetUserBadges(ctx context.Context, userID int64) ([]model.UserBadge, error) {
	return s.userBadges, nil
}

func (s *stubRepo) UnlockBadge(ctx context.Context, userID int64, badge model.Badge) (bool, error) {
	s.unlockCalls = append(s.unlockCalls, badge.ID)
	return s.unlockInserted, nil
}

func (s *stubRepo) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	return s.rewards, nil
}

func (s *stubRepo) CreateRedemption(ctx context.Context, userID, rewardID int64, quantity int, codes []string, expiresAt time.Time) (*model.Reward, []model.UserRedemption, error) {
	if s.redemptionErr != nil {
		return nil, nil, s.redemptionErr
	}
	s.capturedCodes = codes
	s.capturedExpiresAt = expiresAt
	s.capturedQuantity = quantity
	return s.redemptionReward, s.redemptions, nil
}

func (s *stubRepo) GetRedemptionsByUser(ctx context.Context, userID int64) ([]repository.RedemptionWithReward, error) {
	return nil, nil
}

func (s *stubRepo) CollectRedemption(ctx context.Context, userID int64, code string) (*model.UserRedemption, error) {
	return s.collectRedemption, s.collectErr
}

func (s *stubRepo) ExpireRedemptions(ctx context.Context, now time.Time) (int64, error) {
	if s.expireCalls != nil {
		select {
		case s.expireCalls <- struct{}{}:
		default:
		}
	}
	return 0, nil
}

func utcDay(offset int) time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, offset)
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil)

	_, err := svc.RegisterUser(context.Background(), "login", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
		},
	}

	svc := NewService(repo, nil)

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRecordInteraction_Validation(t *testing.T) {
	repo := &stubRepo{
		product: &model.Product{ID: 5, UserID: 1, Category: "other"},
	}
	svc := NewService(repo, nil)

	_, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 0)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}

	_, err = svc.RecordInteraction(context.Background(), 1, 5, "devoured", 1)
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}

	if repo.createdInteraction != nil {
		t.Fatalf("no interaction must be recorded on validation failure")
	}
}

func TestRecordInteraction_UnknownProduct(t *testing.T) {
	repo := &stubRepo{
		productErr: repository.ErrProductNotFound,
	}
	svc := NewService(repo, nil)

	_, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 1)
	if !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestRecordInteraction_SoldEarnsFlooredPoints(t *testing.T) {
	repo := &stubRepo{
		// Категория "other" имеет встроенный коэффициент 1.0.
		product: &model.Product{ID: 5, UserID: 1, Category: "other"},
		stats:   repository.InteractionStats{Total: 1, NonWasted: 1},
	}
	svc := NewService(repo, nil)

	res, err := svc.RecordInteraction(context.Background(), 1, 5, "sold", 1)
	if err != nil {
		t.Fatalf("RecordInteraction error: %v", err)
	}

	// round(1.0 * 1.5) = 2, но минимум за sold — 3 балла за единицу.
	if res.PointsEarned != 3 {
		t.Fatalf("PointsEarned = %d, want 3", res.PointsEarned)
	}
	if repo.capturedPoints != 3 {
		t.Fatalf("ledger delta = %d, want 3", repo.capturedPoints)
	}
	if !repo.capturedCO2.Equal(decimal.NewFromFloat(1.0)) {
		t.Fatalf("co2 delta = %s, want 1", repo.capturedCO2)
	}
	if repo.createdInteraction.Action != model.ActionSold {
		t.Fatalf("action = %s, want sold", repo.createdInteraction.Action)
	}
}

func TestRecordInteraction_WastedSkipsCO2(t *testing.T) {
	repo := &stubRepo{
		product: &model.Product{ID: 5, UserID: 1, Category: "meat"},
		stats:   repository.InteractionStats{Total: 1},
	}
	svc := NewService(repo, nil)

	res, err := svc.RecordInteraction(context.Background(), 1, 5, "wasted", 1)
	if err != nil {
		t.Fatalf("RecordInteraction error: %v", err)
	}

	if res.PointsEarned >= 0 {
		t.Fatalf("wasted must be penalized, got %d points", res.PointsEarned)
	}
	if !repo.capturedCO2.IsZero() {
		t.Fatalf("wasted must not accumulate saved CO2, got %s", repo.capturedCO2)
	}
}

func TestBadgeEvaluation_FirstInteraction(t *testing.T) {
	first := model.Badge{ID: 1, Code: "FIRST_SAVE", Criteria: model.CriteriaFirstInteraction, PointsAwarded: 10}
	repo := &stubRepo{
		product:        &model.Product{ID: 5, UserID: 1, Category: "other"},
		stats:          repository.InteractionStats{Total: 1, NonWasted: 1},
		badges:         []model.Badge{first},
		unlockInserted: true,
	}
	svc := NewService(repo, nil)

	res, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 1)
	if err != nil {
		t.Fatalf("RecordInteraction error: %v", err)
	}

	if len(res.UnlockedBadges) != 1 || res.UnlockedBadges[0].Code != "FIRST_SAVE" {
		t.Fatalf("unexpected unlocked badges: %+v", res.UnlockedBadges)
	}
}

func TestBadgeEvaluation_AlreadyOwnedNotRetried(t *testing.T) {
	first := model.Badge{ID: 1, Code: "FIRST_SAVE", Criteria: model.CriteriaFirstInteraction}
	repo := &stubRepo{
		product:    &model.Product{ID: 5, UserID: 1, Category: "other"},
		stats:      repository.InteractionStats{Total: 2, NonWasted: 2},
		badges:     []model.Badge{first},
		userBadges: []model.UserBadge{{UserID: 1, BadgeID: 1}},
	}
	svc := NewService(repo, nil)

	res, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 1)
	if err != nil {
		t.Fatalf("RecordInteraction error: %v", err)
	}

	if len(repo.unlockCalls) != 0 {
		t.Fatalf("owned badge must not be unlocked again, calls: %v", repo.unlockCalls)
	}
	if len(res.UnlockedBadges) != 0 {
		t.Fatalf("unexpected unlocked badges: %+v", res.UnlockedBadges)
	}
}

func TestBadgeEvaluation_ConcurrentUnlockNotReported(t *testing.T) {
	// Хранилище сообщило, что вставки не было: бейдж разблокирован параллельным запросом.
	first := model.Badge{ID: 1, Code: "FIRST_SAVE", Criteria: model.CriteriaFirstInteraction}
	repo := &stubRepo{
		product:        &model.Product{ID: 5, UserID: 1, Category: "other"},
		stats:          repository.InteractionStats{Total: 1, NonWasted: 1},
		badges:         []model.Badge{first},
		unlockInserted: false,
	}
	svc := NewService(repo, nil)

	res, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 1)
	if err != nil {
		t.Fatalf("RecordInteraction error: %v", err)
	}

	if len(res.UnlockedBadges) != 0 {
		t.Fatalf("duplicate unlock must not be reported: %+v", res.UnlockedBadges)
	}
}

func TestBadgeEvaluation_StreakMilestonesOnly(t *testing.T) {
	week := model.Badge{ID: 2, Code: "STREAK_7", Criteria: model.CriteriaStreak, Threshold: 7}

	days := func(n int) []time.Time {
		res := make([]time.Time, 0, n)
		for i := 0; i < n; i++ {
			res = append(res, utcDay(-i))
		}
		return res
	}

	tests := []struct {
		name       string
		streakDays int
		wantUnlock bool
	}{
		{"below milestone", 5, false},
		{"exact milestone", 7, true},
		{"past milestone", 8, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				product:        &model.Product{ID: 5, UserID: 1, Category: "other"},
				stats:          repository.InteractionStats{Total: tt.streakDays, NonWasted: tt.streakDays},
				badges:         []model.Badge{week},
				activityDays:   days(tt.streakDays),
				unlockInserted: true,
			}
			svc := NewService(repo, nil)

			res, err := svc.RecordInteraction(context.Background(), 1, 5, "consumed", 1)
			if err != nil {
				t.Fatalf("RecordInteraction error: %v", err)
			}

			unlocked := len(res.UnlockedBadges) == 1
			if unlocked != tt.wantUnlock {
				t.Fatalf("streak %d: unlocked = %v, want %v", tt.streakDays, unlocked, tt.wantUnlock)
			}
		})
	}
}

func TestGetBalance_DerivedFromLedger(t *testing.T) {
	repo := &stubRepo{
		balancePoints: 120,
		balanceCO2:    decimal.NewFromFloat(14.5),
		activityDays:  []time.Time{utcDay(0), utcDay(-1), utcDay(-2)},
	}
	svc := NewService(repo, nil)

	balance, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}

	if balance.TotalPoints != 120 {
		t.Fatalf("TotalPoints = %d, want 120", balance.TotalPoints)
	}
	if balance.CurrentStreak != 3 {
		t.Fatalf("CurrentStreak = %d, want 3", balance.CurrentStreak)
	}
	if !balance.TotalCO2Saved.Equal(decimal.NewFromFloat(14.5)) {
		t.Fatalf("TotalCO2Saved = %s, want 14.5", balance.TotalCO2Saved)
	}

	again, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if again.TotalPoints != balance.TotalPoints ||
		again.CurrentStreak != balance.CurrentStreak ||
		!again.TotalCO2Saved.Equal(balance.TotalCO2Saved) {
		t.Fatalf("balance must be repeatable without new interactions")
	}
}

func TestRedeem_QuantityValidation(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	for _, q := range []int{0, -1, maxRedemptionQuantity + 1} {
		_, err := svc.Redeem(context.Background(), 1, 1, q)
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", q, err)
		}
	}
}

func TestRedeem_Success(t *testing.T) {
	reward := &model.Reward{ID: 3, Name: "Bamboo Cutlery Set", PointsCost: 50, Stock: 10, Active: true}
	repo := &stubRepo{
		redemptionReward: reward,
		redemptions: []model.UserRedemption{
			{ID: 1, RewardID: 3, PointsSpent: 50, Code: "EP-AAAA1111", Status: model.RedemptionPending},
			{ID: 2, RewardID: 3, PointsSpent: 50, Code: "EP-BBBB2222", Status: model.RedemptionPending},
		},
	}
	svc := NewService(repo, nil)

	before := time.Now()
	res, err := svc.Redeem(context.Background(), 1, 3, 2)
	if err != nil {
		t.Fatalf("Redeem error: %v", err)
	}

	if res.TotalPointsSpent != 100 {
		t.Fatalf("TotalPointsSpent = %d, want 100", res.TotalPointsSpent)
	}
	if len(res.Redemptions) != 2 {
		t.Fatalf("expected 2 redemptions, got %d", len(res.Redemptions))
	}
	if repo.capturedQuantity != 2 {
		t.Fatalf("quantity passed to storage = %d, want 2", repo.capturedQuantity)
	}

	codeRe := regexp.MustCompile(`^EP-[A-Z0-9]{8}$`)
	seen := map[string]struct{}{}
	for _, code := range repo.capturedCodes {
		if !codeRe.MatchString(code) {
			t.Fatalf("generated code %q does not match format", code)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate generated code %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct codes, got %d", len(seen))
	}

	wantExpiry := before.Add(redemptionWindow)
	if repo.capturedExpiresAt.Before(wantExpiry.Add(-time.Minute)) ||
		repo.capturedExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expiresAt = %v, want about %v", repo.capturedExpiresAt, wantExpiry)
	}
}

func TestRedeem_PropagatesStorageDecisions(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", repository.ErrRewardNotFound},
		{"unavailable", repository.ErrRewardUnavailable},
		{"out of stock", repository.ErrRewardOutOfStock},
		{"insufficient points", repository.ErrInsufficientPoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{redemptionErr: tt.err}
			svc := NewService(repo, nil)

			_, err := svc.Redeem(context.Background(), 1, 1, 1)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestCollectRedemption_RejectsMalformedCode(t *testing.T) {
	svc := NewService(&stubRepo{}, nil)

	_, err := svc.CollectRedemption(context.Background(), 1, "not-a-code")
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestGetBadgesForUser_MarksUnlocked(t *testing.T) {
	unlockedAt := time.Now()
	repo := &stubRepo{
		badges: []model.Badge{
			{ID: 1, Code: "FIRST_SAVE"},
			{ID: 2, Code: "STREAK_7"},
		},
		userBadges: []model.UserBadge{{UserID: 1, BadgeID: 1, UnlockedAt: unlockedAt}},
	}
	svc := NewService(repo, nil)

	res, err := svc.GetBadgesForUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBadgesForUser error: %v", err)
	}

	if len(res) != 2 {
		t.Fatalf("expected 2 badges, got %d", len(res))
	}
	if !res[0].Unlocked || res[0].UnlockedAt == nil {
		t.Fatalf("first badge must be unlocked: %+v", res[0])
	}
	if res[1].Unlocked {
		t.Fatalf("second badge must be locked: %+v", res[1])
	}
}

func TestStartExpirySweeper_Ticks(t *testing.T) {
	repo := &stubRepo{expireCalls: make(chan struct{}, 1)}
	svc := NewService(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartExpirySweeper(ctx, 10*time.Millisecond)

	select {
	case <-repo.expireCalls:
	case <-time.After(time.Second):
		t.Fatalf("expiry sweeper did not run")
	}
}
