// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/ecoplate/ecoplate-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если продукт не найден или принадлежит другому пользователю.
	ErrProductNotFound = errors.New("product not found")
	// ErrRewardNotFound возвращается, если вознаграждение не найдено.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrRewardUnavailable возвращается, если вознаграждение деактивировано.
	ErrRewardUnavailable = errors.New("reward is not available")
	// ErrRewardOutOfStock возвращается, если остатка вознаграждения не хватает на запрошенное количество.
	ErrRewardOutOfStock = errors.New("reward is out of stock")
	// ErrInsufficientPoints возвращается при попытке списания баллов сверх баланса.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrRedemptionNotFound возвращается, если код получения не найден у пользователя.
	ErrRedemptionNotFound = errors.New("redemption not found")
	// ErrRedemptionNotPending возвращается при попытке получить уже выданное или просроченное вознаграждение.
	ErrRedemptionNotPending = errors.New("redemption is not pending")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateProduct добавляет продукт в инвентарь пользователя.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO products (user_id, name, category, quantity, expiry_date)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		p.UserID, p.Name, p.Category, p.Quantity, p.ExpiryDate,
	)

	created := *p
	if err := row.Scan(&created.ID, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	return &created, nil
}

// GetProduct возвращает продукт пользователя по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, userID, productID int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, category, quantity, expiry_date, created_at
		 FROM products
		 WHERE id = $1 AND user_id = $2`,
		productID, userID,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.Quantity, &p.ExpiryDate, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// GetProductsByUser возвращает инвентарь пользователя, ближайший срок годности первым.
func (r *PostgresRepository) GetProductsByUser(ctx context.Context, userID int64) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, category, quantity, expiry_date, created_at
		 FROM products
		 WHERE user_id = $1
		 ORDER BY expiry_date NULLS LAST, created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Category, &p.Quantity, &p.ExpiryDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateInteraction записывает событие жизненного цикла продукта вместе с зеркальной
// записью журнала баллов и уменьшает остаток продукта в инвентаре. Всё в одной транзакции.
func (r *PostgresRepository) CreateInteraction(ctx context.Context, in *model.ProductInteraction, pointsDelta int64, co2Delta decimal.Decimal) (*model.ProductInteraction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created := *in
	err = tx.QueryRow(ctx,
		`INSERT INTO product_interactions (user_id, product_id, action, quantity, category, co2_emission)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, recorded_at`,
		in.UserID, in.ProductID, string(in.Action), in.Quantity, in.Category, in.CO2Emission,
	).Scan(&created.ID, &created.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("insert interaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO points_ledger (user_id, kind, delta, co2_delta, interaction_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.UserID, string(model.LedgerInteraction), pointsDelta, co2Delta, created.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE products SET quantity = GREATEST(quantity - $3, 0) WHERE id = $1 AND user_id = $2`,
		in.ProductID, in.UserID, in.Quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("update product quantity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &created, nil
}

// GetBalance возвращает сумму журнала баллов и сэкономленный CO2 пользователя.
// Отрицательная сумма баллов не возвращается наружу: баланс ограничен нулём снизу.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, decimal.Decimal, error) {
	var points int64
	var co2 decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0), COALESCE(SUM(co2_delta), 0)
		 FROM points_ledger
		 WHERE user_id = $1`,
		userID,
	).Scan(&points, &co2)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("sum ledger: %w", err)
	}

	if points < 0 {
		points = 0
	}

	return points, co2, nil
}

// GetActivityDays возвращает различные календарные дни (UTC) с засчитываемой
// активностью пользователя, новейший первым.
func (r *PostgresRepository) GetActivityDays(ctx context.Context, userID int64, limit int) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT (recorded_at AT TIME ZONE 'UTC')::date AS day
		 FROM product_interactions
		 WHERE user_id = $1 AND action <> $2
		 ORDER BY day DESC
		 LIMIT $3`,
		userID, string(model.ActionWasted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select activity days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		days = append(days, d.UTC())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return days, nil
}

// InteractionStats содержит агрегаты событий пользователя для проверки бейджей.
type InteractionStats struct {
	Total     int
	NonWasted int
	Shared    int
}

// GetInteractionStats возвращает агрегаты событий пользователя.
func (r *PostgresRepository) GetInteractionStats(ctx context.Context, userID int64) (InteractionStats, error) {
	var st InteractionStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE action <> $2),
		        COUNT(*) FILTER (WHERE action = $3)
		 FROM product_interactions
		 WHERE user_id = $1`,
		userID, string(model.ActionWasted), string(model.ActionShared),
	).Scan(&st.Total, &st.NonWasted, &st.Shared)
	if err != nil {
		return InteractionStats{}, fmt.Errorf("count interactions: %w", err)
	}

	return st, nil
}

// GetBadges возвращает каталог бейджей.
func (r *PostgresRepository) GetBadges(ctx context.Context) ([]model.Badge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, name, description, points_awarded, criteria, threshold
		 FROM badges
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	defer rows.Close()

	var res []model.Badge
	for rows.Next() {
		var b model.Badge
		var criteria string
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Description, &b.PointsAwarded, &criteria, &b.Threshold); err != nil {
			return nil, fmt.Errorf("scan badge: %w", err)
		}
		b.Criteria = model.BadgeCriteria(criteria)
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetUserBadges возвращает разблокированные бейджи пользователя.
func (r *PostgresRepository) GetUserBadges(ctx context.Context, userID int64) ([]model.UserBadge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, badge_id, unlocked_at FROM user_badges WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select user badges: %w", err)
	}
	defer rows.Close()

	var res []model.UserBadge
	for rows.Next() {
		var ub model.UserBadge
		if err := rows.Scan(&ub.UserID, &ub.BadgeID, &ub.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan user badge: %w", err)
		}
		res = append(res, ub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UnlockBadge разблокирует бейдж пользователю и начисляет бонусные баллы.
// Повторная разблокировка той же пары (user, badge) невозможна: вставка идёт
// через ON CONFLICT DO NOTHING, бонус начисляется только при фактической вставке.
func (r *PostgresRepository) UnlockBadge(ctx context.Context, userID int64, badge model.Badge) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO user_badges (user_id, badge_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, badge.ID,
	)
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	if badge.PointsAwarded != 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO points_ledger (user_id, kind, delta, badge_id) VALUES ($1, $2, $3, $4)`,
			userID, string(model.LedgerBadgeBonus), badge.PointsAwarded, badge.ID,
		)
		if err != nil {
			return false, fmt.Errorf("insert bonus entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// GetActiveRewards возвращает активные вознаграждения по возрастанию стоимости.
func (r *PostgresRepository) GetActiveRewards(ctx context.Context) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, category, points_cost, stock, active
		 FROM rewards
		 WHERE active
		 ORDER BY points_cost`,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		var category string
		if err := rows.Scan(&rw.ID, &rw.Name, &category, &rw.PointsCost, &rw.Stock, &rw.Active); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		rw.Category = model.RewardCategory(category)
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateRedemption атомарно проверяет и списывает остаток вознаграждения и баллы
// пользователя, создавая по записи получения на каждую единицу.
// Порядок проверок фиксирован: существование → активность → остаток → баланс.
// Строка вознаграждения и строка пользователя блокируются FOR UPDATE, чтобы два
// одновременных запроса не продали последнюю единицу дважды и не ушли в минус.
func (r *PostgresRepository) CreateRedemption(ctx context.Context, userID, rewardID int64, quantity int, codes []string, expiresAt time.Time) (*model.Reward, []model.UserRedemption, error) {
	var reward *model.Reward
	var redemptions []model.UserRedemption

	err := r.withRetry(ctx, func() error {
		var err error
		reward, redemptions, err = r.createRedemptionTx(ctx, userID, rewardID, quantity, codes, expiresAt)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return reward, redemptions, nil
}

func (r *PostgresRepository) createRedemptionTx(ctx context.Context, userID, rewardID int64, quantity int, codes []string, expiresAt time.Time) (*model.Reward, []model.UserRedemption, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var rw model.Reward
	var category string
	err = tx.QueryRow(ctx,
		`SELECT id, name, category, points_cost, stock, active
		 FROM rewards
		 WHERE id = $1
		 FOR UPDATE`,
		rewardID,
	).Scan(&rw.ID, &rw.Name, &category, &rw.PointsCost, &rw.Stock, &rw.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrRewardNotFound
		}
		return nil, nil, fmt.Errorf("select reward: %w", err)
	}
	rw.Category = model.RewardCategory(category)

	if !rw.Active {
		return nil, nil, ErrRewardUnavailable
	}

	if rw.Stock < quantity {
		return nil, nil, ErrRewardOutOfStock
	}

	// Блокируем строку пользователя для предотвращения параллельных списаний,
	// превышающих баланс. Порядок блокировок всегда: вознаграждение, затем пользователь.
	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("lock user for update: %w", err)
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return nil, nil, fmt.Errorf("sum ledger: %w", err)
	}
	if balance < 0 {
		balance = 0
	}

	totalCost := rw.PointsCost * int64(quantity)
	if balance < totalCost {
		return nil, nil, ErrInsufficientPoints
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE rewards SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		rewardID, quantity,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("decrement stock: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, nil, ErrRewardOutOfStock
	}
	rw.Stock -= quantity

	redemptions := make([]model.UserRedemption, 0, quantity)
	for _, code := range codes {
		red := model.UserRedemption{
			UserID:      userID,
			RewardID:    rewardID,
			PointsSpent: rw.PointsCost,
			Code:        code,
			Status:      model.RedemptionPending,
			ExpiresAt:   expiresAt,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO user_redemptions (user_id, reward_id, points_spent, code, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			userID, rewardID, rw.PointsCost, code, expiresAt,
		).Scan(&red.ID, &red.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert redemption: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO points_ledger (user_id, kind, delta, redemption_id) VALUES ($1, $2, $3, $4)`,
			userID, string(model.LedgerRedemption), -rw.PointsCost, red.ID,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert debit entry: %w", err)
		}

		redemptions = append(redemptions, red)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}

	return &rw, redemptions, nil
}

// RedemptionWithReward объединяет запись получения с краткой информацией о вознаграждении.
type RedemptionWithReward struct {
	Redemption model.UserRedemption
	RewardName string
	Category   model.RewardCategory
}

// GetRedemptionsByUser возвращает историю получений пользователя, новейшие первыми.
func (r *PostgresRepository) GetRedemptionsByUser(ctx context.Context, userID int64) ([]RedemptionWithReward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ur.id, ur.user_id, ur.reward_id, ur.points_spent, ur.code, ur.status,
		        ur.created_at, ur.expires_at, ur.collected_at,
		        rw.name, rw.category
		 FROM user_redemptions ur
		 JOIN rewards rw ON rw.id = ur.reward_id
		 WHERE ur.user_id = $1
		 ORDER BY ur.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []RedemptionWithReward
	for rows.Next() {
		var rr RedemptionWithReward
		var status, category string
		err := rows.Scan(
			&rr.Redemption.ID, &rr.Redemption.UserID, &rr.Redemption.RewardID,
			&rr.Redemption.PointsSpent, &rr.Redemption.Code, &status,
			&rr.Redemption.CreatedAt, &rr.Redemption.ExpiresAt, &rr.Redemption.CollectedAt,
			&rr.RewardName, &category,
		)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		rr.Redemption.Status = model.RedemptionStatus(status)
		rr.Category = model.RewardCategory(category)
		res = append(res, rr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CollectRedemption помечает ожидающее получение как выданное.
// Условия status = 'pending' и expires_at > now() в UPDATE гарантируют
// единственность перехода: просроченная запись не выдаётся, даже если
// фоновая задача ещё не успела перевести её в expired.
func (r *PostgresRepository) CollectRedemption(ctx context.Context, userID int64, code string) (*model.UserRedemption, error) {
	var red model.UserRedemption
	var status string
	err := r.pool.QueryRow(ctx,
		`UPDATE user_redemptions
		 SET status = $3, collected_at = now()
		 WHERE user_id = $1 AND code = $2 AND status = $4 AND expires_at > now()
		 RETURNING id, user_id, reward_id, points_spent, code, status, created_at, expires_at, collected_at`,
		userID, code, string(model.RedemptionCollected), string(model.RedemptionPending),
	).Scan(
		&red.ID, &red.UserID, &red.RewardID, &red.PointsSpent, &red.Code, &status,
		&red.CreatedAt, &red.ExpiresAt, &red.CollectedAt,
	)
	if err == nil {
		red.Status = model.RedemptionStatus(status)
		return &red, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collect redemption: %w", err)
	}

	// Ничего не обновили: различаем отсутствующий код и неподходящий статус.
	var existing string
	var expiresAt time.Time
	err = r.pool.QueryRow(ctx,
		`SELECT status, expires_at FROM user_redemptions WHERE user_id = $1 AND code = $2`,
		userID, code,
	).Scan(&existing, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("check redemption: %w", err)
	}
	return nil, fmt.Errorf("%w: %s", ErrRedemptionNotPending,
		collectFailureStatus(existing, expiresAt, time.Now()))
}

// collectFailureStatus возвращает статус, который сообщается клиенту, когда
// перевод в collected не состоялся. Просроченная запись, которую фоновая
// задача ещё не обновила, считается expired, а не pending.
func collectFailureStatus(existing string, expiresAt, now time.Time) string {
	if existing == string(model.RedemptionPending) && !expiresAt.After(now) {
		return string(model.RedemptionExpired)
	}
	return existing
}

// ExpireRedemptions переводит просроченные ожидающие получения в статус expired.
// Возвращает количество обновлённых записей.
func (r *PostgresRepository) ExpireRedemptions(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE user_redemptions
		 SET status = $2
		 WHERE status = $1 AND expires_at < $3`,
		string(model.RedemptionPending), string(model.RedemptionExpired), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire redemptions: %w", err)
	}

	return cmdTag.RowsAffected(), nil
}
