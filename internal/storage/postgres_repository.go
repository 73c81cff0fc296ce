package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"livego/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	uniqueViolation        = "23505"
	numericValueOutOfRange = "22003"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// pgQuerier is satisfied by both the pool and an open transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRepository opens a Postgres-backed repository. The schema is
// applied when WithPostgresMigrations(true) is supplied; otherwise the caller
// must have migrated the database already.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool, cfg: cfg}
	if cfg.ApplySchema {
		if err := repo.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return repo, nil
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := r.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	// Rollback after Commit is a no-op; use a fresh context so an expired
	// request deadline still releases the connection.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = tx.Rollback(rbCtx)
}

func (r *postgresRepository) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// creditError wraps a failed balance update, reporting BIGINT overflow as
// ErrBalanceOverflow.
func creditError(what string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericValueOutOfRange {
		return fmt.Errorf("%s: %w", what, ErrBalanceOverflow)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const accountColumns = `id, display_name, avatar_url, diamonds, earnings, xp, level, created_at, updated_at`

func loadAccount(ctx context.Context, q pgQuerier, id string) (models.Account, error) {
	var account models.Account
	err := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id).Scan(
		&account.ID, &account.DisplayName, &account.AvatarURL, &account.Diamonds, &account.Earnings,
		&account.XP, &account.Level, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrAccountNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("load account %s: %w", id, err)
	}
	rows, err := q.Query(ctx, `SELECT gift_id, quantity FROM account_inventory WHERE account_id = $1 AND quantity > 0 ORDER BY gift_id`, id)
	if err != nil {
		return models.Account{}, fmt.Errorf("load inventory %s: %w", id, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.InventoryItem, error) {
		var item models.InventoryItem
		err := row.Scan(&item.GiftID, &item.Quantity)
		return item, err
	})
	if err != nil {
		return models.Account{}, fmt.Errorf("scan inventory %s: %w", id, err)
	}
	if len(items) > 0 {
		account.Inventory = items
	}
	return account, nil
}

func accountExists(ctx context.Context, q pgQuerier, id string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account %s: %w", id, err)
	}
	return exists, nil
}

func (r *postgresRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (models.Account, error) {
	if params.Diamonds < 0 || params.Earnings < 0 {
		return models.Account{}, fmt.Errorf("opening balances cannot be negative")
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Account{}, err
		}
		id = generated
	}
	now := r.cfg.Clock()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, display_name, avatar_url, diamonds, earnings, xp, level, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 1, $6, $6)`,
		id, strings.TrimSpace(params.DisplayName), strings.TrimSpace(params.AvatarURL), params.Diamonds, params.Earnings, now,
	)
	if isUniqueViolation(err) {
		return models.Account{}, fmt.Errorf("account %s: %w", id, ErrAlreadyExists)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return loadAccount(ctx, r.pool, id)
}

func (r *postgresRepository) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return loadAccount(ctx, r.pool, id)
}

func (r *postgresRepository) GrantInventory(ctx context.Context, accountID, giftID string, quantity int64) (models.Account, error) {
	if quantity <= 0 {
		return models.Account{}, fmt.Errorf("quantity must be positive")
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return models.Account{}, err
	}
	defer rollbackTx(ctx, tx)

	if exists, err := accountExists(ctx, tx, accountID); err != nil {
		return models.Account{}, err
	} else if !exists {
		return models.Account{}, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	if _, err := loadGift(ctx, tx, `id`, giftID); err != nil {
		return models.Account{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO account_inventory (account_id, gift_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, gift_id) DO UPDATE SET quantity = account_inventory.quantity + EXCLUDED.quantity`,
		accountID, giftID, quantity,
	); err != nil {
		return models.Account{}, creditError("grant inventory", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET updated_at = $2 WHERE id = $1`, accountID, r.cfg.Clock()); err != nil {
		return models.Account{}, fmt.Errorf("touch account: %w", err)
	}
	account, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, fmt.Errorf("commit inventory grant: %w", err)
	}
	return account, nil
}

func loadGift(ctx context.Context, q pgQuerier, column, value string) (models.Gift, error) {
	var gift models.Gift
	err := q.QueryRow(ctx, `SELECT id, name, price, category, icon_url FROM gifts WHERE `+column+` = $1`, value).Scan(
		&gift.ID, &gift.Name, &gift.Price, &gift.Category, &gift.IconURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Gift{}, fmt.Errorf("gift %q: %w", value, ErrGiftNotFound)
	}
	if err != nil {
		return models.Gift{}, fmt.Errorf("load gift: %w", err)
	}
	return gift, nil
}

func (r *postgresRepository) UpsertGift(ctx context.Context, gift models.Gift) (models.Gift, error) {
	gift.ID = strings.TrimSpace(gift.ID)
	gift.Name = strings.TrimSpace(gift.Name)
	if gift.ID == "" || gift.Name == "" {
		return models.Gift{}, fmt.Errorf("gift id and name are required")
	}
	if gift.Price <= 0 {
		return models.Gift{}, fmt.Errorf("gift price must be positive")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO gifts (id, name, price, category, icon_url) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
		   category = EXCLUDED.category, icon_url = EXCLUDED.icon_url`,
		gift.ID, gift.Name, gift.Price, gift.Category, gift.IconURL,
	)
	if isUniqueViolation(err) {
		return models.Gift{}, fmt.Errorf("gift name %q: %w", gift.Name, ErrAlreadyExists)
	}
	if err != nil {
		return models.Gift{}, fmt.Errorf("upsert gift: %w", err)
	}
	return gift, nil
}

func (r *postgresRepository) GetGift(ctx context.Context, id string) (models.Gift, error) {
	return loadGift(ctx, r.pool, "id", id)
}

func (r *postgresRepository) FindGiftByName(ctx context.Context, name string) (models.Gift, error) {
	return loadGift(ctx, r.pool, "name", name)
}

func (r *postgresRepository) ListGifts(ctx context.Context, category string) ([]models.Gift, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price, category, icon_url FROM gifts
		 WHERE $1 = '' OR lower(category) = lower($1)
		 ORDER BY price, id`, category)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Gift, error) {
		var gift models.Gift
		err := row.Scan(&gift.ID, &gift.Name, &gift.Price, &gift.Category, &gift.IconURL)
		return gift, err
	})
}

const streamColumns = `id, host_id, title, is_live, started_at, created_at, updated_at`

func scanStream(row pgx.Row) (models.Stream, error) {
	var stream models.Stream
	err := row.Scan(&stream.ID, &stream.HostID, &stream.Title, &stream.IsLive, &stream.StartedAt, &stream.CreatedAt, &stream.UpdatedAt)
	return stream, err
}

func (r *postgresRepository) CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Stream{}, err
		}
		id = generated
	}
	if exists, err := accountExists(ctx, r.pool, params.HostID); err != nil {
		return models.Stream{}, err
	} else if !exists {
		return models.Stream{}, fmt.Errorf("host %s: %w", params.HostID, ErrAccountNotFound)
	}
	now := r.cfg.Clock()
	stream, err := scanStream(r.pool.QueryRow(ctx,
		`INSERT INTO streams (id, host_id, title, is_live, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, $4, $4) RETURNING `+streamColumns,
		id, params.HostID, strings.TrimSpace(params.Title), now,
	))
	if isUniqueViolation(err) {
		return models.Stream{}, fmt.Errorf("stream %s: %w", id, ErrAlreadyExists)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("insert stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) GetStream(ctx context.Context, id string) (models.Stream, error) {
	stream, err := scanStream(r.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("load stream: %w", err)
	}
	return stream, nil
}

func (r *postgresRepository) ListLiveStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams WHERE is_live ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list live streams: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Stream, error) {
		return scanStream(row)
	})
}

// SetStreamLive only writes when the state actually flips, so repeated
// callbacks leave StartedAt untouched.
func (r *postgresRepository) SetStreamLive(ctx context.Context, id string, live bool, at time.Time) (models.Stream, bool, error) {
	stream, err := scanStream(r.pool.QueryRow(ctx,
		`UPDATE streams
		 SET is_live = $2,
		     started_at = CASE WHEN $2 THEN $3::timestamptz ELSE started_at END,
		     updated_at = $4
		 WHERE id = $1 AND is_live <> $2
		 RETURNING `+streamColumns,
		id, live, at.UTC(), r.cfg.Clock(),
	))
	if err == nil {
		return stream, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, false, fmt.Errorf("update stream: %w", err)
	}
	stream, err = r.GetStream(ctx, id)
	if err != nil {
		return models.Stream{}, false, err
	}
	return stream, false, nil
}
