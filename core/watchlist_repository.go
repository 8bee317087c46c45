package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

// WatchlistRepository stores the comma separated stock code list per user.
type WatchlistRepository interface {
	Get(ctx context.Context, userID int64) (string, error)
	Set(ctx context.Context, userID int64, stockList string) error
}

// PgWatchlistRepository is a pgx implementation over `user_stock_lists`.
type PgWatchlistRepository struct {
	db *pgxpool.Pool
}

func NewPgWatchlistRepository(db *pgxpool.Pool) *PgWatchlistRepository {
	return &PgWatchlistRepository{db: db}
}

func (r *PgWatchlistRepository) Get(ctx context.Context, userID int64) (string, error) {
	const q = `SELECT stock_list FROM user_stock_lists WHERE user_id=$1`
	var list string
	if err := r.db.QueryRow(ctx, q, userID).Scan(&list); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return list, nil
}

func (r *PgWatchlistRepository) Set(ctx context.Context, userID int64, stockList string) error {
	const q = `INSERT INTO user_stock_lists (user_id, stock_list, updated_at)
			VALUES ($1,$2,NOW())
			ON CONFLICT (user_id) DO UPDATE SET stock_list=EXCLUDED.stock_list, updated_at=NOW()`
	_, err := r.db.Exec(ctx, q, userID, stockList)
	return err
}

// EnvWatchlistRepository persists the single shared watchlist in the env
// file, which is what the pre-account deployments used. UserID is ignored;
// every caller shares one list.
type EnvWatchlistRepository struct {
	path string
}

func NewEnvWatchlistRepository(path string) *EnvWatchlistRepository {
	return &EnvWatchlistRepository{path: path}
}

const envStockListKey = "STOCK_LIST"

func (r *EnvWatchlistRepository) Get(ctx context.Context, userID int64) (string, error) {
	vars, err := godotenv.Read(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read env file %s: %w", r.path, err)
	}
	return vars[envStockListKey], nil
}

func (r *EnvWatchlistRepository) Set(ctx context.Context, userID int64, stockList string) error {
	vars, err := godotenv.Read(r.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read env file %s: %w", r.path, err)
	}
	if vars == nil {
		vars = map[string]string{}
	}
	vars[envStockListKey] = stockList
	if err := godotenv.Write(vars, r.path); err != nil {
		return fmt.Errorf("write env file %s: %w", r.path, err)
	}
	return nil
}

// NormalizeStockList canonicalizes user input: codes split on commas or
// whitespace, uppercased, deduplicated keeping first occurrence.
func NormalizeStockList(raw string) string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '，' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		code := strings.ToUpper(strings.TrimSpace(f))
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return strings.Join(out, ",")
}
