package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord is the account row as stored in the credential store.
type UserRecord struct {
	ID            int64
	Username      string
	PasswordHash  string
	Enabled       bool
	IsAdmin       bool
	CanCustomTask bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UserView is the projection returned to API clients (no password hash).
type UserView struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Enabled       bool      `json:"enabled"`
	IsAdmin       bool      `json:"is_admin"`
	CanCustomTask bool      `json:"can_custom_task"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// View strips the password hash from a record.
func (u UserRecord) View() UserView {
	return UserView{
		ID:            u.ID,
		Username:      u.Username,
		Enabled:       u.Enabled,
		IsAdmin:       u.IsAdmin,
		CanCustomTask: u.CanCustomTask,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

// UserUpdateInput carries a partial update; nil fields keep current values.
type UserUpdateInput struct {
	Password      *string
	Enabled       *bool
	IsAdmin       *bool
	CanCustomTask *bool
}

// UserRepository defines persistence operations for accounts. The auth core
// only consumes it; account mutation lives behind the admin API.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	Create(ctx context.Context, username, passwordHash string, isAdmin bool) (*UserRecord, error)
	Update(ctx context.Context, id int64, in UserUpdateInput, hash func(string) (string, error)) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, includeDisabled bool) ([]UserView, error)
	Count(ctx context.Context) (int, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `id, username, password_hash, enabled, is_admin, can_custom_task, created_at, updated_at`

func scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Enabled, &u.IsAdmin, &u.CanCustomTask, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *PgUserRepository) Create(ctx context.Context, username, passwordHash string, isAdmin bool) (*UserRecord, error) {
	const q = `INSERT INTO users (username, password_hash, enabled, is_admin)
VALUES ($1,$2,TRUE,$3)
RETURNING ` + userColumns
	u, err := scanUser(r.db.QueryRow(ctx, q, username, passwordHash, isAdmin))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

func (r *PgUserRepository) Update(ctx context.Context, id int64, in UserUpdateInput, hash func(string) (string, error)) error {
	cur, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}

	passwordHash := cur.PasswordHash
	if in.Password != nil {
		if hash == nil {
			return errors.New("password update requires a hash function")
		}
		passwordHash, err = hash(*in.Password)
		if err != nil {
			return err
		}
	}
	enabled := cur.Enabled
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	isAdmin := cur.IsAdmin
	if in.IsAdmin != nil {
		isAdmin = *in.IsAdmin
	}
	canCustomTask := cur.CanCustomTask
	if in.CanCustomTask != nil {
		canCustomTask = *in.CanCustomTask
	}

	const q = `UPDATE users SET password_hash=$1, enabled=$2, is_admin=$3, can_custom_task=$4, updated_at=NOW() WHERE id=$5`
	ct, err := r.db.Exec(ctx, q, passwordHash, enabled, isAdmin, canCustomTask, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) List(ctx context.Context, includeDisabled bool) ([]UserView, error) {
	q := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`
	if !includeDisabled {
		q = `SELECT ` + userColumns + ` FROM users WHERE enabled ORDER BY created_at DESC`
	}
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UserView
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, u.View())
	}
	return items, rows.Err()
}

func (r *PgUserRepository) Count(ctx context.Context) (int, error) {
	var c int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}
