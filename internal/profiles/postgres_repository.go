package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRepository persists profiles to a Postgres database.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const profileColumns = `id, name, role, is_premium, premium_expires_at, is_admin, personal_id, created_at, updated_at`

// Create inserts a new row and returns the stored representation.
func (r *PostgresRepository) Create(ctx context.Context, profile Profile) (Profile, error) {
	insert := `INSERT INTO profiles (` + profileColumns + `)
VALUES (:id, :name, :role, :is_premium, :premium_expires_at, :is_admin, :personal_id, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, insert, profile); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Profile{}, ErrConflict
		}
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return r.Get(ctx, profile.ID)
}

// Get retrieves a row by primary key.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Profile, error) {
	var profile Profile
	if err := r.db.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// List returns profiles newest first together with the unpaginated total.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]Profile, int, error) {
	clauses := []string{}
	args := []any{}

	if opts.ID != nil {
		clauses = append(clauses, fmt.Sprintf("id = $%d", len(args)+1))
		args = append(args, *opts.ID)
	}
	if opts.Role != nil {
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *opts.Role)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM profiles"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count profiles: %w", err)
	}

	query := "SELECT " + profileColumns + " FROM profiles" + where + " ORDER BY created_at DESC, name ASC"
	if opts.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, opts.Limit)
	}
	if opts.Offset > 0 {
		query = fmt.Sprintf("%s OFFSET %d", query, opts.Offset)
	}

	rows := []Profile{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}
	return rows, total, nil
}

// Update modifies an existing row.
func (r *PostgresRepository) Update(ctx context.Context, profile Profile) (Profile, error) {
	update := `UPDATE profiles SET name = :name, role = :role, is_premium = :is_premium,
premium_expires_at = :premium_expires_at, is_admin = :is_admin, updated_at = :updated_at
WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, update, profile)
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return Profile{}, ErrNotFound
	}
	return r.Get(ctx, profile.ID)
}
