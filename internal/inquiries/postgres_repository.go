package inquiries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists contact requests to Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `id, property_id, sender_id, owner_id, name, email, phone, message, status, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, request ContactRequest) (ContactRequest, error) {
	const insert = `INSERT INTO contact_requests (` + requestColumns + `)
VALUES (:id, :property_id, :sender_id, :owner_id, :name, :email, :phone, :message, :status, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, insert, request); err != nil {
		return ContactRequest{}, fmt.Errorf("insert contact request: %w", err)
	}
	return r.Get(ctx, request.ID)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (ContactRequest, error) {
	var request ContactRequest
	if err := r.db.GetContext(ctx, &request, `SELECT `+requestColumns+` FROM contact_requests WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ContactRequest{}, ErrNotFound
		}
		return ContactRequest{}, fmt.Errorf("get contact request: %w", err)
	}
	return request, nil
}

func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]ContactRequest, int, error) {
	clauses := []string{}
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if opts.OwnerID != nil {
		add("owner_id = $%d", *opts.OwnerID)
	}
	if opts.SenderID != nil {
		add("sender_id = $%d", *opts.SenderID)
	}
	if opts.PropertyID != nil {
		add("property_id = $%d", *opts.PropertyID)
	}
	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM contact_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count contact requests: %w", err)
	}

	query := "SELECT " + requestColumns + " FROM contact_requests" + where + " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, opts.Limit)
	}
	if opts.Offset > 0 {
		query = fmt.Sprintf("%s OFFSET %d", query, opts.Offset)
	}

	rows := []ContactRequest{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list contact requests: %w", err)
	}
	return rows, total, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) (ContactRequest, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contact_requests SET status = $1, updated_at = $2 WHERE id = $3`, status, updatedAt, id)
	if err != nil {
		return ContactRequest{}, fmt.Errorf("update contact request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ContactRequest{}, ErrNotFound
	}
	return r.Get(ctx, id)
}
