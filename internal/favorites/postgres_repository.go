package favorites

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists favourites to Postgres.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Add(ctx context.Context, favorite Favorite) (Favorite, error) {
	const insert = `INSERT INTO favorites (id, user_id, property_id, created_at)
VALUES (:id, :user_id, :property_id, :created_at)
ON CONFLICT (user_id, property_id) DO NOTHING`

	if _, err := r.db.NamedExecContext(ctx, insert, favorite); err != nil {
		return Favorite{}, fmt.Errorf("insert favorite: %w", err)
	}

	var stored Favorite
	if err := r.db.GetContext(ctx, &stored,
		`SELECT id, user_id, property_id, created_at FROM favorites WHERE user_id = $1 AND property_id = $2`,
		favorite.UserID, favorite.PropertyID); err != nil {
		return Favorite{}, fmt.Errorf("get favorite: %w", err)
	}
	return stored, nil
}

func (r *PostgresRepository) Remove(ctx context.Context, userID, propertyID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = $1 AND property_id = $2`, userID, propertyID)
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, userID, propertyID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND property_id = $2)`, userID, propertyID); err != nil {
		return false, fmt.Errorf("check favorite: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID uuid.UUID, offset, limit int) ([]Favorite, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM favorites WHERE user_id = $1`, userID); err != nil {
		return nil, 0, fmt.Errorf("count favorites: %w", err)
	}

	query := `SELECT id, user_id, property_id, created_at FROM favorites WHERE user_id = $1 ORDER BY created_at DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	if offset > 0 {
		query = fmt.Sprintf("%s OFFSET %d", query, offset)
	}

	rows := []Favorite{}
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, 0, fmt.Errorf("list favorites: %w", err)
	}
	return rows, total, nil
}
