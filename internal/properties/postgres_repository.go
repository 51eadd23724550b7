package properties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists properties to a Postgres database.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const propertyColumns = `id, owner_id, title, description, listing_type, property_type, status, price,
bedrooms, bathrooms, area_sqm, address, city, state, postal_code, country, latitude, longitude,
featured, images, views, created_at, updated_at`

// Create inserts a new row and returns the stored representation.
func (r *PostgresRepository) Create(ctx context.Context, property Property) (Property, error) {
	insert := `INSERT INTO properties (` + propertyColumns + `)
VALUES (:id, :owner_id, :title, :description, :listing_type, :property_type, :status, :price,
:bedrooms, :bathrooms, :area_sqm, :address, :city, :state, :postal_code, :country, :latitude, :longitude,
:featured, :images, :views, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, insert, property); err != nil {
		return Property{}, fmt.Errorf("insert property: %w", err)
	}
	return r.Get(ctx, property.ID)
}

// Get retrieves a row by primary key.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Property, error) {
	var property Property
	if err := r.db.GetContext(ctx, &property, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Property{}, ErrNotFound
		}
		return Property{}, fmt.Errorf("get property: %w", err)
	}
	return property, nil
}

// List returns the filtered, ordered page and the unpaginated total.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]Property, int, error) {
	clauses := []string{}
	args := []any{}

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if opts.OwnerID != nil {
		add("owner_id = $%d", *opts.OwnerID)
	}
	if opts.ListingType != nil {
		add("listing_type = $%d", *opts.ListingType)
	}
	if opts.PropertyType != nil {
		add("property_type = $%d", *opts.PropertyType)
	}
	if opts.Status != nil {
		add("status = $%d", *opts.Status)
	}
	if opts.City != nil {
		add("LOWER(city) = LOWER($%d)", strings.TrimSpace(*opts.City))
	}
	if opts.Featured != nil {
		add("featured = $%d", *opts.Featured)
	}
	if opts.MinPrice != nil {
		add("price >= $%d", *opts.MinPrice)
	}
	if opts.MaxPrice != nil {
		add("price <= $%d", *opts.MaxPrice)
	}
	if opts.MinBedrooms != nil {
		add("bedrooms >= $%d", *opts.MinBedrooms)
	}
	if opts.Query != nil {
		if search := strings.TrimSpace(*opts.Query); search != "" {
			args = append(args, "%"+search+"%")
			n := len(args)
			clauses = append(clauses, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d OR address ILIKE $%d OR city ILIKE $%d)", n, n, n, n))
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM properties"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count properties: %w", err)
	}

	column := opts.OrderBy
	if !column.Valid() {
		column = OrderCreatedAt
	}
	direction := "DESC"
	if opts.Ascending {
		direction = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM properties%s ORDER BY %s %s, title ASC", propertyColumns, where, column, direction)
	if opts.Limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, opts.Limit)
	}
	if opts.Offset > 0 {
		query = fmt.Sprintf("%s OFFSET %d", query, opts.Offset)
	}

	rows := []Property{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list properties: %w", err)
	}
	return rows, total, nil
}

// Update modifies an existing row.
func (r *PostgresRepository) Update(ctx context.Context, property Property) (Property, error) {
	update := `UPDATE properties SET title = :title, description = :description, listing_type = :listing_type,
property_type = :property_type, status = :status, price = :price, bedrooms = :bedrooms, bathrooms = :bathrooms,
area_sqm = :area_sqm, address = :address, city = :city, state = :state, postal_code = :postal_code,
country = :country, latitude = :latitude, longitude = :longitude, featured = :featured, images = :images,
updated_at = :updated_at
WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, update, property)
	if err != nil {
		return Property{}, fmt.Errorf("update property: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return Property{}, ErrNotFound
	}
	return r.Get(ctx, property.ID)
}

// Delete removes a row.
func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpenByOwner counts pending and active listings held by the owner.
func (r *PostgresRepository) CountOpenByOwner(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM properties WHERE owner_id = $1 AND status IN ('pending', 'active')`, ownerID); err != nil {
		return 0, fmt.Errorf("count open properties: %w", err)
	}
	return count, nil
}

// IncrementViews bumps the view counter.
func (r *PostgresRepository) IncrementViews(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE properties SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
