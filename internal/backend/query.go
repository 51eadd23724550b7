package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Query addresses one API table. Build it with From and the filter methods,
// then finish with Select, Single, MaybeSingle, Insert, Update or Delete.
type Query struct {
	client *Client
	table  string
	key    string
	params url.Values
	token  string
	err    error
}

type listEnvelope struct {
	Rows  json.RawMessage `json:"rows"`
	Total int             `json:"total"`
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Eq filters rows where column equals value.
func (q *Query) Eq(column string, value any) *Query {
	q.params.Set(column, "eq."+fmt.Sprint(value))
	return q
}

// Param sets a plain query parameter such as a search term or range bound.
func (q *Query) Param(name string, value any) *Query {
	q.params.Set(name, fmt.Sprint(value))
	return q
}

// Order sorts by column.
func (q *Query) Order(column string, ascending bool) *Query {
	direction := "desc"
	if ascending {
		direction = "asc"
	}
	q.params.Set("order", column+"."+direction)
	return q
}

// Range limits the result to rows from..to, both inclusive and zero based.
func (q *Query) Range(from, to int) *Query {
	if from < 0 || to < from {
		q.err = fmt.Errorf("invalid range %d-%d", from, to)
		return q
	}
	q.params.Set("offset", strconv.Itoa(from))
	q.params.Set("limit", strconv.Itoa(to-from+1))
	return q
}

// Key addresses a single row by its path identifier.
func (q *Query) Key(id any) *Query {
	q.key = fmt.Sprint(id)
	return q
}

// WithToken authorizes the query with token instead of the session token.
func (q *Query) WithToken(token string) *Query {
	q.token = token
	return q
}

// Select decodes matching rows into dest and returns the total row count.
// With Key set, dest receives the single addressed row.
func (q *Query) Select(ctx context.Context, dest any) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	if q.key != "" {
		if err := q.do(ctx, http.MethodGet, nil, dest); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var envelope listEnvelope
	if err := q.do(ctx, http.MethodGet, nil, &envelope); err != nil {
		return 0, err
	}
	if dest != nil && len(envelope.Rows) > 0 {
		if err := json.Unmarshal(envelope.Rows, dest); err != nil {
			return 0, fmt.Errorf("decode %s rows: %w", q.table, err)
		}
	}
	return envelope.Total, nil
}

// Single decodes exactly one matching row into dest.
func (q *Query) Single(ctx context.Context, dest any) error {
	found, err := q.MaybeSingle(ctx, dest)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("select %s: %w", q.table, ErrNoRows)
	}
	return nil
}

// MaybeSingle decodes at most one matching row into dest and reports whether
// a row was found.
func (q *Query) MaybeSingle(ctx context.Context, dest any) (bool, error) {
	var rows []json.RawMessage
	if _, err := q.Range(0, 1).Select(ctx, &rows); err != nil {
		return false, err
	}
	switch len(rows) {
	case 0:
		return false, nil
	case 1:
		if err := json.Unmarshal(rows[0], dest); err != nil {
			return false, fmt.Errorf("decode %s row: %w", q.table, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("select %s: %w", q.table, ErrMultipleRows)
	}
}

// Insert creates a row and decodes the stored row into out when non-nil.
func (q *Query) Insert(ctx context.Context, values, out any) error {
	if q.err != nil {
		return q.err
	}
	return q.doBody(ctx, http.MethodPost, values, out)
}

// Update patches the row addressed by Key.
func (q *Query) Update(ctx context.Context, values, out any) error {
	if q.key == "" {
		return errors.New("update requires a key")
	}
	return q.doBody(ctx, http.MethodPatch, values, out)
}

// Delete removes the row addressed by Key.
func (q *Query) Delete(ctx context.Context) error {
	if q.key == "" {
		return errors.New("delete requires a key")
	}
	return q.do(ctx, http.MethodDelete, nil, nil)
}

func (q *Query) path() string {
	path := "/api/" + url.PathEscape(q.table)
	if q.key != "" {
		path += "/" + url.PathEscape(q.key)
	}
	return path
}

func (q *Query) do(ctx context.Context, method string, body, out any) error {
	token, err := q.bearer(ctx)
	if err != nil {
		return err
	}
	var query url.Values
	if method == http.MethodGet {
		query = q.params
	}
	if err := q.client.call(ctx, method, q.path(), query, body, token, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, q.table, err)
	}
	return nil
}

func (q *Query) doBody(ctx context.Context, method string, values, out any) error {
	if values == nil {
		return fmt.Errorf("%s %s: missing values", method, q.table)
	}
	return q.do(ctx, method, values, out)
}

func (q *Query) bearer(ctx context.Context) (string, error) {
	if q.token != "" {
		return q.token, nil
	}
	return q.client.accessToken(ctx)
}
