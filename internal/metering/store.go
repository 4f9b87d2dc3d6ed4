package metering

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store provides database operations for usage records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const recordColumns = `id::text, user_id::text, prompt, response, model_used, prompt_tokens,
	completion_tokens, total_tokens, estimated_cost::text, response_time_ms, status,
	error_message, api_endpoint, user_agent, ip_address, created_at`

// insertColumns is the number of columns written per row (id is generated).
const insertColumns = 15

func insertArgs(rec *Record) []any {
	return []any{
		rec.OwnerID,
		rec.Prompt,
		rec.Response,
		rec.Model,
		rec.PromptTokens,
		rec.CompletionTokens,
		rec.TotalTokens,
		rec.EstimatedCost.String(),
		rec.ResponseTime,
		string(rec.Status),
		rec.ErrorMessage,
		rec.APIEndpoint,
		rec.UserAgent,
		rec.IPAddress,
		rec.CreatedAt,
	}
}

func valuesRow(base int) string {
	ph := make([]string, insertColumns)
	for i := range ph {
		ph[i] = "$" + strconv.Itoa(base+i+1)
	}
	// estimated_cost is sent as text to keep decimal precision.
	ph[7] += "::numeric"
	return "(" + strings.Join(ph, ", ") + ")"
}

const insertPrefix = `INSERT INTO token_logs
	(user_id, prompt, response, model_used, prompt_tokens, completion_tokens,
	 total_tokens, estimated_cost, response_time_ms, status, error_message,
	 api_endpoint, user_agent, ip_address, created_at)
	VALUES `

// Insert persists rec and sets its ID. A zero CreatedAt is set to now.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC().Truncate(TimestampPrecision)
	}
	query := insertPrefix + valuesRow(0) + ` RETURNING id`
	if err := s.pool.QueryRow(ctx, query, insertArgs(rec)...).Scan(&rec.ID); err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// BatchInsert writes records in a single multi-row INSERT statement. It is a
// no-op when recs is empty. IDs are not read back.
func (s *Store) BatchInsert(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	args := make([]any, 0, len(recs)*insertColumns)
	rows := make([]string, 0, len(recs))
	for i := range recs {
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = time.Now().UTC().Truncate(TimestampPrecision)
		}
		rows = append(rows, valuesRow(i*insertColumns))
		args = append(args, insertArgs(&recs[i])...)
	}

	if _, err := s.pool.Exec(ctx, insertPrefix+strings.Join(rows, ", "), args...); err != nil {
		return fmt.Errorf("batch inserting usage records: %w", err)
	}
	return nil
}

// GetByID returns one of the owner's records.
func (s *Store) GetByID(ctx context.Context, ownerID, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM token_logs WHERE id = $1 AND user_id = $2`,
		id, ownerID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting usage record: %w", err)
	}
	return rec, nil
}

// List returns a page of records matching the query, ordered by created_at
// DESC, id DESC. It uses cursor-based pagination and returns the next cursor
// (empty string if no more results).
func (s *Store) List(ctx context.Context, q Query) ([]Record, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args, err := pageClause(q)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + recordColumns + ` FROM token_logs` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1) // fetch one extra to determine if there's a next page

	recs, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(recs) > limit {
		last := recs[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		recs = recs[:limit]
	}
	return recs, nextCursor, nil
}

// ListAll returns every record matching the query, newest first. Limit and
// Cursor are ignored.
func (s *Store) ListAll(ctx context.Context, q Query) ([]Record, error) {
	where, args := buildWhereClause(q)
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM token_logs`+where+` ORDER BY created_at DESC, id DESC`,
		args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing usage records: %w", err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning usage record row: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage record rows: %w", err)
	}
	return recs, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec    Record
		cost   string
		status string
	)
	if err := row.Scan(
		&rec.ID, &rec.OwnerID, &rec.Prompt, &rec.Response, &rec.Model,
		&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &cost,
		&rec.ResponseTime, &status, &rec.ErrorMessage, &rec.APIEndpoint,
		&rec.UserAgent, &rec.IPAddress, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("parsing estimated cost %q: %w", cost, err)
	}
	rec.EstimatedCost = d
	rec.Status = Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

// pageClause extends the filter clause with the cursor condition.
func pageClause(q Query) (string, []any, error) {
	where, args := buildWhereClause(q)
	if q.Cursor == "" {
		return where, args, nil
	}

	// The cursor encodes "created_at|id".
	ts, id, err := decodeCursor(q.Cursor)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	n := len(args)
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	where += fmt.Sprintf(" (created_at, id) < ($%d, $%d)", n+1, n+2)
	args = append(args, ts, id)
	return where, args, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// Query. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q Query) (string, []any) {
	var conditions []string
	var args []any

	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// encodeCursor encodes a timestamp and id into an opaque cursor string.
func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor string into a timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor id: %w", err)
	}
	return ts, id.String(), nil
}
