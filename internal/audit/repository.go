package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

// PgRepository membaca audit_logs langsung dari PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository membuat repository audit baru.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineColumns = `occurred_at, actor, action, entity, entity_id, before_state, after_state`

func buildWhere(filters TimelineFilters, args *[]any) string {
	var clauses []string
	add := func(clause string, value any) {
		*args = append(*args, value)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(*args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >=", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at <=", filters.To)
	}
	if actor := strings.TrimSpace(filters.Actor); actor != "" {
		add("actor =", actor)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity =", entity)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action =", action)
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// TimelineWindow mengambil satu jendela baris, terbaru lebih dulu.
func (r *PgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	args := []any{}
	where := buildWhere(filters, &args)
	args = append(args, limit, offset)
	query := `SELECT ` + timelineColumns + ` FROM audit_logs` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	return r.queryRows(ctx, query, args)
}

// TimelineAll mengambil seluruh baris yang cocok dengan filter.
func (r *PgRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	args := []any{}
	where := buildWhere(filters, &args)
	query := `SELECT ` + timelineColumns + ` FROM audit_logs` + where + ` ORDER BY occurred_at DESC, id DESC`
	return r.queryRows(ctx, query, args)
}

func (r *PgRepository) queryRows(ctx context.Context, query string, args []any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		row, err := scanTimelineRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, db.TranslateError(rows.Err())
}

func scanTimelineRow(rows pgx.Rows) (TimelineRow, error) {
	var row TimelineRow
	var before, after []byte
	if err := rows.Scan(&row.At, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &before, &after); err != nil {
		return TimelineRow{}, db.TranslateError(err)
	}
	if len(before) > 0 {
		if err := json.Unmarshal(before, &row.Before); err != nil {
			return TimelineRow{}, err
		}
	}
	if len(after) > 0 {
		if err := json.Unmarshal(after, &row.After); err != nil {
			return TimelineRow{}, err
		}
	}
	return row, nil
}
