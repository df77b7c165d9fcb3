package insights

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apotek-pos/apotek-pos/internal/platform/db"
)

// PgRepository loads sale baskets from Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs the repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Baskets returns the medication codes of every completed sale since the
// given time, one basket per transaction.
func (r *PgRepository) Baskets(ctx context.Context, since time.Time) ([][]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT li.sale_id, m.code
		FROM sale_line_items li
		JOIN sale_transactions s ON s.id = li.sale_id
		JOIN medications m ON m.id = li.medication_id
		WHERE s.status = 'completed' AND s.sold_at >= $1
		ORDER BY li.sale_id, m.code`, since)
	if err != nil {
		return nil, db.TranslateError(err)
	}
	defer rows.Close()

	var baskets [][]string
	var current []string
	var currentSale int64
	for rows.Next() {
		var saleID int64
		var code string
		if err := rows.Scan(&saleID, &code); err != nil {
			return nil, db.TranslateError(err)
		}
		if saleID != currentSale && current != nil {
			baskets = append(baskets, current)
			current = nil
		}
		currentSale = saleID
		current = append(current, code)
	}
	if current != nil {
		baskets = append(baskets, current)
	}
	if err := rows.Err(); err != nil {
		return nil, db.TranslateError(err)
	}
	return baskets, nil
}
