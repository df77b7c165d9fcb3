package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Document number prefixes issued by the sequence service.
const (
	SeqPurchaseOrder = "PO"
	SeqSale          = "TRX"
	SeqReturn        = "RET"
	SeqBatch         = "BATCH"
)

// SequenceService issues gapless-enough, unique document numbers. Uniqueness
// under concurrent issuance comes from the row lock taken by the UPDATE on
// doc_sequences; callers never format surrogate keys into public numbers.
type SequenceService struct {
	pool *pgxpool.Pool
}

// NewSequenceService constructs the service.
func NewSequenceService(pool *pgxpool.Pool) *SequenceService {
	return &SequenceService{pool: pool}
}

// Next returns the next document number for the named sequence, formatted as
// PREFIX-YYYYMM-NNNNNN.
func (s *SequenceService) Next(ctx context.Context, name string) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("sequence service not initialised")
	}
	if name == "" {
		return "", errors.New("sequence name required")
	}
	var value int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO doc_sequences (name, last_value) VALUES ($1, 1)
		 ON CONFLICT (name) DO UPDATE SET last_value = doc_sequences.last_value + 1
		 RETURNING last_value`, name).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("shared: next sequence %s: %w", name, err)
	}
	return FormatDocNumber(name, value, time.Now()), nil
}

// FormatDocNumber renders the public document number.
func FormatDocNumber(prefix string, value int64, at time.Time) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, at.UTC().Format("200601"), value)
}
