package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vlat-exam-service/internal/domain"
)

// TestSetLoader loads test set JSONB from Postgres.
type TestSetLoader struct {
	pool *pgxpool.Pool
}

func NewTestSetLoader(pool *pgxpool.Pool) *TestSetLoader {
	return &TestSetLoader{pool: pool}
}

func (l *TestSetLoader) LoadTestSet(ctx context.Context, setID int) (domain.TestSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM test_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TestSet{}, domain.ErrTestSetNotFound
	}
	if err != nil {
		return domain.TestSet{}, fmt.Errorf("load test set: %w", err)
	}
	var set domain.TestSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.TestSet{}, fmt.Errorf("unmarshal test set: %w", err)
	}
	if set.ID == 0 {
		set.ID = setID
	}
	return set, nil
}
