package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"vlat-exam-service/internal/domain"
)

// ProgressRepository stores progress documents in Postgres, one row per
// (user, set) with the attempt list as JSONB. The attempt cap is enforced in
// the UPDATE's WHERE clause, so the cap-check-and-append is a single atomic
// statement and concurrent submissions cannot jointly exceed MaxAttempts.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

const progressColumns = `status, attempts, max_attempts, created_at, updated_at`

func (r *ProgressRepository) GetOrCreate(ctx context.Context, userID string, setID int) (domain.ProgressDocument, error) {
	// Upsert-returning makes get-or-create one atomic statement; the no-op
	// DO UPDATE is what lets the conflicting row come back in RETURNING.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO test_progress (user_id, set_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, set_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING `+progressColumns,
		userID, setID)
	doc, err := scanDocument(row, userID, setID)
	if err != nil {
		return domain.ProgressDocument{}, fmt.Errorf("get or create progress: %w", err)
	}
	return doc, nil
}

func (r *ProgressRepository) UpdateStatus(ctx context.Context, userID string, setID int, status domain.Status) (domain.ProgressDocument, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE test_progress
		SET status = $3, updated_at = now()
		WHERE user_id = $1 AND set_id = $2
		RETURNING `+progressColumns,
		userID, setID, string(status))
	doc, err := scanDocument(row, userID, setID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProgressDocument{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.ProgressDocument{}, fmt.Errorf("update progress status: %w", err)
	}
	return doc, nil
}

func (r *ProgressRepository) AppendAttempt(ctx context.Context, userID string, setID int, attempt domain.AttemptRecord) (domain.ProgressDocument, error) {
	encoded, err := json.Marshal(attempt)
	if err != nil {
		return domain.ProgressDocument{}, fmt.Errorf("marshal attempt: %w", err)
	}
	// The attempt number is assigned inside the statement from the current
	// array length, and the WHERE clause rejects the append once the cap is
	// reached. Callers ensure the row exists via GetOrCreate, so zero rows
	// here means the cap.
	row := r.pool.QueryRow(ctx, `
		UPDATE test_progress
		SET attempts = attempts || jsonb_set($3::jsonb, '{attemptNumber}', to_jsonb(jsonb_array_length(attempts) + 1)),
		    status = 'completed',
		    updated_at = now()
		WHERE user_id = $1 AND set_id = $2 AND jsonb_array_length(attempts) < max_attempts
		RETURNING `+progressColumns,
		userID, setID, encoded)
	doc, err := scanDocument(row, userID, setID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProgressDocument{}, domain.ErrAttemptLimit
	}
	if err != nil {
		return domain.ProgressDocument{}, fmt.Errorf("append attempt: %w", err)
	}
	return doc, nil
}

func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]domain.ProgressDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT set_id, `+progressColumns+`
		FROM test_progress
		WHERE user_id = $1
		ORDER BY set_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var docs []domain.ProgressDocument
	for rows.Next() {
		var (
			setID    int
			status   string
			attempts []byte
			maxAtt   int
			created  time.Time
			updated  time.Time
		)
		if err := rows.Scan(&setID, &status, &attempts, &maxAtt, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		doc, err := buildDocument(userID, setID, status, attempts, maxAtt, created, updated)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.Row, userID string, setID int) (domain.ProgressDocument, error) {
	var (
		status   string
		attempts []byte
		maxAtt   int
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&status, &attempts, &maxAtt, &created, &updated); err != nil {
		return domain.ProgressDocument{}, err
	}
	return buildDocument(userID, setID, status, attempts, maxAtt, created, updated)
}

func buildDocument(userID string, setID int, status string, attempts []byte, maxAttempts int, created, updated time.Time) (domain.ProgressDocument, error) {
	doc := domain.ProgressDocument{
		UserID:      userID,
		SetID:       setID,
		Status:      domain.Status(status),
		Attempts:    []domain.AttemptRecord{},
		MaxAttempts: maxAttempts,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &doc.Attempts); err != nil {
			return domain.ProgressDocument{}, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return doc, nil
}
