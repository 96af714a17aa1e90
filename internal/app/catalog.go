package app

import (
	"context"

	"vlat-exam-service/internal/domain"
)

// TestSetRepository loads exam content (from cache/backing store). Test sets
// are immutable; implementations are free to cache aggressively.
type TestSetRepository interface {
	GetTestSet(ctx context.Context, setID int) (domain.TestSet, error)
}
