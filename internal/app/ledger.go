package app

import (
	"context"
	"time"

	"vlat-exam-service/internal/domain"
)

// ProgressRepository abstracts how progress documents are stored (in-memory,
// Postgres). Implementations must make GetOrCreate and AppendAttempt atomic
// per (user, set): two concurrent submissions must never jointly exceed the
// attempt cap, and two concurrent reads must never create duplicate documents.
type ProgressRepository interface {
	GetOrCreate(ctx context.Context, userID string, setID int) (domain.ProgressDocument, error)
	UpdateStatus(ctx context.Context, userID string, setID int, status domain.Status) (domain.ProgressDocument, error)
	// AppendAttempt assigns the attempt number, flips the document to
	// completed, and persists in one read-modify-write. Returns
	// domain.ErrAttemptLimit once the cap is reached.
	AppendAttempt(ctx context.Context, userID string, setID int, attempt domain.AttemptRecord) (domain.ProgressDocument, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ProgressDocument, error)
}

// LedgerService is the server-side authority for attempt accounting. It is
// stateless; every request operates on the document it reads and writes.
type LedgerService struct {
	repo        ProgressRepository
	catalogSize int
	now         func() time.Time
}

func NewLedgerService(repo ProgressRepository) *LedgerService {
	return &LedgerService{repo: repo, catalogSize: domain.CatalogSize, now: time.Now}
}

// NewLedgerServiceWithClock is test-only for deterministic timestamps.
func NewLedgerServiceWithClock(repo ProgressRepository, now func() time.Time) *LedgerService {
	return &LedgerService{repo: repo, catalogSize: domain.CatalogSize, now: now}
}

func (s *LedgerService) validSetID(setID int) bool {
	return setID >= 1 && setID <= s.catalogSize
}

// GetProgress returns the progress document for one set, creating it lazily
// with status not_started on first access.
func (s *LedgerService) GetProgress(ctx context.Context, userID string, setID int) (domain.ProgressDocument, error) {
	if !s.validSetID(setID) {
		return domain.ProgressDocument{}, domain.ErrInvalidSetID
	}
	return s.repo.GetOrCreate(ctx, userID, setID)
}

// GetAllProgress returns one document per catalog set, ordered by set ID,
// lazily creating any that do not exist yet.
func (s *LedgerService) GetAllProgress(ctx context.Context, userID string) ([]domain.ProgressDocument, error) {
	docs := make([]domain.ProgressDocument, 0, s.catalogSize)
	for setID := 1; setID <= s.catalogSize; setID++ {
		doc, err := s.repo.GetOrCreate(ctx, userID, setID)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// SaveInProgress marks a set with the given status hint (used by clients to
// flag a set as in_progress when an attempt starts). Clients may only hint
// in_progress; completed is owned by SubmitAttempt and everything else is
// rejected.
func (s *LedgerService) SaveInProgress(ctx context.Context, userID string, setID int, statusHint domain.Status) (domain.ProgressDocument, error) {
	if !s.validSetID(setID) {
		return domain.ProgressDocument{}, domain.ErrInvalidSetID
	}
	if statusHint != "" && statusHint != domain.StatusInProgress {
		return domain.ProgressDocument{}, domain.ErrInvalidStatus
	}
	doc, err := s.repo.GetOrCreate(ctx, userID, setID)
	if err != nil {
		return domain.ProgressDocument{}, err
	}
	if statusHint == "" {
		return doc, nil
	}
	return s.repo.UpdateStatus(ctx, userID, setID, statusHint)
}

// SubmitAttempt validates and appends a completed attempt. The cap check and
// the append happen atomically inside the repository.
func (s *LedgerService) SubmitAttempt(ctx context.Context, userID string, setID int, input domain.AttemptPayload) (domain.ProgressDocument, error) {
	if !s.validSetID(setID) {
		return domain.ProgressDocument{}, domain.ErrInvalidSetID
	}
	if input.Score < 0 || input.Score > 100 {
		return domain.ProgressDocument{}, domain.ErrInvalidScore
	}
	if _, err := s.repo.GetOrCreate(ctx, userID, setID); err != nil {
		return domain.ProgressDocument{}, err
	}

	submittedAt := input.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	answers := input.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	marked := input.MarkedForReview
	if marked == nil {
		marked = []string{}
	}
	timeSpent := input.TimeSpentSeconds
	if timeSpent < 0 {
		timeSpent = 0
	}

	return s.repo.AppendAttempt(ctx, userID, setID, domain.AttemptRecord{
		Score:            input.Score,
		Answers:          answers,
		MarkedForReview:  marked,
		TimeSpentSeconds: timeSpent,
		SubmittedAt:      submittedAt,
	})
}

// GetStats folds the user's progress documents into the dashboard aggregate.
func (s *LedgerService) GetStats(ctx context.Context, userID string) (domain.Stats, error) {
	docs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return domain.Stats{}, err
	}

	stats := domain.Stats{}
	scoreSum := 0
	scoreCount := 0
	for _, doc := range docs {
		if doc.Status == domain.StatusCompleted {
			stats.TestsCompleted++
		}
		stats.TotalAttempts += len(doc.Attempts)
		for _, attempt := range doc.Attempts {
			scoreSum += attempt.Score
			scoreCount++
			if attempt.Score > stats.BestScore {
				stats.BestScore = attempt.Score
			}
		}
	}
	if scoreCount > 0 {
		stats.AverageScore = int(float64(scoreSum)/float64(scoreCount) + 0.5)
	}
	return stats, nil
}
