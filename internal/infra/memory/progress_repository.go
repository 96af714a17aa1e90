package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vlat-exam-service/internal/domain"
)

// ProgressRepository is an in-memory implementation of app.ProgressRepository.
// A single mutex makes the cap-check-and-append atomic, so concurrent
// submissions can never record more than MaxAttempts attempts.
type ProgressRepository struct {
	clock func() time.Time

	mu   sync.Mutex
	docs map[progressKey]*domain.ProgressDocument
}

type progressKey struct {
	userID string
	setID  int
}

func NewProgressRepository() *ProgressRepository {
	return NewProgressRepositoryWithClock(time.Now)
}

// NewProgressRepositoryWithClock allows deterministic timestamps in tests.
func NewProgressRepositoryWithClock(clock func() time.Time) *ProgressRepository {
	return &ProgressRepository{
		clock: clock,
		docs:  make(map[progressKey]*domain.ProgressDocument),
	}
}

func (r *ProgressRepository) GetOrCreate(_ context.Context, userID string, setID int) (domain.ProgressDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyDoc(r.getOrCreateLocked(userID, setID)), nil
}

func (r *ProgressRepository) UpdateStatus(_ context.Context, userID string, setID int, status domain.Status) (domain.ProgressDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.getOrCreateLocked(userID, setID)
	doc.Status = status
	doc.UpdatedAt = r.clock()
	return copyDoc(doc), nil
}

func (r *ProgressRepository) AppendAttempt(_ context.Context, userID string, setID int, attempt domain.AttemptRecord) (domain.ProgressDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.getOrCreateLocked(userID, setID)
	if len(doc.Attempts) >= doc.MaxAttempts {
		return domain.ProgressDocument{}, domain.ErrAttemptLimit
	}
	attempt.AttemptNumber = len(doc.Attempts) + 1
	doc.Attempts = append(doc.Attempts, attempt)
	doc.Status = domain.StatusCompleted
	doc.UpdatedAt = r.clock()
	return copyDoc(doc), nil
}

func (r *ProgressRepository) ListByUser(_ context.Context, userID string) ([]domain.ProgressDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make([]domain.ProgressDocument, 0)
	for key, doc := range r.docs {
		if key.userID == userID {
			docs = append(docs, copyDoc(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].SetID < docs[j].SetID })
	return docs, nil
}

func (r *ProgressRepository) getOrCreateLocked(userID string, setID int) *domain.ProgressDocument {
	key := progressKey{userID: userID, setID: setID}
	if doc, ok := r.docs[key]; ok {
		return doc
	}
	now := r.clock()
	doc := &domain.ProgressDocument{
		UserID:      userID,
		SetID:       setID,
		Status:      domain.StatusNotStarted,
		Attempts:    []domain.AttemptRecord{},
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.docs[key] = doc
	return doc
}

// copyDoc deep-copies the document so callers cannot mutate stored state.
func copyDoc(doc *domain.ProgressDocument) domain.ProgressDocument {
	out := *doc
	out.Attempts = make([]domain.AttemptRecord, len(doc.Attempts))
	for i, a := range doc.Attempts {
		answers := make(map[string]string, len(a.Answers))
		for k, v := range a.Answers {
			answers[k] = v
		}
		a.Answers = answers
		a.MarkedForReview = append([]string(nil), a.MarkedForReview...)
		out.Attempts[i] = a
	}
	return out
}
