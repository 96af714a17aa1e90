package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/domain"
	"vlat-exam-service/internal/infra/memory"
)

func newTestLedger() *app.LedgerService {
	return app.NewLedgerService(memory.NewProgressRepository())
}

func TestGetProgressCreatesLazily(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	doc, err := ledger.GetProgress(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Status != domain.StatusNotStarted {
		t.Fatalf("expected not_started, got %s", doc.Status)
	}
	if doc.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("expected default attempt cap, got %d", doc.MaxAttempts)
	}
	if len(doc.Attempts) != 0 {
		t.Fatalf("expected no attempts, got %d", len(doc.Attempts))
	}

	again, err := ledger.GetProgress(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if !again.CreatedAt.Equal(doc.CreatedAt) {
		t.Fatal("expected same document on repeat access, got a new one")
	}
}

func TestGetProgressRejectsBadSetID(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	for _, setID := range []int{0, -1, domain.CatalogSize + 1} {
		if _, err := ledger.GetProgress(ctx, "u1", setID); !errors.Is(err, domain.ErrInvalidSetID) {
			t.Fatalf("set %d: expected invalid set id, got %v", setID, err)
		}
	}
}

func TestGetAllProgressCoversCatalog(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	docs, err := ledger.GetAllProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(docs) != domain.CatalogSize {
		t.Fatalf("expected %d documents, got %d", domain.CatalogSize, len(docs))
	}
	for i, doc := range docs {
		if doc.SetID != i+1 {
			t.Fatalf("expected set %d at position %d, got %d", i+1, i, doc.SetID)
		}
	}
}

func TestSubmitAttemptAppendsAndNumbers(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	doc, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{
		Score:            60,
		Answers:          map[string]string{"q1": "a"},
		TimeSpentSeconds: 600,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
	latest, ok := doc.LatestAttempt()
	if !ok || latest.AttemptNumber != 1 || latest.Score != 60 {
		t.Fatalf("unexpected first attempt: %+v", latest)
	}
	if latest.SubmittedAt.IsZero() {
		t.Fatal("expected submission timestamp to be filled")
	}

	doc, err = ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 80})
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	latest, _ = doc.LatestAttempt()
	if latest.AttemptNumber != 2 {
		t.Fatalf("expected attempt 2, got %d", latest.AttemptNumber)
	}
	if doc.BestScore() != 80 {
		t.Fatalf("expected best 80, got %d", doc.BestScore())
	}
	if doc.AttemptsRemaining() != 1 {
		t.Fatalf("expected 1 remaining, got %d", doc.AttemptsRemaining())
	}
}

func TestSubmitAttemptEnforcesCap(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	for i := 0; i < domain.DefaultMaxAttempts; i++ {
		if _, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 50}); err != nil {
			t.Fatalf("attempt %d failed: %v", i+1, err)
		}
	}
	if _, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 50}); !errors.Is(err, domain.ErrAttemptLimit) {
		t.Fatalf("expected attempt limit, got %v", err)
	}

	// Other sets and other users are unaffected by one set's cap.
	if _, err := ledger.SubmitAttempt(ctx, "u1", 2, domain.AttemptPayload{Score: 50}); err != nil {
		t.Fatalf("other set rejected: %v", err)
	}
	if _, err := ledger.SubmitAttempt(ctx, "u2", 1, domain.AttemptPayload{Score: 50}); err != nil {
		t.Fatalf("other user rejected: %v", err)
	}
}

func TestSubmitAttemptValidatesScore(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	for _, score := range []int{-1, 101} {
		if _, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: score}); !errors.Is(err, domain.ErrInvalidScore) {
			t.Fatalf("score %d: expected invalid score, got %v", score, err)
		}
	}

	doc, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 40, TimeSpentSeconds: -5})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	latest, _ := doc.LatestAttempt()
	if latest.Answers == nil || latest.MarkedForReview == nil {
		t.Fatalf("expected nil collections defaulted, got %+v", latest)
	}
	if latest.TimeSpentSeconds != 0 {
		t.Fatalf("expected negative time clamped, got %d", latest.TimeSpentSeconds)
	}
}

func TestConcurrentSubmissionsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.SubmitAttempt(ctx, "u1", 1, domain.AttemptPayload{Score: 50})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrAttemptLimit):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != domain.DefaultMaxAttempts {
		t.Fatalf("expected exactly %d accepted, got %d", domain.DefaultMaxAttempts, accepted)
	}
	if rejected != 10-domain.DefaultMaxAttempts {
		t.Fatalf("expected %d rejected, got %d", 10-domain.DefaultMaxAttempts, rejected)
	}

	doc, err := ledger.GetProgress(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(doc.Attempts) != domain.DefaultMaxAttempts {
		t.Fatalf("expected %d attempts stored, got %d", domain.DefaultMaxAttempts, len(doc.Attempts))
	}
}

func TestSaveInProgressUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	doc, err := ledger.SaveInProgress(ctx, "u1", 1, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if doc.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", doc.Status)
	}

	doc, err = ledger.SaveInProgress(ctx, "u1", 1, "")
	if err != nil {
		t.Fatalf("save without hint failed: %v", err)
	}
	if doc.Status != domain.StatusInProgress {
		t.Fatalf("expected status unchanged without hint, got %s", doc.Status)
	}
}

func TestSaveInProgressRejectsForeignStatus(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	// Completed is owned by SubmitAttempt; anything else is garbage.
	for _, hint := range []domain.Status{domain.StatusCompleted, domain.StatusNotStarted, "paused"} {
		if _, err := ledger.SaveInProgress(ctx, "u1", 1, hint); !errors.Is(err, domain.ErrInvalidStatus) {
			t.Fatalf("hint %q: expected invalid status, got %v", hint, err)
		}
		if !domain.IsValidation(domain.ErrInvalidStatus) {
			t.Fatal("expected invalid status to classify as validation")
		}
	}

	doc, err := ledger.GetProgress(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Status != domain.StatusNotStarted {
		t.Fatalf("expected status untouched by rejected hints, got %s", doc.Status)
	}
}

func TestGetStatsAggregates(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC) }
	ledger := app.NewLedgerServiceWithClock(memory.NewProgressRepository(), clock)

	empty, err := ledger.GetStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if empty != (domain.Stats{}) {
		t.Fatalf("expected zero stats, got %+v", empty)
	}

	for _, submission := range []struct {
		setID int
		score int
	}{
		{1, 40}, {1, 70}, {2, 90},
	} {
		if _, err := ledger.SubmitAttempt(ctx, "u1", submission.setID, domain.AttemptPayload{Score: submission.score}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	stats, err := ledger.GetStats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TestsCompleted != 2 {
		t.Fatalf("expected 2 completed, got %d", stats.TestsCompleted)
	}
	if stats.TotalAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", stats.TotalAttempts)
	}
	if stats.BestScore != 90 {
		t.Fatalf("expected best 90, got %d", stats.BestScore)
	}
	if stats.AverageScore != 67 {
		t.Fatalf("expected average 67, got %d", stats.AverageScore)
	}
}
