package app

import (
	"context"
	"errors"
	"log"
	"time"

	"vlat-exam-service/internal/domain"
)

// LedgerClient is the remote side of the sync adapter: the attempt ledger as
// seen over the wire. Calls may fail with transport errors or with the
// ledger's own rejections (validation, attempt limit).
type LedgerClient interface {
	GetProgress(ctx context.Context, setID int) (domain.ProgressDocument, error)
	GetAllProgress(ctx context.Context) ([]domain.ProgressDocument, error)
	SubmitAttempt(ctx context.Context, setID int, payload domain.AttemptPayload) (domain.ProgressDocument, error)
	SaveInProgress(ctx context.Context, setID int, status domain.Status) (domain.ProgressDocument, error)
}

// SyncAdapter reconciles the local session cache with the remote ledger:
// offline-tolerant reads, at-least-once-durable writes. The local cache is
// written before any remote result is used, so a crash mid-call never loses
// the last-known state; the ledger, when reachable, is the source of truth
// and overwrites the local view.
type SyncAdapter struct {
	client  LedgerClient
	cache   SessionCache
	timeout time.Duration
	now     func() time.Time
}

const defaultRemoteTimeout = 10 * time.Second

func NewSyncAdapter(client LedgerClient, cache SessionCache, timeout time.Duration) *SyncAdapter {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &SyncAdapter{client: client, cache: cache, timeout: timeout, now: time.Now}
}

// NormalizeView flattens a progress document into the latest-attempt view the
// client binds to.
func NormalizeView(doc domain.ProgressDocument) domain.ProgressView {
	view := domain.ProgressView{
		SetID:         doc.SetID,
		Status:        doc.Status,
		AttemptsCount: len(doc.Attempts),
		MaxAttempts:   doc.MaxAttempts,
	}
	if view.Status == "" {
		view.Status = domain.StatusNotStarted
	}
	if view.MaxAttempts == 0 {
		view.MaxAttempts = domain.DefaultMaxAttempts
	}
	if latest, ok := doc.LatestAttempt(); ok {
		view.Score = latest.Score
		view.Answers = latest.Answers
		view.MarkedForReview = latest.MarkedForReview
		view.TimeSpentSeconds = latest.TimeSpentSeconds
		view.SubmittedAt = latest.SubmittedAt
	}
	return view
}

// FetchProgress reads one set's progress from the ledger, caching the
// normalized view on success. On remote failure it falls back to the cached
// view (or an empty not_started view) without surfacing an error.
func (a *SyncAdapter) FetchProgress(ctx context.Context, setID int) domain.ProgressView {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	doc, err := a.client.GetProgress(callCtx, setID)
	if err != nil {
		log.Printf("progress fetch failed for set %d, using cache: %v", setID, err)
		return a.cachedView(setID)
	}
	view := NormalizeView(doc)
	a.saveView(setID, view)
	return view
}

// FetchAllProgress reads every set's progress, falling back to the full local
// cache map when the ledger is unreachable.
func (a *SyncAdapter) FetchAllProgress(ctx context.Context) map[int]domain.ProgressView {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	docs, err := a.client.GetAllProgress(callCtx)
	if err != nil {
		log.Printf("progress fetch-all failed, using cache: %v", err)
		views, cerr := a.cache.LoadAllProgressViews()
		if cerr != nil {
			log.Printf("progress cache read failed: %v", cerr)
			return map[int]domain.ProgressView{}
		}
		return views
	}

	views := make(map[int]domain.ProgressView, len(docs))
	for _, doc := range docs {
		view := NormalizeView(doc)
		a.saveView(doc.SetID, view)
		views[doc.SetID] = view
	}
	return views
}

// SubmitAttempt posts a finalized attempt to the ledger. On success the
// server-confirmed view is cached and returned. On a transport failure the
// attempt is preserved locally (status completed, attempt count bumped) and
// nil is returned to signal "not confirmed by server". Ledger rejections
// (validation, attempt limit) are surfaced and nothing is written locally.
func (a *SyncAdapter) SubmitAttempt(ctx context.Context, setID int, payload domain.AttemptPayload) (*domain.ProgressView, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	doc, err := a.client.SubmitAttempt(callCtx, setID, payload)
	if err == nil {
		view := NormalizeView(doc)
		a.saveView(setID, view)
		return &view, nil
	}
	if errors.Is(err, domain.ErrAttemptLimit) || domain.IsValidation(err) {
		return nil, err
	}

	log.Printf("attempt submit failed for set %d, keeping local copy: %v", setID, err)
	prev := a.cachedView(setID)
	attempts := prev.AttemptsCount + 1
	if attempts > prev.MaxAttempts {
		attempts = prev.MaxAttempts
	}
	local := domain.ProgressView{
		SetID:            setID,
		Status:           domain.StatusCompleted,
		Score:            payload.Score,
		AttemptsCount:    attempts,
		MaxAttempts:      prev.MaxAttempts,
		Answers:          payload.Answers,
		MarkedForReview:  payload.MarkedForReview,
		TimeSpentSeconds: payload.TimeSpentSeconds,
		SubmittedAt:      payload.SubmittedAt,
	}
	a.saveView(setID, local)
	return nil, nil
}

// SaveInProgress flags a set as in_progress: unconditionally in the local
// cache, best-effort on the ledger (remote failure is swallowed).
func (a *SyncAdapter) SaveInProgress(ctx context.Context, setID int) {
	local := a.cachedView(setID)
	if local.Status != domain.StatusCompleted {
		local.Status = domain.StatusInProgress
	}
	a.saveView(setID, local)

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	doc, err := a.client.SaveInProgress(callCtx, setID, domain.StatusInProgress)
	if err != nil {
		log.Printf("in-progress notify failed for set %d: %v", setID, err)
		return
	}
	a.saveView(setID, NormalizeView(doc))
}

func (a *SyncAdapter) cachedView(setID int) domain.ProgressView {
	view, ok, err := a.cache.LoadProgressView(setID)
	if err != nil {
		log.Printf("progress cache read failed for set %d: %v", setID, err)
	}
	if !ok {
		return domain.ProgressView{
			SetID:       setID,
			Status:      domain.StatusNotStarted,
			MaxAttempts: domain.DefaultMaxAttempts,
		}
	}
	return view
}

func (a *SyncAdapter) saveView(setID int, view domain.ProgressView) {
	if err := a.cache.SaveProgressView(setID, view); err != nil {
		log.Printf("progress cache save failed for set %d: %v", setID, err)
	}
}
