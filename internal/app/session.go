package app

import (
	"context"
	"log"
	"sync"
	"time"

	"vlat-exam-service/internal/domain"
)

// SessionCache is durable local storage for in-flight session state and the
// last-known progress view per set. Writes are best-effort: callers log and
// continue on error, they never fail a user action over a cache problem.
type SessionCache interface {
	SaveSession(setID int, state domain.SessionState) error
	// LoadSession returns false when no snapshot exists or the stored one
	// is older than the cache's expiry window (expired snapshots are purged).
	LoadSession(setID int) (domain.SessionState, bool, error)
	ClearSession(setID int) error

	SaveProgressView(setID int, view domain.ProgressView) error
	LoadProgressView(setID int) (domain.ProgressView, bool, error)
	LoadAllProgressViews() (map[int]domain.ProgressView, error)

	// Clear wipes all cached sessions and progress views. Full-reset only.
	Clear() error
}

// AttemptSink receives finalized attempts. Implemented by SyncAdapter; the
// sink guarantees local durability and returns nil without error when the
// remote ledger could not confirm the attempt.
type AttemptSink interface {
	SubmitAttempt(ctx context.Context, setID int, payload domain.AttemptPayload) (*domain.ProgressView, error)
}

// Phase is the coarse lifecycle of one session controller.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseFinalizing
	PhaseFinalized
)

const autosaveInterval = 30 // seconds between periodic snapshot saves

// SessionSummary is the answered/unanswered/marked breakdown shown on the
// submit confirmation.
type SessionSummary struct {
	TotalQuestions  int `json:"totalQuestions"`
	Answered        int `json:"answered"`
	NotAnswered     int `json:"notAnswered"`
	MarkedForReview int `json:"markedForReview"`
}

// SessionController drives a single exam attempt from open to finalize. It is
// the only component with time-based behavior: the owner calls Tick once per
// second (or runs Run) and the controller auto-finalizes when the countdown
// reaches zero. Each controller owns exactly one session; concurrent
// test-taking contexts construct independent controllers.
type SessionController struct {
	set      domain.TestSet
	cache    SessionCache
	sink     AttemptSink
	duration int
	now      func() time.Time

	mu          sync.Mutex
	state       domain.SessionState
	phase       Phase
	sinceSave   int
	lastPayload domain.AttemptPayload
	lastResult  *domain.ProgressView
}

func NewSessionController(set domain.TestSet, cache SessionCache, sink AttemptSink, durationSeconds int) *SessionController {
	return NewSessionControllerWithClock(set, cache, sink, durationSeconds, time.Now)
}

// NewSessionControllerWithClock allows deterministic timestamps in tests.
func NewSessionControllerWithClock(set domain.TestSet, cache SessionCache, sink AttemptSink, durationSeconds int, now func() time.Time) *SessionController {
	if durationSeconds <= 0 {
		durationSeconds = domain.DefaultSessionDuration
	}
	return &SessionController{
		set:      set,
		cache:    cache,
		sink:     sink,
		duration: durationSeconds,
		now:      now,
	}
}

// Open restores a cached, non-finalized session for this set or initializes a
// fresh one. Returns true when a prior session was restored.
func (c *SessionController) Open() (restored bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok, err := c.cache.LoadSession(c.set.ID)
	if err != nil {
		log.Printf("session cache load failed for set %d: %v", c.set.ID, err)
	}
	if ok && !cached.IsFinalized && cached.SetID == c.set.ID {
		c.state = cached
		if c.state.Answers == nil {
			c.state.Answers = map[string]string{}
		}
		if c.state.MarkedForReview == nil {
			c.state.MarkedForReview = []string{}
		}
		c.clampIndexLocked()
		c.persistLocked()
		return true, nil
	}

	c.state = domain.SessionState{
		SetID:            c.set.ID,
		Answers:          map[string]string{},
		MarkedForReview:  []string{},
		RemainingSeconds: c.duration,
		StartedAt:        c.now(),
	}
	c.persistLocked()
	return false, nil
}

// State returns a snapshot of the current session state.
func (c *SessionController) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Phase returns the controller's lifecycle phase.
func (c *SessionController) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CurrentQuestion returns the question at the current index.
func (c *SessionController) CurrentQuestion() domain.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, _ := c.set.Question(c.state.CurrentQuestionIndex)
	return q
}

// SelectAnswer sets or overwrites the answer for a question. Legal any number
// of times, in any navigation order.
func (c *SessionController) SelectAnswer(questionID, optionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return domain.ErrSessionFinalized
	}
	if !c.hasQuestion(questionID) {
		return domain.ErrQuestionNotFound
	}
	c.state.Answers[questionID] = optionID
	c.persistLocked()
	return nil
}

// ToggleMark toggles the review mark on a question. A question may only be
// marked once it has an answer; callers surface ErrAnswerRequired to the user.
func (c *SessionController) ToggleMark(questionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return domain.ErrSessionFinalized
	}
	if !c.hasQuestion(questionID) {
		return domain.ErrQuestionNotFound
	}
	if _, answered := c.state.Answers[questionID]; !answered {
		return domain.ErrAnswerRequired
	}
	for i, id := range c.state.MarkedForReview {
		if id == questionID {
			c.state.MarkedForReview = append(c.state.MarkedForReview[:i], c.state.MarkedForReview[i+1:]...)
			c.persistLocked()
			return nil
		}
	}
	c.state.MarkedForReview = append(c.state.MarkedForReview, questionID)
	c.persistLocked()
	return nil
}

// Navigate moves to the given question index, clamped to the valid range.
// Navigation never clears state. Returns the index actually landed on.
func (c *SessionController) Navigate(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return c.state.CurrentQuestionIndex
	}
	if index < 0 {
		index = 0
	}
	if max := c.set.QuestionCount() - 1; index > max {
		index = max
	}
	c.state.CurrentQuestionIndex = index
	c.persistLocked()
	return index
}

// Summary returns the counts shown on the submit confirmation.
func (c *SessionController) Summary() SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.set.QuestionCount()
	answered := len(c.state.Answers)
	return SessionSummary{
		TotalQuestions:  total,
		Answered:        answered,
		NotAnswered:     total - answered,
		MarkedForReview: len(c.state.MarkedForReview),
	}
}

// Tick advances the countdown by one second. Every 30 ticks the state is
// re-persisted as a safety net against missed immediate saves. When the
// countdown hits zero the session auto-finalizes without confirmation and the
// resulting view (nil when unconfirmed by the server) is returned.
func (c *SessionController) Tick(ctx context.Context) (finalized bool, view *domain.ProgressView, err error) {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return c.phase == PhaseFinalized, c.lastResult, nil
	}
	if c.state.RemainingSeconds > 0 {
		c.state.RemainingSeconds--
	}
	c.sinceSave++
	if c.sinceSave >= autosaveInterval {
		c.sinceSave = 0
		c.persistLocked()
	}
	if c.state.RemainingSeconds > 0 {
		c.mu.Unlock()
		return false, nil, nil
	}
	view = c.finalizeLocked(ctx)
	c.mu.Unlock()
	return true, view, nil
}

// Run drives the countdown with a real ticker until the session finalizes or
// ctx is canceled. onTick is invoked after every tick with the remaining
// seconds and, once, with the finalization result.
func (c *SessionController) Run(ctx context.Context, onTick func(remaining int, finalized bool, view *domain.ProgressView)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			finalized, view, _ := c.Tick(ctx)
			if onTick != nil {
				onTick(c.State().RemainingSeconds, finalized, view)
			}
			if finalized {
				return
			}
		}
	}
}

// Submit finalizes the session on explicit user submission. The confirmation
// step (showing Summary counts) is the caller's concern; timer expiry skips
// it entirely and finalizes via Tick.
func (c *SessionController) Submit(ctx context.Context) (*domain.ProgressView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseActive {
		return c.lastResult, domain.ErrSessionFinalized
	}
	return c.finalizeLocked(ctx), nil
}

// finalizeLocked scores the session, hands the attempt to the sink, clears
// the cached snapshot, and marks the session terminal. The session always
// reaches Finalized: the sink guarantees local durability even when the
// remote ledger is unreachable.
func (c *SessionController) finalizeLocked(ctx context.Context) *domain.ProgressView {
	c.phase = PhaseFinalizing

	correct := 0
	for _, q := range c.set.Questions {
		if selected, ok := c.state.Answers[q.ID]; ok && selected == q.CorrectOptionID {
			correct++
		}
	}
	score := 0
	if total := c.set.QuestionCount(); total > 0 {
		score = int(float64(correct)/float64(total)*100 + 0.5)
	}
	timeSpent := c.duration - c.state.RemainingSeconds
	if timeSpent < 0 {
		timeSpent = 0
	}

	payload := domain.AttemptPayload{
		Score:            score,
		Answers:          copyAnswers(c.state.Answers),
		MarkedForReview:  append([]string(nil), c.state.MarkedForReview...),
		TimeSpentSeconds: timeSpent,
		SubmittedAt:      c.now(),
	}

	view, err := c.sink.SubmitAttempt(ctx, c.set.ID, payload)
	if err != nil {
		log.Printf("attempt hand-off failed for set %d: %v", c.set.ID, err)
	}

	if err := c.cache.ClearSession(c.set.ID); err != nil {
		log.Printf("session cache clear failed for set %d: %v", c.set.ID, err)
	}
	c.state.IsFinalized = true
	c.phase = PhaseFinalized
	c.lastPayload = payload
	c.lastResult = view
	return view
}

// Result returns the finalized attempt payload and the ledger's view of it
// (nil when the server did not confirm). ok is false until finalization.
func (c *SessionController) Result() (payload domain.AttemptPayload, view *domain.ProgressView, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseFinalized {
		return domain.AttemptPayload{}, nil, false
	}
	return c.lastPayload, c.lastResult, true
}

func (c *SessionController) hasQuestion(questionID string) bool {
	for _, q := range c.set.Questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

func (c *SessionController) clampIndexLocked() {
	if c.state.CurrentQuestionIndex < 0 {
		c.state.CurrentQuestionIndex = 0
	}
	if max := c.set.QuestionCount() - 1; c.state.CurrentQuestionIndex > max {
		c.state.CurrentQuestionIndex = max
	}
}

func (c *SessionController) persistLocked() {
	c.state.SavedAt = c.now()
	if err := c.cache.SaveSession(c.set.ID, c.snapshotLocked()); err != nil {
		log.Printf("session cache save failed for set %d: %v", c.set.ID, err)
	}
}

func (c *SessionController) snapshotLocked() domain.SessionState {
	snap := c.state
	snap.Answers = copyAnswers(c.state.Answers)
	snap.MarkedForReview = append([]string(nil), c.state.MarkedForReview...)
	return snap
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
