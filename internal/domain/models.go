package domain

import "time"

// Fixed exam parameters. MaxAttempts and the catalog size are product
// constants; the session duration can be overridden via config.
const (
	CatalogSize            = 6
	DefaultMaxAttempts     = 3
	DefaultSessionDuration = 3600 // seconds
)

// Status is the lifecycle state of a progress document.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Option represents a possible answer for a question.
type Option struct {
	ID   string        `json:"id"`
	Text LocalizedText `json:"text"`
}

// Question models an MCQ question with exactly one correct option.
// Scoring compares option IDs only; text is presentation.
type Question struct {
	ID              string        `json:"id"`
	Prompt          LocalizedText `json:"question"`
	Options         []Option      `json:"options"`
	CorrectOptionID string        `json:"correctAnswer"`
}

// TestSet is one fixed exam (1..CatalogSize) with an ordered question list.
type TestSet struct {
	ID        int           `json:"id"`
	Title     LocalizedText `json:"title"`
	Questions []Question    `json:"questions"`
}

// QuestionCount returns the number of questions in the set.
func (s TestSet) QuestionCount() int { return len(s.Questions) }

// Question returns the question at index, or false when out of range.
func (s TestSet) Question(index int) (Question, bool) {
	if index < 0 || index >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[index], true
}

// SessionState is the transient in-progress exam state for one attempt.
// It is persisted to the session cache on every mutation and restored on
// reopen until it is finalized or expires.
type SessionState struct {
	SetID                int               `json:"setId"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`
	MarkedForReview      []string          `json:"markedForReview"`
	RemainingSeconds     int               `json:"remainingSeconds"`
	StartedAt            time.Time         `json:"startedAt"`
	IsFinalized          bool              `json:"isFinalized"`
	SavedAt              time.Time         `json:"savedAt"`
}

// IsMarked reports whether questionID is in the review set.
func (s SessionState) IsMarked(questionID string) bool {
	for _, id := range s.MarkedForReview {
		if id == questionID {
			return true
		}
	}
	return false
}

// AttemptPayload is the finalized output of one session, handed to the
// ledger on submission.
type AttemptPayload struct {
	Score            int               `json:"score"`
	Answers          map[string]string `json:"answers"`
	MarkedForReview  []string          `json:"markedForReview"`
	TimeSpentSeconds int               `json:"timeSpent"`
	SubmittedAt      time.Time         `json:"submittedAt"`
}

// AttemptRecord is one completed submission, immutable once appended.
type AttemptRecord struct {
	AttemptNumber    int               `json:"attemptNumber"`
	Score            int               `json:"score"`
	Answers          map[string]string `json:"answers"`
	MarkedForReview  []string          `json:"markedForReview"`
	TimeSpentSeconds int               `json:"timeSpent"`
	SubmittedAt      time.Time         `json:"submittedAt"`
}

// ProgressDocument is the authoritative per-(user, set) attempt ledger entry.
// Attempts are append-only in chronological order and never exceed MaxAttempts.
type ProgressDocument struct {
	UserID      string          `json:"userId"`
	SetID       int             `json:"setId"`
	Status      Status          `json:"status"`
	Attempts    []AttemptRecord `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// LatestAttempt returns the most recent attempt, or false when none exist.
func (d ProgressDocument) LatestAttempt() (AttemptRecord, bool) {
	if len(d.Attempts) == 0 {
		return AttemptRecord{}, false
	}
	return d.Attempts[len(d.Attempts)-1], true
}

// BestScore returns the highest score across all attempts, zero when none.
func (d ProgressDocument) BestScore() int {
	best := 0
	for _, a := range d.Attempts {
		if a.Score > best {
			best = a.Score
		}
	}
	return best
}

// AttemptsRemaining returns how many attempts the user still has.
func (d ProgressDocument) AttemptsRemaining() int {
	remaining := d.MaxAttempts - len(d.Attempts)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProgressView is the flat latest-attempt shape the client binds to. It is
// what the sync adapter caches locally and what the renderers consume.
type ProgressView struct {
	SetID            int               `json:"setId"`
	Status           Status            `json:"status"`
	Score            int               `json:"score"`
	AttemptsCount    int               `json:"attempts"`
	MaxAttempts      int               `json:"maxAttempts"`
	Answers          map[string]string `json:"answers"`
	MarkedForReview  []string          `json:"markedForReview"`
	TimeSpentSeconds int               `json:"timeSpent"`
	SubmittedAt      time.Time         `json:"submittedAt"`
}

// Stats is the derived aggregate over all of a user's progress documents.
type Stats struct {
	TestsCompleted int `json:"testsCompleted"`
	TotalAttempts  int `json:"totalAttempts"`
	BestScore      int `json:"bestScore"`
	AverageScore   int `json:"averageScore"`
}
