package app

import (
	"context"

	"vlat-exam-service/internal/domain"
)

// Verdict classifies one question of a completed attempt.
type Verdict string

const (
	VerdictCorrect    Verdict = "correct"
	VerdictIncorrect  Verdict = "incorrect"
	VerdictUnanswered Verdict = "unanswered"
)

// MotivationalMessage is the score-tiered headline on the results page.
type MotivationalMessage struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ResultSummary is the read-only outcome of a completed attempt.
type ResultSummary struct {
	SetID          int                  `json:"setId"`
	Title          domain.LocalizedText `json:"title"`
	Score          int                  `json:"score"`
	TotalQuestions int                  `json:"totalQuestions"`
	Correct        int                  `json:"correct"`
	Incorrect      int                  `json:"incorrect"`
	Unanswered     int                  `json:"unanswered"`
	Message        MotivationalMessage  `json:"message"`
}

// QuestionReview is one entry of the question-by-question breakdown.
type QuestionReview struct {
	QuestionID       string               `json:"questionId"`
	Prompt           domain.LocalizedText `json:"question"`
	Options          []domain.Option      `json:"options"`
	SelectedOptionID string               `json:"selectedOptionId"`
	CorrectOptionID  string               `json:"correctOptionId"`
	Verdict          Verdict              `json:"verdict"`
}

// ReviewRenderer builds read-only views over completed attempts. The
// full-answer review gate (all attempts must be exhausted first) is a product
// policy carried as configuration, not a technical constraint.
type ReviewRenderer struct {
	adapter            *SyncAdapter
	requireAllAttempts bool
	catalogSize        int
}

func NewReviewRenderer(adapter *SyncAdapter, requireAllAttempts bool) *ReviewRenderer {
	return &ReviewRenderer{
		adapter:            adapter,
		requireAllAttempts: requireAllAttempts,
		catalogSize:        domain.CatalogSize,
	}
}

// BuildSummary compares the view's answers against the set's correct options
// and attaches the tiered motivational message.
func (r *ReviewRenderer) BuildSummary(set domain.TestSet, view domain.ProgressView) ResultSummary {
	summary := ResultSummary{
		SetID:          set.ID,
		Title:          set.Title,
		Score:          view.Score,
		TotalQuestions: set.QuestionCount(),
		Message:        MessageForScore(view.Score),
	}
	for _, q := range set.Questions {
		selected, ok := view.Answers[q.ID]
		switch {
		case !ok || selected == "":
			summary.Unanswered++
		case selected == q.CorrectOptionID:
			summary.Correct++
		default:
			summary.Incorrect++
		}
	}
	return summary
}

// BuildQuestionReview produces the per-question verdict list for the full
// answer review page.
func (r *ReviewRenderer) BuildQuestionReview(set domain.TestSet, view domain.ProgressView) []QuestionReview {
	entries := make([]QuestionReview, 0, set.QuestionCount())
	for _, q := range set.Questions {
		entry := QuestionReview{
			QuestionID:      q.ID,
			Prompt:          q.Prompt,
			Options:         q.Options,
			CorrectOptionID: q.CorrectOptionID,
		}
		selected, ok := view.Answers[q.ID]
		switch {
		case !ok || selected == "":
			entry.Verdict = VerdictUnanswered
		case selected == q.CorrectOptionID:
			entry.SelectedOptionID = selected
			entry.Verdict = VerdictCorrect
		default:
			entry.SelectedOptionID = selected
			entry.Verdict = VerdictIncorrect
		}
		entries = append(entries, entry)
	}
	return entries
}

// CanRetake reports whether the user has attempts left on this set.
func (r *ReviewRenderer) CanRetake(view domain.ProgressView) bool {
	return view.AttemptsCount < view.MaxAttempts
}

// CanReviewAnswers reports whether the full answer review is unlocked.
func (r *ReviewRenderer) CanReviewAnswers(view domain.ProgressView) bool {
	if !r.requireAllAttempts {
		return true
	}
	return view.AttemptsCount >= view.MaxAttempts
}

// NextAvailableSet scans the catalog after currentSetID for the first set the
// user has not completed. Returns false when every remaining set is done.
func (r *ReviewRenderer) NextAvailableSet(ctx context.Context, currentSetID int) (int, bool) {
	views := r.adapter.FetchAllProgress(ctx)
	for setID := currentSetID + 1; setID <= r.catalogSize; setID++ {
		view, ok := views[setID]
		if !ok || view.Status != domain.StatusCompleted {
			return setID, true
		}
	}
	return 0, false
}

// MessageForScore reproduces the product's score tiers: below 50
// encouragement, 50-80 positive, above 80 congratulatory.
func MessageForScore(score int) MotivationalMessage {
	switch {
	case score < 50:
		return MotivationalMessage{
			Title: "Keep Practicing!",
			Text:  "Don't worry! Every attempt makes you stronger. Review and try again!",
		}
	case score <= 80:
		return MotivationalMessage{
			Title: "Good Progress!",
			Text:  "You're improving! Review your mistakes and keep going!",
		}
	default:
		return MotivationalMessage{
			Title: "Excellent Work!",
			Text:  "Outstanding performance! Keep up the great work!",
		}
	}
}
