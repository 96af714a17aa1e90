package domain

import "errors"

var (
	// ErrValidation is the base for request validation failures; remote
	// clients that only know the error kind wrap this one.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidSetID is returned for set IDs outside the catalog range.
	ErrInvalidSetID = errors.New("invalid test set id")
	// ErrInvalidScore is returned when a submitted score is outside [0,100].
	ErrInvalidScore = errors.New("invalid score")
	// ErrInvalidStatus is returned when a client supplies a status the
	// server does not accept from clients.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrAttemptLimit is returned when all attempts for a set are used up.
	ErrAttemptLimit = errors.New("maximum attempts reached")
	// ErrAnswerRequired is returned when marking an unanswered question for review.
	ErrAnswerRequired = errors.New("answer required before marking for review")
	// ErrSessionFinalized is returned when mutating a finalized session.
	ErrSessionFinalized = errors.New("session already finalized")
	// ErrTestSetNotFound indicates the test set content could not be loaded.
	ErrTestSetNotFound = errors.New("test set not found")
	// ErrQuestionNotFound indicates a question ID outside the current set.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrProgressNotFound indicates no progress document exists yet.
	ErrProgressNotFound = errors.New("progress not found")
)

// IsValidation reports whether err is a request validation failure, as
// opposed to an attempt-limit or infrastructure error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidSetID) || errors.Is(err, ErrInvalidScore) || errors.Is(err, ErrInvalidStatus)
}
