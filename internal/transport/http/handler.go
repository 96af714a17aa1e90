package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/domain"
)

// Error kinds carried in API error responses so clients can distinguish
// rejection classes without parsing messages.
const (
	kindValidation   = "validation"
	kindAttemptLimit = "attempt_limit"
	kindNotFound     = "not_found"
	kindServerError  = "server_error"
	kindUnauthorized = "unauthorized"
)

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

// UserCaches hands out one session cache per user so server-driven sessions
// survive reconnects the way browser-local storage survives reloads. The
// factory receives the user ID so shared backends (Redis) can scope their
// keys per user.
type UserCaches struct {
	factory func(userID string) app.SessionCache

	mu     sync.Mutex
	caches map[string]app.SessionCache
}

func NewUserCaches(factory func(userID string) app.SessionCache) *UserCaches {
	return &UserCaches{factory: factory, caches: make(map[string]app.SessionCache)}
}

func (u *UserCaches) For(userID string) app.SessionCache {
	u.mu.Lock()
	defer u.mu.Unlock()
	if cache, ok := u.caches[userID]; ok {
		return cache
	}
	cache := u.factory(userID)
	u.caches[userID] = cache
	return cache
}

// Handler exposes the attempt ledger REST API plus the read-only result and
// review endpoints. Identity arrives pre-authenticated in the X-User-ID
// header; the ledger trusts it and only ever touches that user's documents.
type Handler struct {
	ledger        *app.LedgerService
	testSets      app.TestSetRepository
	caches        *UserCaches
	remoteTimeout time.Duration
	reviewGate    bool
}

func NewHandler(ledger *app.LedgerService, testSets app.TestSetRepository, caches *UserCaches, remoteTimeout time.Duration, reviewGate bool) *Handler {
	return &Handler{
		ledger:        ledger,
		testSets:      testSets,
		caches:        caches,
		remoteTimeout: remoteTimeout,
		reviewGate:    reviewGate,
	}
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/test/progress", h.getAllProgress)
	mux.HandleFunc("GET /api/test/progress/{setId}", h.getProgress)
	mux.HandleFunc("POST /api/test/progress/{setId}", h.saveProgress)
	mux.HandleFunc("POST /api/test/submit/{setId}", h.submitTest)
	mux.HandleFunc("GET /api/test/stats", h.getStats)
	mux.HandleFunc("GET /api/test/results/{setId}", h.getResults)
	mux.HandleFunc("GET /api/test/review/{setId}", h.getReview)
}

func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	setID, ok := h.setID(w, r)
	if !ok {
		return
	}
	doc, err := h.ledger.GetProgress(r.Context(), userID, setID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"progress": doc})
}

func (h *Handler) getAllProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	docs, err := h.ledger.GetAllProgress(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"progress": docs})
}

func (h *Handler) saveProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	setID, ok := h.setID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status domain.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeKind(w, http.StatusBadRequest, kindValidation, "invalid request body")
		return
	}
	doc, err := h.ledger.SaveInProgress(r.Context(), userID, setID, body.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"progress": doc})
}

func (h *Handler) submitTest(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	setID, ok := h.setID(w, r)
	if !ok {
		return
	}
	var payload domain.AttemptPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeKind(w, http.StatusBadRequest, kindValidation, "invalid request body")
		return
	}
	doc, err := h.ledger.SubmitAttempt(r.Context(), userID, setID, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	data := map[string]interface{}{"progress": doc}
	if latest, ok := doc.LatestAttempt(); ok {
		data["attempt"] = latest
	}
	writeData(w, data)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	stats, err := h.ledger.GetStats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"stats": stats})
}

func (h *Handler) getResults(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	setID, ok := h.setID(w, r)
	if !ok {
		return
	}
	set, err := h.testSets.GetTestSet(r.Context(), setID)
	if err != nil {
		writeError(w, err)
		return
	}
	renderer, adapter := h.rendererFor(userID)
	view := adapter.FetchProgress(r.Context(), setID)
	if view.Status != domain.StatusCompleted {
		writeKind(w, http.StatusNotFound, kindNotFound, "test results not found")
		return
	}
	data := map[string]interface{}{
		"summary":          renderer.BuildSummary(set, view),
		"canRetake":        renderer.CanRetake(view),
		"canReviewAnswers": renderer.CanReviewAnswers(view),
	}
	if next, ok := renderer.NextAvailableSet(r.Context(), setID); ok {
		data["nextSetId"] = next
	}
	writeData(w, data)
}

func (h *Handler) getReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}
	setID, ok := h.setID(w, r)
	if !ok {
		return
	}
	set, err := h.testSets.GetTestSet(r.Context(), setID)
	if err != nil {
		writeError(w, err)
		return
	}
	renderer, adapter := h.rendererFor(userID)
	view := adapter.FetchProgress(r.Context(), setID)
	if view.Status != domain.StatusCompleted {
		writeKind(w, http.StatusNotFound, kindNotFound, "test results not found")
		return
	}
	if !renderer.CanReviewAnswers(view) {
		writeKind(w, http.StatusForbidden, kindAttemptLimit, "complete all attempts to review answers")
		return
	}
	writeData(w, map[string]interface{}{"review": renderer.BuildQuestionReview(set, view)})
}

// rendererFor builds the per-user review stack over an in-process ledger
// client, sharing the user's session cache with the websocket sessions.
func (h *Handler) rendererFor(userID string) (*app.ReviewRenderer, *app.SyncAdapter) {
	client := NewLocalLedgerClient(h.ledger, userID)
	adapter := app.NewSyncAdapter(client, h.caches.For(userID), h.remoteTimeout)
	return app.NewReviewRenderer(adapter, h.reviewGate), adapter
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeKind(w, http.StatusUnauthorized, kindUnauthorized, "missing user identity")
		return "", false
	}
	return userID, true
}

func (h *Handler) setID(w http.ResponseWriter, r *http.Request) (int, bool) {
	setID, err := strconv.Atoi(r.PathValue("setId"))
	if err != nil {
		writeKind(w, http.StatusBadRequest, kindValidation, domain.ErrInvalidSetID.Error())
		return 0, false
	}
	return setID, true
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeKind(w, http.StatusBadRequest, kindValidation, err.Error())
	case errors.Is(err, domain.ErrAttemptLimit):
		writeKind(w, http.StatusBadRequest, kindAttemptLimit, err.Error())
	case errors.Is(err, domain.ErrTestSetNotFound), errors.Is(err, domain.ErrProgressNotFound):
		writeKind(w, http.StatusNotFound, kindNotFound, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeKind(w, http.StatusInternalServerError, kindServerError, "server error")
	}
}

func writeKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, apiResponse{Success: false, Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}
