package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vlat-exam-service/internal/app"
	"vlat-exam-service/internal/domain"
)

// WSHandler runs interactive mock-test sessions over a websocket. One
// connection drives one SessionController; the server owns the countdown and
// pushes ticks, autosaves, and the finalization result to the client.
type WSHandler struct {
	ledger          *app.LedgerService
	testSets        app.TestSetRepository
	caches          *UserCaches
	sessionDuration int
	remoteTimeout   time.Duration
	upgrader        websocket.Upgrader
}

func NewWSHandler(ledger *app.LedgerService, testSets app.TestSetRepository, caches *UserCaches, sessionDuration int, remoteTimeout time.Duration) *WSHandler {
	return &WSHandler{
		ledger:          ledger,
		testSets:        testSets,
		caches:          caches,
		sessionDuration: sessionDuration,
		remoteTimeout:   remoteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type selectAnswerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type markPayload struct {
	QuestionID string `json:"questionId"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type sessionOpened struct {
	Restored bool                `json:"restored"`
	State    domain.SessionState `json:"state"`
	Question domain.Question     `json:"question"`
}

type tickPayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

type navigatedPayload struct {
	Index    int             `json:"index"`
	Question domain.Question `json:"question"`
}

type finalizedPayload struct {
	Score            int                  `json:"score"`
	TimeSpentSeconds int                  `json:"timeSpent"`
	AutoSubmitted    bool                 `json:"autoSubmitted"`
	Confirmed        bool                 `json:"confirmed"`
	Progress         *domain.ProgressView `json:"progress,omitempty"`
	Message          MotivationalMessage  `json:"message"`
}

// MotivationalMessage aliases the app type so the wire schema stays in one package.
type MotivationalMessage = app.MotivationalMessage

// ServeWS upgrades the request and drives an exam session until submission,
// timer expiry, or disconnect. Disconnects do not lose work: state is cached
// after every mutation and restored on the next connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	setID, err := strconv.Atoi(r.URL.Query().Get("setId"))
	userID := r.URL.Query().Get("userId")
	if err != nil || userID == "" {
		http.Error(w, "missing or invalid setId or userId", http.StatusBadRequest)
		return
	}

	set, err := h.testSets.GetTestSet(r.Context(), setID)
	if err != nil {
		status := http.StatusInternalServerError
		if domain.IsValidation(err) || errors.Is(err, domain.ErrTestSetNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := NewLocalLedgerClient(h.ledger, userID)
	adapter := app.NewSyncAdapter(client, h.caches.For(userID), h.remoteTimeout)

	view := adapter.FetchProgress(r.Context(), setID)
	if view.AttemptsCount >= view.MaxAttempts {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: domain.ErrAttemptLimit.Error()}})
		return
	}
	adapter.SaveInProgress(r.Context(), setID)

	controller := app.NewSessionController(set, h.caches.For(userID), adapter, h.sessionDuration)
	restored, err := controller.Open()
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	tickerDone := make(chan struct{})

	// Exactly one "finalized" frame goes out, whether the session ends by
	// submit, by timer expiry, or by both racing.
	var finalizedSent atomic.Bool

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// emit never blocks past the writer's lifetime: a dead writer drains
	// nothing, so a bare channel send could hang the read loop forever.
	emit := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	go func() {
		defer close(tickerDone)
		controller.Run(runCtx, func(remaining int, finalized bool, view *domain.ProgressView) {
			var msg outboundMessage[any]
			if finalized {
				if !finalizedSent.CompareAndSwap(false, true) {
					return
				}
				msg = outboundMessage[any]{Type: "finalized", Payload: h.finalizedPayload(controller, view, true)}
			} else {
				msg = outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingSeconds: remaining}}
			}
			select {
			case send <- msg:
			case <-closeSignals:
			case <-writerDone:
			}
		})
	}()

	emit(outboundMessage[any]{Type: "session", Payload: sessionOpened{
		Restored: restored,
		State:    controller.State(),
		Question: controller.CurrentQuestion(),
	}})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload selectAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			if err := controller.SelectAnswer(payload.QuestionID, payload.OptionID); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			emit(outboundMessage[any]{Type: "answerSaved", Payload: payload})
		case "mark":
			var payload markPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid mark payload"}})
				continue
			}
			if err := controller.ToggleMark(payload.QuestionID); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			emit(outboundMessage[any]{Type: "marked", Payload: controller.State()})
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}})
				continue
			}
			index := controller.Navigate(payload.Index)
			emit(outboundMessage[any]{Type: "navigated", Payload: navigatedPayload{
				Index:    index,
				Question: controller.CurrentQuestion(),
			}})
		case "summary":
			emit(outboundMessage[any]{Type: "summary", Payload: controller.Summary()})
		case "submit":
			view, err := controller.Submit(r.Context())
			if err != nil {
				emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			cancelRun()
			if finalizedSent.CompareAndSwap(false, true) {
				emit(outboundMessage[any]{Type: "finalized", Payload: h.finalizedPayload(controller, view, false)})
			}
		default:
			emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	cancelRun()
	close(closeSignals)
	<-tickerDone
	close(send)
	<-writerDone
}

func (h *WSHandler) finalizedPayload(controller *app.SessionController, view *domain.ProgressView, auto bool) finalizedPayload {
	payload, confirmedView, ok := controller.Result()
	if !ok {
		return finalizedPayload{AutoSubmitted: auto}
	}
	if view == nil {
		view = confirmedView
	}
	return finalizedPayload{
		Score:            payload.Score,
		TimeSpentSeconds: payload.TimeSpentSeconds,
		AutoSubmitted:    auto,
		Confirmed:        view != nil,
		Progress:         view,
		Message:          app.MessageForScore(payload.Score),
	}
}
