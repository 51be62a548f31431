package eventtrigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
)

func TestEventTrigger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Event Trigger Suite")
}

type fakeLedger struct {
	mu      sync.Mutex
	claimed map[string]bool
	err     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claimed: map[string]bool{}}
}

func (f *fakeLedger) Claim(ctx context.Context, requestID, ownerID, cardID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[requestID] {
		return false, nil
	}
	f.claimed[requestID] = true
	return true, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []ExecutionInput
	done  chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{done: make(chan struct{}, 16)}
}

func (f *fakeExecutor) Execute(ctx context.Context, in ExecutionInput) (cardmodel.CardRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	f.done <- struct{}{}
	return cardmodel.CardRecord{OwnerID: in.OwnerID, CardID: in.CardID}, nil
}

func (f *fakeExecutor) waitForCall() {
	select {
	case <-f.done:
	case <-time.After(time.Second):
	}
}

func postCardCreated(handler http.Handler, detail events.CardCreatedDetail) *httptest.ResponseRecorder {
	body, _ := json.Marshal(events.NewCardCreated(detail))
	req := httptest.NewRequest(http.MethodPost, "/events/card-created", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

var _ = Describe("Trigger.Router", func() {
	var (
		ledger   *fakeLedger
		executor *fakeExecutor
		trigger  *Trigger
		router   http.Handler
	)

	BeforeEach(func() {
		ledger = newFakeLedger()
		executor = newFakeExecutor()
		logger := logrus.New()
		logger.SetLevel(logrus.FatalLevel)
		trigger = New(ledger, executor, nil, logger)
		router = trigger.Router()
	})

	It("accepts a well-formed CardCreated event and starts an execution", func() {
		rr := postCardCreated(router, events.CardCreatedDetail{
			OwnerID: "owner-1", CardID: "card-1", FrontKey: "uploads/owner-1/front.jpg",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})

		Expect(rr.Code).To(Equal(http.StatusAccepted))
		executor.waitForCall()
		Expect(executor.calls).To(HaveLen(1))
		Expect(executor.calls[0].OwnerID).To(Equal("owner-1"))
		Expect(executor.calls[0].CardID).To(Equal("card-1"))
	})

	It("rejects an event missing ownerId with 400", func() {
		rr := postCardCreated(router, events.CardCreatedDetail{
			CardID: "card-1", FrontKey: "uploads/owner-1/front.jpg",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})

		Expect(rr.Code).To(Equal(http.StatusBadRequest))
		var body problem
		Expect(json.NewDecoder(rr.Body).Decode(&body)).To(Succeed())
		Expect(body.Detail).To(ContainSubstring("ownerId"))
	})

	It("discards a duplicate delivery of the same event without starting a second execution", func() {
		detail := events.CardCreatedDetail{
			OwnerID: "owner-1", CardID: "card-1", FrontKey: "uploads/owner-1/front.jpg",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		first := postCardCreated(router, detail)
		Expect(first.Code).To(Equal(http.StatusAccepted))
		executor.waitForCall()

		second := postCardCreated(router, detail)
		Expect(second.Code).To(Equal(http.StatusOK))

		Expect(executor.calls).To(HaveLen(1))
	})

	It("forwards optional hints into the orchestrator input", func() {
		name := "Charizard"
		rr := postCardCreated(router, events.CardCreatedDetail{
			OwnerID: "owner-1", CardID: "card-2", FrontKey: "uploads/owner-1/front2.jpg",
			Hints:     &events.CardCreatedHints{Name: name},
			Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		})

		Expect(rr.Code).To(Equal(http.StatusAccepted))
		executor.waitForCall()
		Expect(executor.calls).To(HaveLen(1))
		Expect(executor.calls[0].CardHints["name"]).To(ConsistOf(name))
	})

	It("reports healthy on /healthz", func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		Expect(rr.Code).To(Equal(http.StatusOK))
	})
})
