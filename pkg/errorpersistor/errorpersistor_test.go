package errorpersistor

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
	"github.com/jordigilh/cardvault/pkg/events"
)

func TestErrorPersistor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Error Persistor Suite")
}

type fakeGateway struct {
	updatedMetadata     *cardmodel.CardMetadata
	updatedPricing      *cardmodel.PricingResult
	updatedAuthenticity *cardmodel.AuthenticityResult
	updateCalled        bool

	recordedError string
	recordCalled  bool

	deletedOwnerID, deletedCardID string
	deletedMode                   DeleteMode
	deleteCalled                  bool
}

func (f *fakeGateway) Update(ctx context.Context, ownerID, cardID string, metadata *cardmodel.CardMetadata, pricing *cardmodel.PricingResult, authenticity *cardmodel.AuthenticityResult) error {
	f.updateCalled = true
	f.updatedMetadata = metadata
	f.updatedPricing = pricing
	f.updatedAuthenticity = authenticity
	return nil
}

func (f *fakeGateway) RecordError(ctx context.Context, ownerID, cardID, errorDetail string) error {
	f.recordCalled = true
	f.recordedError = errorDetail
	return nil
}

func (f *fakeGateway) Delete(ctx context.Context, ownerID, cardID string, mode DeleteMode) error {
	f.deleteCalled = true
	f.deletedOwnerID = ownerID
	f.deletedCardID = cardID
	f.deletedMode = mode
	return nil
}

type fakeQueue struct {
	published []events.DeadLetterMessage
}

func (f *fakeQueue) Publish(ctx context.Context, msg events.DeadLetterMessage) error {
	f.published = append(f.published, msg)
	return nil
}

type fakeNotifier struct {
	notified []events.DeadLetterMessage
}

func (f *fakeNotifier) Notify(ctx context.Context, msg events.DeadLetterMessage) error {
	f.notified = append(f.notified, msg)
	return nil
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

var _ = Describe("Persistor.Persist", func() {
	It("writes partial outputs, stamps lastError, and publishes a dead-letter message", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		notifier := &fakeNotifier{}
		p := New(gw, queue, notifier, silentLogger())

		metadata := cardmodel.CardMetadata{OverallConfidence: 0.5}
		report := cardmodel.ErrorReport{
			RequestID: "owner-1#card-1#1700000000000000000",
			OwnerID:   "owner-1", CardID: "card-1", FailedStage: "Aggregate",
			ErrorKind: string(appErrors.ErrorTypeConflict), ErrorDetail: "owner changed concurrently",
			Metadata: &metadata,
		}

		err := p.Persist(context.Background(), report)

		Expect(err).ToNot(HaveOccurred())
		Expect(gw.updateCalled).To(BeTrue())
		Expect(gw.updatedMetadata).To(Equal(&metadata))
		Expect(gw.recordCalled).To(BeTrue())
		Expect(gw.recordedError).To(Equal("owner changed concurrently"))
		Expect(queue.published).To(HaveLen(1))
		Expect(queue.published[0].RequestID).To(Equal("owner-1#card-1#1700000000000000000"))
		Expect(queue.published[0].FailedStage).To(Equal("Aggregate"))
		Expect(notifier.notified).To(HaveLen(1))
		Expect(gw.deleteCalled).To(BeFalse())
	})

	It("skips the partial-output write when nothing was produced", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		p := New(gw, queue, nil, silentLogger())

		report := cardmodel.ErrorReport{
			OwnerID: "owner-1", CardID: "card-1", FailedStage: extractFeaturesStage,
			ErrorKind: string(appErrors.ErrorTypeTransient), ErrorDetail: "object store unavailable",
		}

		err := p.Persist(context.Background(), report)

		Expect(err).ToNot(HaveOccurred())
		Expect(gw.updateCalled).To(BeFalse())
		Expect(gw.recordCalled).To(BeTrue())
	})

	It("tolerates a nil Notifier", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		p := New(gw, queue, nil, silentLogger())

		report := cardmodel.ErrorReport{
			OwnerID: "owner-1", CardID: "card-1", FailedStage: "ReasonOCR",
			ErrorKind: string(appErrors.ErrorTypeTimeout), ErrorDetail: "reasoning agent timed out",
		}

		Expect(p.Persist(context.Background(), report)).To(Succeed())
	})

	It("hard-deletes the record when InvalidContent originates at ExtractFeatures", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		p := New(gw, queue, nil, silentLogger())

		report := cardmodel.ErrorReport{
			OwnerID: "owner-1", CardID: "card-1", FailedStage: extractFeaturesStage,
			ErrorKind: string(appErrors.ErrorTypeInvalidContent), ErrorDetail: "image is not a trading card",
		}

		err := p.Persist(context.Background(), report)

		Expect(err).ToNot(HaveOccurred())
		Expect(gw.deleteCalled).To(BeTrue())
		Expect(gw.deletedOwnerID).To(Equal("owner-1"))
		Expect(gw.deletedCardID).To(Equal("card-1"))
		Expect(gw.deletedMode).To(Equal(DeleteModeHard))
	})

	It("does not hard-delete when InvalidContent originates at a later stage", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		p := New(gw, queue, nil, silentLogger())

		report := cardmodel.ErrorReport{
			OwnerID: "owner-1", CardID: "card-1", FailedStage: "VerifyAuthenticity",
			ErrorKind: string(appErrors.ErrorTypeInvalidContent), ErrorDetail: "unexpected content rejection",
		}

		err := p.Persist(context.Background(), report)

		Expect(err).ToNot(HaveOccurred())
		Expect(gw.deleteCalled).To(BeFalse())
	})

	It("derives partialStages from whichever outputs the report carries", func() {
		gw := &fakeGateway{}
		queue := &fakeQueue{}
		p := New(gw, queue, nil, silentLogger())

		pricing := cardmodel.PricingResult{CompsCount: 2}
		report := cardmodel.ErrorReport{
			OwnerID: "owner-1", CardID: "card-1", FailedStage: "VerifyAuthenticity",
			ErrorKind: string(appErrors.ErrorTypeNetwork), ErrorDetail: "image fetch failed",
			Pricing: &pricing,
		}

		Expect(p.Persist(context.Background(), report)).To(Succeed())
		Expect(queue.published[0].PartialStages).To(ConsistOf("PriceCard"))
	})
})
