package vision

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestVision(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Vision Feature Extractor Suite")
}

var _ = Describe("Moderator", func() {
	var moderator *Moderator

	BeforeEach(func() {
		var err error
		moderator, err = NewModerator(context.Background())
		Expect(err).ToNot(HaveOccurred())
	})

	It("blocks an image with a high-confidence blocklist label", func() {
		blocked, notACard, err := moderator.Evaluate(context.Background(), []Label{
			{Name: "violence", Confidence: 0.9},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(blocked).To(BeTrue())
		Expect(notACard).To(BeFalse())
	})

	It("does not block a blocklist label below the confidence threshold", func() {
		blocked, _, err := moderator.Evaluate(context.Background(), []Label{
			{Name: "violence", Confidence: 0.5},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(blocked).To(BeFalse())
	})

	It("rejects a strong non-card label with no positive card label", func() {
		_, notACard, err := moderator.Evaluate(context.Background(), []Label{
			{Name: "person", Confidence: 0.95},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(notACard).To(BeTrue())
	})

	It("accepts a strong non-card label when a positive card label is also present", func() {
		_, notACard, err := moderator.Evaluate(context.Background(), []Label{
			{Name: "person", Confidence: 0.95},
			{Name: "card", Confidence: 0.8},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(notACard).To(BeFalse())
	})

	It("accepts a clean trading-card image", func() {
		blocked, notACard, err := moderator.Evaluate(context.Background(), []Label{
			{Name: "card", Confidence: 0.9},
			{Name: "text", Confidence: 0.85},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(blocked).To(BeFalse())
		Expect(notACard).To(BeFalse())
	})
})
