package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	appErrors "github.com/jordigilh/cardvault/internal/errors"
	"github.com/jordigilh/cardvault/pkg/cardmodel"
)

type fakeReader struct {
	bytes map[string][]byte
}

func (f *fakeReader) Get(ctx context.Context, key string) ([]byte, error) {
	b, ok := f.bytes[key]
	if !ok {
		return nil, appErrors.New(appErrors.ErrorTypeNotFound, "no such key")
	}
	return b, nil
}
func (f *fakeReader) PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, error) {
	return "", errors.New("not used")
}
func (f *fakeReader) Delete(ctx context.Context, key string) error { return nil }

type fakeDetector struct {
	labels []Label
	blocks []cardmodel.OCRBlock
}

func (f *fakeDetector) DetectLabels(ctx context.Context, image []byte, mime string) ([]Label, error) {
	return f.labels, nil
}
func (f *fakeDetector) DetectText(ctx context.Context, image []byte, mime string) ([]cardmodel.OCRBlock, error) {
	return f.blocks, nil
}

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

var _ = Describe("Extractor", func() {
	var (
		reader    *fakeReader
		logger    *logrus.Logger
		moderator *Moderator
	)

	BeforeEach(func() {
		reader = &fakeReader{bytes: map[string][]byte{"uploads/owner-1/front.png": pngBytes(100, 140)}}
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
		var err error
		moderator, err = NewModerator(context.Background())
		Expect(err).ToNot(HaveOccurred())
	})

	It("produces a valid FeatureEnvelope for a clean card image", func() {
		detector := &fakeDetector{
			labels: []Label{{Name: "card", Confidence: 0.9}, {Name: "text", Confidence: 0.85}},
			blocks: []cardmodel.OCRBlock{
				{Text: "Charizard", Confidence: 0.95, Type: cardmodel.BlockTypeLine,
					Box: cardmodel.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.3, Height: 0.05}},
			},
		}
		extractor := NewExtractor(reader, detector, moderator, logger)

		envelope, err := extractor.Extract(context.Background(), "owner-1", "uploads/owner-1/front.png")

		Expect(err).ToNot(HaveOccurred())
		Expect(envelope.Metadata.Width).To(Equal(100))
		Expect(envelope.Metadata.Height).To(Equal(140))
		Expect(envelope.OCRBlocks).To(HaveLen(1))
	})

	It("fails with InvalidContent when moderation blocks the image", func() {
		detector := &fakeDetector{labels: []Label{{Name: "violence", Confidence: 0.9}}}
		extractor := NewExtractor(reader, detector, moderator, logger)

		_, err := extractor.Extract(context.Background(), "owner-1", "uploads/owner-1/front.png")

		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeInvalidContent))
	})

	It("fails with InvalidContent when the image is not a card", func() {
		detector := &fakeDetector{labels: []Label{{Name: "person", Confidence: 0.95}}}
		extractor := NewExtractor(reader, detector, moderator, logger)

		_, err := extractor.Extract(context.Background(), "owner-1", "uploads/owner-1/front.png")

		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeInvalidContent))
	})

	It("processes front and back images independently without merging", func() {
		reader.bytes["uploads/owner-1/back.png"] = pngBytes(90, 130)
		detector := &fakeDetector{labels: []Label{{Name: "card", Confidence: 0.9}}}
		extractor := NewExtractor(reader, detector, moderator, logger)

		front, back, err := extractor.ExtractPair(context.Background(), "owner-1", "uploads/owner-1/front.png", "uploads/owner-1/back.png")

		Expect(err).ToNot(HaveOccurred())
		Expect(front.Metadata.Width).To(Equal(100))
		Expect(back.Metadata.Width).To(Equal(90))
	})

	It("refuses a key that does not belong to the requesting owner", func() {
		detector := &fakeDetector{labels: []Label{{Name: "card", Confidence: 0.9}}}
		extractor := NewExtractor(reader, detector, moderator, logger)

		_, err := extractor.Extract(context.Background(), "owner-2", "uploads/owner-1/front.png")

		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeValidation))
	})
})
