package objectstore

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

func TestObjectStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Object Store Reader Suite")
}

var _ = Describe("NewClient", func() {
	It("rejects an empty bucket before touching AWS", func() {
		_, err := NewClient(context.Background(), config.ObjectStoreConfig{}, config.UploadConfig{})
		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeValidation))
	})
})

var _ = Describe("PresignPut", func() {
	var upload config.UploadConfig

	BeforeEach(func() {
		upload = config.UploadConfig{
			MaxSizeBytes: 12 * 1024 * 1024,
			AllowedMime:  []string{"image/jpeg", "image/png", "image/heic"},
			PresignTTL:   60 * time.Second,
		}
	})

	It("rejects a disallowed content type without calling AWS", func() {
		c := &Client{bucket: "cards", upload: upload}

		_, err := c.PresignPut(context.Background(), "owner/front.gif", "image/gif", 1024)

		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeInvalidContent))
		Expect(err.Error()).To(ContainSubstring("not allowed"))
	})

	It("rejects a declared size over the configured cap", func() {
		c := &Client{bucket: "cards", upload: upload}

		_, err := c.PresignPut(context.Background(), "owner/front.jpg", "image/jpeg", 13*1024*1024)

		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeInvalidContent))
		Expect(err.Error()).To(ContainSubstring("exceeds the maximum upload size"))
	})
})

var _ = Describe("mimeAllowed", func() {
	It("accepts exactly the configured allowlist", func() {
		c := &Client{upload: config.UploadConfig{AllowedMime: []string{"image/jpeg", "image/png"}}}

		Expect(c.mimeAllowed("image/jpeg")).To(BeTrue())
		Expect(c.mimeAllowed("image/png")).To(BeTrue())
		Expect(c.mimeAllowed("image/gif")).To(BeFalse())
		Expect(c.mimeAllowed("")).To(BeFalse())
	})
})
