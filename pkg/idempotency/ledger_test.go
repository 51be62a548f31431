package idempotency

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/cardvault/internal/config"
	appErrors "github.com/jordigilh/cardvault/internal/errors"
)

func TestIdempotency(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Idempotency Ledger Suite")
}

var _ = Describe("NewLedger", func() {
	It("rejects an empty DSN before touching the network", func() {
		_, err := NewLedger(context.Background(), config.IdempotencyConfig{})
		Expect(err).To(HaveOccurred())
		Expect(appErrors.GetType(err)).To(Equal(appErrors.ErrorTypeValidation))
	})
})
