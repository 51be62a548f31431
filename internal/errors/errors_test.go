package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Structured Errors Suite")
}

var _ = Describe("Structured Errors", func() {
	Describe("AppError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeValidation, "test message")

				Expect(err.Type).To(Equal(ErrorTypeValidation))
				Expect(err.Message).To(Equal("test message"))
				Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement the error interface", func() {
				err := New(ErrorTypeValidation, "test message")
				Expect(err.Error()).To(Equal("validation: test message"))
			})

			It("should include details in the error string when present", func() {
				err := New(ErrorTypeValidation, "test message").WithDetails("extra info")
				Expect(err.Error()).To(Equal("validation: test message (extra info)"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap an underlying error", func() {
				originalErr := stderrors.New("original error")
				wrapped := Wrap(originalErr, ErrorTypeDatabase, "operation failed")

				Expect(wrapped.Type).To(Equal(ErrorTypeDatabase))
				Expect(wrapped.Cause).To(Equal(originalErr))
				Expect(wrapped.Unwrap()).To(Equal(originalErr))
			})

			It("should format a wrapped error with arguments", func() {
				originalErr := stderrors.New("connection refused")
				wrapped := Wrapf(originalErr, ErrorTypeNetwork, "failed to connect to %s:%d", "adapter-1", 443)

				Expect(wrapped.Message).To(Equal("failed to connect to adapter-1:443"))
			})
		})
	})

	Describe("Pipeline error taxonomy (spec §7)", func() {
		DescribeTable("should map error types to HTTP status codes",
			func(t ErrorType, code int) {
				Expect(New(t, "x").StatusCode).To(Equal(code))
			},
			Entry("Transient", ErrorTypeTransient, http.StatusServiceUnavailable),
			Entry("InvalidInput", ErrorTypeInvalidInput, http.StatusBadRequest),
			Entry("InvalidContent", ErrorTypeInvalidContent, http.StatusUnprocessableEntity),
			Entry("NotFound", ErrorTypeNotFound, http.StatusNotFound),
			Entry("SchemaViolation", ErrorTypeSchemaViolation, http.StatusUnprocessableEntity),
			Entry("DeadlineExceeded", ErrorTypeDeadlineExceeded, http.StatusGatewayTimeout),
			Entry("PermissionDenied", ErrorTypePermissionDenied, http.StatusForbidden),
		)

		DescribeTable("should classify retryability per spec §4.1 retry predicate",
			func(t ErrorType, retryable bool) {
				Expect(IsRetryable(New(t, "x"))).To(Equal(retryable))
			},
			Entry("Transient is retryable", ErrorTypeTransient, true),
			Entry("Timeout is retryable", ErrorTypeTimeout, true),
			Entry("RateLimit is retryable", ErrorTypeRateLimit, true),
			Entry("DeadlineExceeded is retryable up to stage limit", ErrorTypeDeadlineExceeded, true),
			Entry("InvalidInput is never retried", ErrorTypeInvalidInput, false),
			Entry("InvalidContent is never retried", ErrorTypeInvalidContent, false),
			Entry("SchemaViolation is never retried", ErrorTypeSchemaViolation, false),
			Entry("PermissionDenied is never retried", ErrorTypePermissionDenied, false),
			Entry("NotFound is never retried", ErrorTypeNotFound, false),
		)
	})

	Describe("Error type checking", func() {
		It("should correctly identify error types", func() {
			validationErr := NewValidationError("test")
			authErr := NewAuthError("test")

			Expect(IsType(validationErr, ErrorTypeValidation)).To(BeTrue())
			Expect(IsType(validationErr, ErrorTypeAuth)).To(BeFalse())
			Expect(IsType(authErr, ErrorTypeAuth)).To(BeTrue())
		})

		It("should treat non-AppError values as internal", func() {
			regular := stderrors.New("regular error")
			Expect(IsType(regular, ErrorTypeValidation)).To(BeFalse())
			Expect(GetType(regular)).To(Equal(ErrorTypeInternal))
			Expect(GetStatusCode(regular)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Safe error messages", func() {
		It("should pass validation messages through unchanged", func() {
			err := NewValidationError("collector number must be positive")
			Expect(SafeErrorMessage(err)).To(Equal("collector number must be positive"))
		})

		It("should not leak details for internal classes", func() {
			err := Wrapf(stderrors.New("leaked dsn"), ErrorTypeDatabase, "query failed").WithDetails("secret stuff")
			Expect(SafeErrorMessage(err)).To(Equal("An internal error occurred"))
		})

		It("should return a generic message for plain errors", func() {
			Expect(SafeErrorMessage(stderrors.New("panic"))).To(Equal("An unexpected error occurred"))
		})
	})

	Describe("Logging fields", func() {
		It("should generate structured fields with cause and details", func() {
			fields := LogFields(Wrapf(stderrors.New("conn refused"), ErrorTypeDatabase, "query failed").WithDetails("table: cards"))

			Expect(fields).To(HaveKeyWithValue("error_type", "database"))
			Expect(fields).To(HaveKeyWithValue("error_details", "table: cards"))
			Expect(fields).To(HaveKeyWithValue("underlying_error", "conn refused"))
		})

		It("should omit optional keys when absent", func() {
			fields := LogFields(NewValidationError("bad input"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})
	})

	Describe("Error chaining", func() {
		It("returns nil for no errors", func() {
			Expect(Chain()).To(BeNil())
		})

		It("returns the single error unwrapped", func() {
			e := stderrors.New("single")
			Expect(Chain(e)).To(Equal(e))
		})

		It("filters nils and joins the rest", func() {
			e1, e2 := stderrors.New("first"), stderrors.New("second")
			chained := Chain(e1, nil, e2, nil)

			Expect(chained.Error()).To(ContainSubstring("first"))
			Expect(chained.Error()).To(ContainSubstring("second"))
			Expect(chained.Error()).To(ContainSubstring(" -> "))
		})
	})
})
