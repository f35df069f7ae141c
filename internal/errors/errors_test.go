package errors

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

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
				originalErr := errors.New("original error")
				wrapped := Wrap(originalErr, ErrorTypeDatabase, "operation failed")

				Expect(wrapped.Type).To(Equal(ErrorTypeDatabase))
				Expect(wrapped.Cause).To(Equal(originalErr))
				Expect(wrapped.Unwrap()).To(Equal(originalErr))
			})

			It("should format wrapped errors with arguments", func() {
				originalErr := errors.New("connection refused")
				wrapped := Wrapf(originalErr, ErrorTypeNetwork, "failed to connect to %s:%d", "localhost", 5432)

				Expect(wrapped.Message).To(Equal("failed to connect to localhost:5432"))
			})
		})

		Context("adding details", func() {
			It("should mutate in place", func() {
				err := New(ErrorTypeAuth, "authentication failed")
				detailed := err.WithDetails("invalid token")

				Expect(detailed.Details).To(Equal("invalid token"))
				Expect(detailed).To(BeIdenticalTo(err))
			})
		})
	})

	Describe("HTTP status code mapping", func() {
		It("maps each error type to a status code", func() {
			cases := []struct {
				t    ErrorType
				code int
			}{
				{ErrorTypeValidation, http.StatusBadRequest},
				{ErrorTypeAuth, http.StatusUnauthorized},
				{ErrorTypeNotFound, http.StatusNotFound},
				{ErrorTypeConflict, http.StatusConflict},
				{ErrorTypeTimeout, http.StatusRequestTimeout},
				{ErrorTypeRateLimit, http.StatusTooManyRequests},
				{ErrorTypeDatabase, http.StatusInternalServerError},
				{ErrorTypePoolExhausted, http.StatusServiceUnavailable},
				{ErrorTypeCircuitOpen, http.StatusServiceUnavailable},
				{ErrorTypeEmbedding, http.StatusServiceUnavailable},
				{ErrorTypeCancelled, http.StatusRequestTimeout},
				{ErrorTypeConfig, http.StatusInternalServerError},
			}
			for _, tc := range cases {
				Expect(New(tc.t, "x").StatusCode).To(Equal(tc.code))
			}
		})
	})

	Describe("predefined constructors", func() {
		It("creates a not-found error", func() {
			err := NewNotFoundError("episode")
			Expect(err.Type).To(Equal(ErrorTypeNotFound))
			Expect(err.Message).To(Equal("episode not found"))
		})

		It("creates a database error", func() {
			cause := errors.New("connection lost")
			err := NewDatabaseError("query", cause)
			Expect(err.Message).To(ContainSubstring("database operation failed: query"))
			Expect(err.Cause).To(Equal(cause))
		})

		It("creates a circuit-open error", func() {
			err := NewCircuitOpenError("durable-store")
			Expect(err.Type).To(Equal(ErrorTypeCircuitOpen))
		})
	})

	Describe("type checking", func() {
		It("identifies error types correctly", func() {
			validationErr := NewValidationError("test")
			Expect(IsType(validationErr, ErrorTypeValidation)).To(BeTrue())
			Expect(IsType(validationErr, ErrorTypeAuth)).To(BeFalse())
		})

		It("handles plain errors", func() {
			regular := errors.New("regular error")
			Expect(IsType(regular, ErrorTypeValidation)).To(BeFalse())
			Expect(GetType(regular)).To(Equal(ErrorTypeInternal))
			Expect(GetStatusCode(regular)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("safe error messages", func() {
		It("passes validation messages through", func() {
			err := NewValidationError("specific validation message")
			Expect(SafeErrorMessage(err)).To(Equal("specific validation message"))
		})

		It("replaces other kinds with a generic message", func() {
			err := New(ErrorTypeDatabase, "internal details that mention a password")
			Expect(SafeErrorMessage(err)).To(Equal("An internal error occurred"))
		})

		It("handles plain errors", func() {
			Expect(SafeErrorMessage(errors.New("boom"))).To(Equal("An unexpected error occurred"))
		})
	})

	Describe("LogFields", func() {
		It("includes cause and details when present", func() {
			cause := errors.New("connection failed")
			appErr := Wrapf(cause, ErrorTypeDatabase, "query failed").WithDetails("table: episodes")

			fields := LogFields(appErr)
			Expect(fields["error_type"]).To(Equal("database"))
			Expect(fields["error_details"]).To(Equal("table: episodes"))
			Expect(fields["underlying_error"]).To(Equal("connection failed"))
		})

		It("omits optional keys when absent", func() {
			fields := LogFields(NewValidationError("bad input"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})
	})

	Describe("Chain", func() {
		It("returns nil for no errors", func() {
			Expect(Chain()).To(BeNil())
			Expect(Chain(nil, nil)).To(BeNil())
		})

		It("returns the single error unchanged", func() {
			err := errors.New("single")
			Expect(Chain(err)).To(Equal(err))
		})

		It("joins multiple errors with an arrow", func() {
			err := Chain(errors.New("first"), nil, errors.New("second"))
			Expect(err.Error()).To(ContainSubstring("first"))
			Expect(err.Error()).To(ContainSubstring("second"))
			Expect(err.Error()).To(ContainSubstring(" -> "))
		})
	})
})
