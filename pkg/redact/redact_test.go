package redact_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/switchboardhq/switchboard/pkg/redact"
)

var _ = Describe("Standard", func() {
	var redactor *redact.Standard

	BeforeEach(func() {
		redactor = redact.NewStandard()
	})

	Describe("card numbers", func() {
		Context("with Luhn-valid numbers", func() {
			It("redacts a plain 16-digit card", func() {
				out := redactor.Redact("my card is 4111111111111111 ok")
				Expect(out).To(Equal("my card is [REDACTED-CARD] ok"))
			})

			It("redacts a space-separated card", func() {
				out := redactor.Redact("card: 4111 1111 1111 1111")
				Expect(out).To(Equal("card: [REDACTED-CARD]"))
			})

			It("redacts a dash-separated card", func() {
				out := redactor.Redact("4111-1111-1111-1111")
				Expect(out).To(Equal("[REDACTED-CARD]"))
			})
		})

		Context("with digit runs that fail the Luhn check", func() {
			It("leaves them untouched", func() {
				out := redactor.Redact("order 1234 5678 9012 3456 shipped")
				Expect(out).To(Equal("order 1234 5678 9012 3456 shipped"))
			})
		})

		Context("with short digit runs", func() {
			It("leaves phone-number-length digits untouched", func() {
				out := redactor.Redact("call me at 555-123-4567")
				Expect(out).To(Equal("call me at 555-123-4567"))
			})
		})
	})

	Describe("social security numbers", func() {
		It("redacts the NNN-NN-NNNN shape", func() {
			out := redactor.Redact("ssn is 123-45-6789 thanks")
			Expect(out).To(Equal("ssn is [REDACTED-SSN] thanks"))
		})

		It("leaves undashed nine-digit numbers untouched", func() {
			out := redactor.Redact("reference 123456789")
			Expect(out).To(Equal("reference 123456789"))
		})
	})

	Describe("secrets", func() {
		It("redacts api_key assignments", func() {
			out := redactor.Redact("set api_key=sk-abc123 in your env")
			Expect(out).To(Equal("set [REDACTED-SECRET] in your env"))
		})

		It("redacts colon-separated tokens", func() {
			out := redactor.Redact("token: ghp_xxxxxxxxxxxx")
			Expect(out).To(Equal("[REDACTED-SECRET]"))
		})

		It("redacts passwords case-insensitively", func() {
			out := redactor.Redact("PASSWORD = hunter2")
			Expect(out).To(Equal("[REDACTED-SECRET]"))
		})

		It("leaves prose mentioning the word password untouched", func() {
			out := redactor.Redact("I forgot my password yesterday")
			Expect(out).To(Equal("I forgot my password yesterday"))
		})
	})

	Describe("mixed content", func() {
		It("redacts multiple kinds of values in one message", func() {
			out := redactor.Redact("card 4111111111111111, ssn 123-45-6789, secret=abc")
			Expect(out).To(ContainSubstring("[REDACTED-CARD]"))
			Expect(out).To(ContainSubstring("[REDACTED-SSN]"))
			Expect(out).To(ContainSubstring("[REDACTED-SECRET]"))
		})

		It("passes clean content through unchanged", func() {
			clean := "what's the weather in Boston?"
			Expect(redactor.Redact(clean)).To(Equal(clean))
		})
	})
})

var _ = Describe("Nop", func() {
	It("passes everything through unchanged", func() {
		content := "card 4111111111111111 and ssn 123-45-6789"
		Expect(redact.Nop{}.Redact(content)).To(Equal(content))
	})
})
