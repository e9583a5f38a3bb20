package scanning

import (
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BuildPrompt", func() {
	It("should append the OCR text after the instructions", func() {
		prompt := BuildPrompt("  Total: $12.50 Coffee Shop 2025-01-10\n")
		Expect(prompt).To(HavePrefix(transactionPrompt))
		Expect(prompt).To(HaveSuffix("Total: $12.50 Coffee Shop 2025-01-10"))
	})

	It("should cap long OCR text", func() {
		prompt := BuildPrompt(strings.Repeat("a", maxPromptText+100))
		Expect(len(prompt)).To(Equal(len(transactionPrompt) + maxPromptText))
	})

	It("should not split a multi-byte character when capping", func() {
		// "€" is three bytes, so the cap lands inside one
		text := strings.Repeat("a", maxPromptText-1) + strings.Repeat("€", 10)
		prompt := BuildPrompt(text)
		Expect(utf8.ValidString(prompt)).To(BeTrue())
		Expect(prompt).To(HaveSuffix(strings.Repeat("a", 10)))
	})
})
