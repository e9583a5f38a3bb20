package scanning

import (
	"strings"
	"unicode/utf8"
)

// maxPromptText caps the OCR text sent to the model
const maxPromptText = 6000

// transactionPrompt is the shared instruction used by every completion provider
const transactionPrompt = `You are extracting spending transactions from the OCR text of a receipt.

Return ONLY a JSON array. Each element must be an object with exactly these keys:
  "description": short text naming the merchant or purchase, e.g. "Coffee Shop"
  "amount": the amount paid as a number with two decimals, e.g. 12.50 (no currency symbol)
  "currency": the ISO 4217 currency code, e.g. "USD"; use "USD" if it is not shown
  "date": the transaction date in YYYY-MM-DD format

Rules:
- Return one element per distinct charge. A normal receipt is a single element using the final total.
- If nothing on the receipt is a transaction, return [].
- Do not include any text before or after the JSON array.
- Do not use markdown code blocks.

OCR text:
`

// BuildPrompt renders the fixed instruction prompt for the given OCR text
func BuildPrompt(ocrText string) string {
	text := strings.TrimSpace(ocrText)
	if len(text) > maxPromptText {
		cut := maxPromptText
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	var b strings.Builder
	b.Grow(len(transactionPrompt) + len(text))
	b.WriteString(transactionPrompt)
	b.WriteString(text)
	return b.String()
}
