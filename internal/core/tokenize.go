package core

import (
	"strings"
	"unicode"
)

// TokenizeText lowercases and splits on anything that is not a letter or
// digit. The same function runs at training and at inference time so the
// vocabulary in the artifact always matches what Predict sees.
func TokenizeText(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
