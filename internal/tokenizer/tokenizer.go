// Package tokenizer approximates token counts for prompt and response text.
//
// The estimate averages a word-based count with a character-based count
// (roughly four characters per token). It does not reproduce any vendor's
// tokenizer and is only meant for usage tracking and cost estimates.
package tokenizer

import (
	"math"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the character-based heuristic used alongside word count.
const charsPerToken = 4.0

// Estimate returns the approximate number of tokens in text. Empty text
// yields 0; any other input yields at least 1.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	words := len(strings.Fields(text))
	if words == 0 {
		// Whitespace-only input still counts as a single (empty) word.
		words = 1
	}
	chars := utf8.RuneCountInString(text)

	estimated := int(math.Floor((float64(words)+float64(chars)/charsPerToken)/2 + 0.5))
	if estimated < 1 {
		return 1
	}
	return estimated
}
