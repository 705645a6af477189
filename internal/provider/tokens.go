package provider

import "strings"

// CountWords approximates tokens as whitespace-separated words, minimum 1.
func CountWords(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(strings.Fields(text)))
}

// CountQuarterBytes approximates tokens as one per four bytes, minimum 1.
func CountQuarterBytes(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}
