package schema

import (
	"strings"
	"unicode"
)

// SnakeCase converts an identifier to snake_case: "DataSet", "data-set" and
// "data set" all become "data_set".
func SnakeCase(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "_")
}

// PascalCase converts an identifier to PascalCase: "data_set" becomes
// "DataSet".
func PascalCase(s string) string {
	var b strings.Builder
	for _, w := range splitWords(s) {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// splitWords breaks s at separators, lower-to-upper transitions and the end
// of an upper-case run ("HTTPServer" -> "HTTP", "Server").
func splitWords(s string) []string {
	var (
		words   []string
		current []rune
	)
	runes := []rune(s)
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(current) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return words
}
