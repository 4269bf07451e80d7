// Package redact replaces secrets in generator prompts with tokens and
// restores them in generator output.
package redact

import "strings"

// Redact replaces every secret Scan finds in text with its token in tm.
// Longer secrets are replaced first so an embedded secret never splits a
// longer one.
func Redact(text string, tm *TokenMap) string {
	matches := Scan(text)
	if len(matches) == 0 {
		return text
	}
	for _, m := range matches {
		tm.Token(m.Type, m.Value)
	}
	result := text
	for _, val := range tm.values() {
		result = strings.ReplaceAll(result, val, tm.forward[val])
	}
	return result
}

// Detoken replaces every token in text with its secret.
func Detoken(text string, tm *TokenMap) string {
	if tm.Len() == 0 {
		return text
	}
	result := text
	for _, tok := range tm.Tokens() {
		val, _ := tm.Resolve(tok)
		result = strings.ReplaceAll(result, tok, val)
	}
	return result
}
