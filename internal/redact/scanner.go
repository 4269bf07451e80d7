package redact

import (
	"regexp"
	"sort"
)

// PatternType identifies the category of secret.
type PatternType string

const (
	PatternCred PatternType = "CRED"
	PatternKey  PatternType = "KEY"
)

// Match is a single occurrence of a secret in text.
type Match struct {
	Type  PatternType
	Value string
	Start int
	End   int
}

var (
	// Quoted literal assigned to a secret-sounding name. Group 1 is the value.
	credKVRe = regexp.MustCompile(`(?i)(?:password|passwd|secret|token|api_?key|access_?key|auth)\w*["']?[ \t]*[=:][ \t]*["']([^"'\s]{8,})["']`)

	// Provider key formats.
	keyRes = []*regexp.Regexp{
		regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`\bsk-[A-Za-z0-9]{32,}\b`),
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9\-]{10,}`),
	}

	// PEM private key blocks, header to footer.
	pemRe = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)
)

// Scan finds secrets in text and returns deduplicated matches sorted by
// position.
func Scan(text string) []Match {
	seen := make(map[string]bool)
	var matches []Match

	add := func(typ PatternType, start, end int) {
		value := text[start:end]
		if value == "" || seen[value] {
			return
		}
		seen[value] = true
		matches = append(matches, Match{Type: typ, Value: value, Start: start, End: end})
	}

	for _, loc := range pemRe.FindAllStringIndex(text, -1) {
		add(PatternKey, loc[0], loc[1])
	}
	for _, re := range keyRes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			add(PatternKey, loc[0], loc[1])
		}
	}
	for _, sub := range credKVRe.FindAllStringSubmatchIndex(text, -1) {
		if sub[2] >= 0 {
			add(PatternCred, sub[2], sub[3])
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Start < matches[j].Start
	})
	return matches
}
