package redact

import (
	"fmt"
	"sort"
	"strings"
)

// TokenMap maps secrets to stable "<<TYPE_N>>" tokens and back. Use one
// map per generator call; it is not goroutine-safe.
type TokenMap struct {
	forward  map[string]string // secret → token
	reverse  map[string]string // token → secret
	counters map[PatternType]int
}

// NewTokenMap creates an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		forward:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[PatternType]int),
	}
}

// Token returns the token for value, allocating one on first use.
func (tm *TokenMap) Token(typ PatternType, value string) string {
	if tok, ok := tm.forward[value]; ok {
		return tok
	}
	tm.counters[typ]++
	tok := fmt.Sprintf("<<%s_%d>>", typ, tm.counters[typ])
	tm.forward[value] = tok
	tm.reverse[tok] = value
	return tok
}

// Resolve returns the secret behind a token.
func (tm *TokenMap) Resolve(token string) (string, bool) {
	v, ok := tm.reverse[token]
	return v, ok
}

// Len returns the number of mappings.
func (tm *TokenMap) Len() int {
	return len(tm.forward)
}

// values returns the secrets longest first, for greedy replacement.
func (tm *TokenMap) values() []string {
	vals := make([]string, 0, len(tm.forward))
	for v := range tm.forward {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		if len(vals[i]) != len(vals[j]) {
			return len(vals[i]) > len(vals[j])
		}
		return vals[i] < vals[j]
	})
	return vals
}

// Tokens returns all tokens, sorted.
func (tm *TokenMap) Tokens() []string {
	toks := make([]string, 0, len(tm.reverse))
	for t := range tm.reverse {
		toks = append(toks, t)
	}
	sort.Strings(toks)
	return toks
}

// Legend returns a prompt note listing the tokens, or "" when none were
// allocated.
func (tm *TokenMap) Legend() string {
	if len(tm.forward) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Secrets in the input are replaced with tokens. Keep each token verbatim in your diff:\n")
	for _, tok := range tm.Tokens() {
		fmt.Fprintf(&b, "  %s = [redacted]\n", tok)
	}
	return b.String()
}
