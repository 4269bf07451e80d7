package laneexec

import (
	"regexp"
	"strings"
)

var fencedDiff = regexp.MustCompile("(?s)```(?:diff|patch)[ \\t]*\\r?\\n(.*?)```")

// ExtractDiff pulls a unified diff out of free text. Fenced ```diff
// blocks win; multiple blocks are concatenated. Otherwise the text from the
// first "--- " line that is followed by a "+++ " line is taken, up to the
// first line that cannot belong to a diff. Returns "" when nothing is found.
func ExtractDiff(text string) string {
	if blocks := fencedDiff.FindAllStringSubmatch(text, -1); len(blocks) > 0 {
		var b strings.Builder
		for _, m := range blocks {
			body := m[1]
			if body != "" && !strings.HasSuffix(body, "\n") {
				body += "\n"
			}
			b.WriteString(body)
		}
		return b.String()
	}
	return scanDiff(text)
}

func scanDiff(text string) string {
	lines := strings.SplitAfter(text, "\n")
	start := -1
	for i := 0; i+1 < len(lines); i++ {
		if strings.HasPrefix(lines[i], "--- ") && strings.HasPrefix(lines[i+1], "+++ ") {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := start
	for end < len(lines) && diffLine(lines[end]) {
		end++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	out := strings.Join(lines[start:end], "")
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func diffLine(line string) bool {
	trimmed := strings.TrimRight(line, "\r\n")
	if trimmed == "" {
		// Blank context lines occur in hand-written diffs.
		return line != ""
	}
	switch trimmed[0] {
	case ' ', '+', '-', '@', '\\':
		return true
	}
	return strings.HasPrefix(trimmed, "diff ") || strings.HasPrefix(trimmed, "index ") ||
		strings.HasPrefix(trimmed, "new file mode") || strings.HasPrefix(trimmed, "deleted file mode")
}
