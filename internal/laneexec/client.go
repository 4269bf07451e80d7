package laneexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/redact"
)

// ErrNoPatch is returned when a read-only lane response holds no diff.
var ErrNoPatch = errors.New("laneexec: response contains no unified diff")

const codexSystemPrompt = `You are operating in the codex lane of a dual-lane pipeline.
You are READ-ONLY. You must not write, edit, delete, move or commit anything.
Propose the change as a single unified diff inside a fenced diff block.
You may only use these tools: {{join .Tools ", "}}`

const claudeSystemPrompt = `You are operating in the claude lane of a dual-lane pipeline.
You apply a patch that has already been verified. Do not change anything
the patch does not touch. Work on a branch starting with {{.BranchPrefix}}.
Report each applied file on its own line as "APPLIED: <path>".`

const codexUserPrompt = `Task: {{.Task}}
Target file: {{.Target}}{{with .Legend}}

{{.}}{{end}}`

const claudeUserPrompt = `Task: {{.Task}}

Apply this patch:
{{.Patch}}{{with .Legend}}

{{.}}{{end}}`

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`{{define "codex.system"}}` + codexSystemPrompt + `{{end}}` +
	`{{define "claude.system"}}` + claudeSystemPrompt + `{{end}}` +
	`{{define "codex.user"}}` + codexUserPrompt + `{{end}}` +
	`{{define "claude.user"}}` + claudeUserPrompt + `{{end}}`))

type promptData struct {
	Task         string
	Target       string
	Patch        string
	Tools        []string
	BranchPrefix string
	Legend       string
}

func render(name string, data promptData) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("laneexec: render %s: %w", name, err)
	}
	return b.String(), nil
}

// CodexResult is the read-only lane outcome.
type CodexResult struct {
	Response string
	Patch    string
}

// ClaudeResult is the write-enabled lane outcome.
type ClaudeResult struct {
	Response     string
	AppliedFiles []string
}

// Client shapes per-lane prompts around a Generator. Secrets in the task,
// target and patch are tokenized before the prompt leaves the process and
// restored in the extracted patch, unless DUALANE_REDACT=never.
type Client struct {
	gen    Generator
	mode   redact.Mode
	logger *slog.Logger
}

// NewClient creates a Client. A nil logger means slog.Default().
func NewClient(gen Generator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gen: gen, mode: redact.ModeFromEnv(), logger: logger}
}

// scrub tokenizes secrets in data's free-text fields.
func (c *Client) scrub(data *promptData) *redact.TokenMap {
	tm := redact.NewTokenMap()
	if c.mode == redact.ModeOff {
		return tm
	}
	data.Task = redact.Redact(data.Task, tm)
	data.Target = redact.Redact(data.Target, tm)
	data.Patch = redact.Redact(data.Patch, tm)
	data.Legend = tm.Legend()
	if n := tm.Len(); n > 0 {
		c.logger.Info("redacted secrets from prompt", "count", n)
	}
	return tm
}

// ExecuteCodex asks the generator for a patch under the read-only prompt.
// tools must already be filtered for the lane.
func (c *Client) ExecuteCodex(ctx context.Context, task, target string, tools []string) (CodexResult, error) {
	data := promptData{Task: task, Target: target, Tools: tools}
	tm := c.scrub(&data)
	req, err := c.request(lane.ReadOnly, "codex", data, tools)
	if err != nil {
		return CodexResult{}, err
	}

	resp, err := c.gen.Generate(ctx, req)
	if err != nil {
		return CodexResult{}, fmt.Errorf("laneexec: codex generate: %w", err)
	}
	patch := redact.Detoken(ExtractDiff(resp), tm)
	c.logger.Debug("codex response", "bytes", len(resp), "patch_bytes", len(patch))
	if patch == "" {
		return CodexResult{Response: resp}, ErrNoPatch
	}
	return CodexResult{Response: resp, Patch: patch}, nil
}

// ExecuteClaude hands a verified patch to the generator under the
// write-enabled prompt. Applied files are read from "APPLIED: <path>"
// lines; when the response names none, expected is reported.
func (c *Client) ExecuteClaude(ctx context.Context, task, patch, branchPrefix string, expected, tools []string) (ClaudeResult, error) {
	data := promptData{Task: task, Patch: patch, BranchPrefix: branchPrefix, Tools: tools}
	tm := c.scrub(&data)
	req, err := c.request(lane.WriteEnabled, "claude", data, tools)
	if err != nil {
		return ClaudeResult{}, err
	}

	resp, err := c.gen.Generate(ctx, req)
	if err != nil {
		return ClaudeResult{}, fmt.Errorf("laneexec: claude generate: %w", err)
	}
	applied := AppliedFiles(redact.Detoken(resp, tm))
	if len(applied) == 0 {
		applied = append([]string(nil), expected...)
	}
	return ClaudeResult{Response: resp, AppliedFiles: applied}, nil
}

func (c *Client) request(l lane.Lane, prefix string, data promptData, tools []string) (Request, error) {
	system, err := render(prefix+".system", data)
	if err != nil {
		return Request{}, err
	}
	user, err := render(prefix+".user", data)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Lane:         l,
		SystemPrompt: system,
		UserPrompt:   user,
		Tools:        append([]string(nil), tools...),
	}, nil
}

// AppliedFiles returns the unique paths reported on "APPLIED: <path>" lines.
func AppliedFiles(response string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(response, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "APPLIED:")
		if !ok {
			continue
		}
		path := strings.TrimSpace(rest)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}
