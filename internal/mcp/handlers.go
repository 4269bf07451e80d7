package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/lane"
)

// CheckInput defines parameters for the dualane_check tool.
type CheckInput struct {
	Lane      string `json:"lane" jsonschema:"lane name (codex or claude)"`
	Operation string `json:"operation" jsonschema:"operation, e.g. Read or Bash(git diff HEAD)"`
}

// CheckOutput contains the decision.
type CheckOutput struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
}

// FilterInput defines parameters for the dualane_filter tool.
type FilterInput struct {
	Lane  string   `json:"lane" jsonschema:"lane name (codex or claude)"`
	Tools []string `json:"tools" jsonschema:"requested tool names"`
}

// FilterOutput lists the permitted tools.
type FilterOutput struct {
	Tools   []string `json:"tools"`
	Removed []string `json:"removed,omitempty"`
}

// ScanInput defines parameters for the dualane_scan tool.
type ScanInput struct {
	Lane     string `json:"lane" jsonschema:"lane name (codex or claude)"`
	Response string `json:"response" jsonschema:"generator response text"`
}

// ScanOutput reports whether the response is clean.
type ScanOutput struct {
	Clean bool `json:"clean"`
}

// VerifyInput defines parameters for the dualane_verify tool.
type VerifyInput struct {
	HandoffID string `json:"handoff_id" jsonschema:"handoff id (uuid)"`
}

// VerifyOutput is the verification report.
type VerifyOutput struct {
	Valid  bool            `json:"valid"`
	Checks []handoff.Check `json:"checks"`
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	l, err := lane.Parse(input.Lane)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	v := s.manager.ValidateOperation(input.Operation, l)
	out := CheckOutput{Allowed: v.Allowed, Reason: v.Reason, Pattern: v.Pattern}
	if !v.Allowed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleFilter(ctx context.Context, req *mcpsdk.CallToolRequest, input FilterInput) (*mcpsdk.CallToolResult, FilterOutput, error) {
	l, err := lane.Parse(input.Lane)
	if err != nil {
		return nil, FilterOutput{}, err
	}
	kept := s.manager.FilterTools(input.Tools, l)
	keep := make(map[string]bool, len(kept))
	for _, t := range kept {
		keep[t] = true
	}
	out := FilterOutput{Tools: kept}
	for _, t := range input.Tools {
		if !keep[t] {
			out.Removed = append(out.Removed, t)
		}
	}
	return nil, out, nil
}

func (s *Server) handleScan(ctx context.Context, req *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	l, err := lane.Parse(input.Lane)
	if err != nil {
		return nil, ScanOutput{}, err
	}
	clean := s.manager.ValidateResponse(input.Response, l)
	if !clean {
		return &mcpsdk.CallToolResult{IsError: true}, ScanOutput{Clean: false}, nil
	}
	return nil, ScanOutput{Clean: true}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	if s.handoffs == nil {
		return nil, VerifyOutput{}, fmt.Errorf("no handoff store configured")
	}
	h, err := s.handoffs.Load(input.HandoffID)
	if err != nil {
		return nil, VerifyOutput{}, err
	}
	r := handoff.Verify(s.manager, h)
	out := VerifyOutput{Valid: r.OK(), Checks: r.Checks}
	if !out.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
