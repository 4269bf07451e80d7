// Package laneexec wraps the external model invocation for each lane:
// prompt shaping, the generator call, and diff extraction.
package laneexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/telemetry"
)

// DefaultModel is used when neither the caller nor DUALANE_MODEL names one.
const DefaultModel = "claude-sonnet-4-5"

const defaultMaxTokens = 4096

// ErrAPIKeyRequired is returned when no Anthropic key is configured.
var ErrAPIKeyRequired = errors.New("laneexec: API key required")

// Request is what a generator sees for one lane invocation.
type Request struct {
	Lane         lane.Lane
	SystemPrompt string
	UserPrompt   string
	Tools        []string
}

// Generator produces free text for a request. The output is untrusted.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StaticGenerator returns fixed text per lane and records every request.
type StaticGenerator struct {
	Responses map[lane.Lane]string
	Err       error

	mu       sync.Mutex
	requests []Request
}

// Generate implements Generator.
func (g *StaticGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Err != nil {
		return "", g.Err
	}
	return g.Responses[req.Lane], nil
}

// Requests returns a copy of the requests seen so far.
func (g *StaticGenerator) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

// AnthropicGenerator calls the Anthropic Messages API. It never retries;
// a failed call is surfaced to the workflow.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator creates a generator. ANTHROPIC_API_KEY takes
// precedence over apiKey; DUALANE_MODEL over model.
func NewAnthropicGenerator(apiKey, model string) (*AnthropicGenerator, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrAPIKeyRequired)
	}
	if envModel := os.Getenv("DUALANE_MODEL"); envModel != "" {
		model = envModel
	}
	if model == "" {
		model = DefaultModel
	}

	genMetricsOnce.Do(initGenMetrics)

	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
	}, nil
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	tracer := telemetry.Tracer("github.com/ppiankov/dualane/laneexec")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("dualane.lane", string(req.Lane)),
		attribute.String("dualane.model", string(g.model)),
	)

	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}

	t0 := time.Now()
	message, err := g.client.Messages.New(ctx, params)
	ms := float64(time.Since(t0).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("laneexec: messages.new: %w", err)
	}

	laneAttr := attribute.String("dualane.lane", string(req.Lane))
	if genMetrics.inputTokens != nil {
		genMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(laneAttr))
		genMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(laneAttr))
		genMetrics.duration.Record(ctx, ms, metric.WithAttributes(laneAttr))
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("laneexec: response has no text content")
	}
	return b.String(), nil
}

var genMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var genMetricsOnce sync.Once

func initGenMetrics() {
	m := telemetry.Meter("github.com/ppiankov/dualane/laneexec")
	genMetrics.inputTokens, _ = m.Int64Counter("dualane.generator.input_tokens",
		metric.WithDescription("Generator input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	genMetrics.outputTokens, _ = m.Int64Counter("dualane.generator.output_tokens",
		metric.WithDescription("Generator output tokens produced"),
		metric.WithUnit("{token}"),
	)
	genMetrics.duration, _ = m.Float64Histogram("dualane.generator.duration",
		metric.WithDescription("Generator request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}
