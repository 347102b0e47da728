package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/flowsync/internal/adapter/metrics"
	"github.com/pscheid92/flowsync/internal/domain"
)

const fallbackGenerator = "fallback"

// ErrGeneration wraps any failure of the configured generator.
var ErrGeneration = errors.New("analysis generation failed")

// Generator turns a prompt into report text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Report is the result returned to callers.
type Report struct {
	Analysis  string `json:"analysis"`
	Timestamp string `json:"timestamp"`
}

// Analyzer picks between the configured generator and the fallback report.
type Analyzer struct {
	generator Generator
	clock     clockwork.Clock
	metrics   *metrics.AnalysisMetrics
}

// NewAnalyzer creates an analyzer. A nil generator always produces the
// fallback report.
func NewAnalyzer(generator Generator, clock clockwork.Clock, m *metrics.AnalysisMetrics) *Analyzer {
	return &Analyzer{generator: generator, clock: clock, metrics: m}
}

// Configured reports whether an external generator is in use.
func (a *Analyzer) Configured() bool { return a.generator != nil }

// Analyze reviews d. Only generator failures produce an error.
func (a *Analyzer) Analyze(ctx context.Context, d Diagram) (Report, error) {
	start := a.clock.Now()

	name := fallbackGenerator
	var text string
	var err error
	if a.generator == nil {
		text = FallbackReport(d)
	} else {
		name = a.generator.Name()
		text, err = a.generator.Generate(ctx, BuildPrompt(d))
	}

	a.metrics.Duration.WithLabelValues(name).Observe(a.clock.Since(start).Seconds())
	if err != nil {
		a.metrics.Requests.WithLabelValues(name, "error").Inc()
		slog.ErrorContext(ctx, "Diagram analysis failed", "generator", name, "nodes", len(d.Nodes), "edges", len(d.Edges), "error", err)
		return Report{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	a.metrics.Requests.WithLabelValues(name, "ok").Inc()

	return Report{
		Analysis:  text,
		Timestamp: domain.FormatTimestamp(a.clock.Now()),
	}, nil
}
