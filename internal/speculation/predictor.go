// Package speculation implements executor.SpeculationPredictor: the
// threshold gate spec.md §4.H places in front of speculative dispatch
// ("tasks may be started before their nominal ready time when a confidence
// predictor exceeds a threshold (supplied externally)"). The confidence
// estimate itself is explicitly out of this gateway's scope — this package
// only defines the pluggable seam and a constant-confidence default, the
// same way internal/embedclient defines a pluggable seam for an embedding
// model the gateway never computes itself.
package speculation

import (
	"context"

	"github.com/pml-run/gateway/domain"
)

// ConfidenceSource estimates, in [0,1], how likely a task is to dispatch
// with the same resolved arguments it has right now. The gateway does not
// implement one of these against a real model; it only defines the
// interface a caller supplies at wiring time.
type ConfidenceSource interface {
	Confidence(ctx context.Context, task domain.Task, resolvedArgs map[string]any) float64
}

// StaticConfidence is a ConfidenceSource returning a fixed value regardless
// of task or arguments — a reasonable stand-in when no real predictor is
// wired yet, and a convenient fixture for tests.
type StaticConfidence float64

// Confidence satisfies ConfidenceSource.
func (c StaticConfidence) Confidence(context.Context, domain.Task, map[string]any) float64 {
	return float64(c)
}

// ThresholdPredictor implements executor.SpeculationPredictor by comparing
// a ConfidenceSource's estimate against a fixed threshold.
type ThresholdPredictor struct {
	source    ConfidenceSource
	threshold float64
}

// New builds a ThresholdPredictor. threshold is clamped to [0,1]; source
// defaults to StaticConfidence(0), which speculates only if threshold is
// also 0 — pass a positive threshold to keep speculation opt-in (a safe
// default: speculation is an optimisation, never required for correctness).
func New(source ConfidenceSource, threshold float64) *ThresholdPredictor {
	if source == nil {
		source = StaticConfidence(0)
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return &ThresholdPredictor{source: source, threshold: threshold}
}

// ShouldSpeculate satisfies executor.SpeculationPredictor.
func (p *ThresholdPredictor) ShouldSpeculate(ctx context.Context, task domain.Task, resolvedArgs map[string]any) bool {
	return p.source.Confidence(ctx, task, resolvedArgs) >= p.threshold
}
