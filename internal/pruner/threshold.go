package pruner

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pcraw4d/scout/internal/store"
)

// ThresholdKind selects how Threshold interpolates a boundary value at an
// arbitrary step.
type ThresholdKind string

const (
	ThresholdLinear      ThresholdKind = "linear"
	ThresholdExponential ThresholdKind = "exponential"
	ThresholdStep        ThresholdKind = "step"
)

// ThresholdAnchor is one (step, value) control point.
type ThresholdAnchor struct {
	Step  int
	Value float64
}

// Threshold prunes a trial once its reported value crosses a
// user-specified threshold at the current step; direction determines
// comparison sense.
type Threshold struct {
	kind      ThresholdKind
	anchors   []ThresholdAnchor // sorted by Step, len >= 1
	decayRate float64           // exponential only
	goal      store.Goal
}

// NewThreshold builds a Threshold pruner. Recognized options:
// kind ("linear" default, "exponential", "step"), anchors
// ([]map[string]any{"step": int, "value": float64}, at least one
// required), decay_rate (exponential only, default 0.99).
func NewThreshold(o Options, goal store.Goal) (*Threshold, error) {
	kind := ThresholdKind(o.string("kind", string(ThresholdLinear)))
	switch kind {
	case ThresholdLinear, ThresholdExponential, ThresholdStep:
	default:
		return nil, fmt.Errorf("%w: unknown threshold kind %q", store.ErrConfig, kind)
	}

	anchors, err := parseAnchors(o["anchors"])
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: threshold pruner requires at least one anchor", store.ErrConfig)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Step < anchors[j].Step })

	return &Threshold{
		kind:      kind,
		anchors:   anchors,
		decayRate: o.float("decay_rate", 0.99),
		goal:      goal,
	}, nil
}

func parseAnchors(raw any) ([]ThresholdAnchor, error) {
	list, ok := raw.([]any)
	if !ok {
		if typed, ok := raw.([]ThresholdAnchor); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("%w: threshold pruner options.anchors must be a list", store.ErrConfig)
	}
	out := make([]ThresholdAnchor, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: threshold pruner anchor must be a map with step/value", store.ErrConfig)
		}
		step, ok := asInt(m["step"])
		if !ok {
			return nil, fmt.Errorf("%w: threshold pruner anchor missing integer step", store.ErrConfig)
		}
		value, ok := asFloat(m["value"])
		if !ok {
			return nil, fmt.Errorf("%w: threshold pruner anchor missing numeric value", store.ErrConfig)
		}
		out = append(out, ThresholdAnchor{Step: step, Value: value})
	}
	return out, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// thresholdAt computes the boundary value at step.
func (t *Threshold) thresholdAt(step int) float64 {
	switch t.kind {
	case ThresholdExponential:
		base := t.anchors[0]
		delta := step - base.Step
		if delta < 0 {
			delta = 0
		}
		return base.Value * math.Pow(t.decayRate, float64(delta))
	case ThresholdStep:
		value := t.anchors[0].Value
		for _, a := range t.anchors {
			if a.Step > step {
				break
			}
			value = a.Value
		}
		return value
	default: // linear
		return t.interpolateLinear(step)
	}
}

func (t *Threshold) interpolateLinear(step int) float64 {
	if step <= t.anchors[0].Step {
		return t.anchors[0].Value
	}
	last := t.anchors[len(t.anchors)-1]
	if step >= last.Step {
		return last.Value
	}
	for i := 0; i < len(t.anchors)-1; i++ {
		lo, hi := t.anchors[i], t.anchors[i+1]
		if step >= lo.Step && step <= hi.Step {
			if hi.Step == lo.Step {
				return lo.Value
			}
			frac := float64(step-lo.Step) / float64(hi.Step-lo.Step)
			return lo.Value + frac*(hi.Value-lo.Value)
		}
	}
	return last.Value
}

func (t *Threshold) ShouldPrune(ctx context.Context, st store.Store, studyID, trialID string, step int, value float64, goal store.Goal) (bool, error) {
	threshold := t.thresholdAt(step)
	return worseThan(value, threshold, goal), nil
}

var _ Pruner = (*Threshold)(nil)
