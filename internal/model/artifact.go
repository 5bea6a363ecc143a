package model

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// artifact is the on-disk schema of a trained model file.
//
// Two kinds are supported:
//
//	kind: linear — a numerical regressor: value = bias + weights · features
//	kind: threshold — a categorical classifier: the weighted score falls
//	  through ordered label steps; the last step may omit "below" to catch
//	  everything else.
type artifact struct {
	Kind    string    `yaml:"kind"`
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
	Steps   []struct {
		Label string   `yaml:"label"`
		Below *float64 `yaml:"below"`
	} `yaml:"thresholds"`
}

// LoadArtifact reads a model artifact file and returns the ready-to-use model.
// Artifacts are loaded once at startup and never mutated afterwards.
func LoadArtifact(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var a artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if len(a.Weights) == 0 {
		return nil, fmt.Errorf("artifact %q has no weights", path)
	}

	switch a.Kind {
	case "linear":
		return &Linear{weights: a.Weights, bias: a.Bias}, nil

	case "threshold":
		if len(a.Steps) == 0 {
			return nil, fmt.Errorf("threshold artifact %q has no thresholds", path)
		}
		steps := make([]labelStep, len(a.Steps))
		for i, s := range a.Steps {
			if s.Label == "" {
				return nil, fmt.Errorf("threshold artifact %q: step %d has no label", path, i)
			}
			if s.Below == nil && i != len(a.Steps)-1 {
				return nil, fmt.Errorf("threshold artifact %q: only the last step may omit below", path)
			}
			steps[i] = labelStep{label: s.Label, below: s.Below}
		}
		return &Threshold{weights: a.Weights, bias: a.Bias, steps: steps}, nil

	default:
		return nil, fmt.Errorf("artifact %q has unknown kind %q", path, a.Kind)
	}
}

// Linear is a numerical regression model: bias + weights · features.
type Linear struct {
	weights []float64
	bias    float64
}

// Predict implements Model.
func (l *Linear) Predict(_ context.Context, features []float64) (Prediction, error) {
	score, err := dot(l.weights, l.bias, features)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Kind: KindNumerical, Value: score}, nil
}

// Kind implements Model.
func (l *Linear) Kind() Kind { return KindNumerical }

// labelStep maps scores below a bound to a label. A nil bound catches all.
type labelStep struct {
	label string
	below *float64
}

// Threshold is a categorical classifier: the weighted feature score falls
// through ordered label steps.
type Threshold struct {
	weights []float64
	bias    float64
	steps   []labelStep
}

// Predict implements Model.
func (t *Threshold) Predict(_ context.Context, features []float64) (Prediction, error) {
	score, err := dot(t.weights, t.bias, features)
	if err != nil {
		return Prediction{}, err
	}
	for _, s := range t.steps {
		if s.below == nil || score < *s.below {
			return Prediction{Kind: KindCategorical, Label: s.label}, nil
		}
	}
	// Reachable only when the last step has an explicit bound the score
	// exceeds; classify as the last (most severe) label.
	return Prediction{Kind: KindCategorical, Label: t.steps[len(t.steps)-1].label}, nil
}

// Kind implements Model.
func (t *Threshold) Kind() Kind { return KindCategorical }

// dot computes bias + weights · features, rejecting length mismatches.
func dot(weights []float64, bias float64, features []float64) (float64, error) {
	if len(features) != len(weights) {
		return 0, fmt.Errorf("model: want %d features, got %d", len(weights), len(features))
	}
	score := bias
	for i, w := range weights {
		score += w * features[i]
	}
	return score, nil
}
