package model

import (
	"context"
	"fmt"

	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/reading"
)

// Kind is the output type a channel model produces.
type Kind string

const (
	KindCategorical Kind = "categorical"
	KindNumerical   Kind = "numerical"
)

// Prediction is one model output for one reading. Exactly one of Label and
// Value is meaningful, selected by Kind.
type Prediction struct {
	Kind  Kind
	Label string
	Value float64
}

// Model is the fixed inference contract every channel model implements.
// The engine never inspects a model's internals — only this contract.
type Model interface {
	// Predict runs inference on one feature vector in the channel's fixed
	// field order. Implementations must reject vectors of the wrong length.
	Predict(ctx context.Context, features []float64) (Prediction, error)

	// Kind reports the output type this model produces.
	Kind() Kind
}

// Registry holds one loaded model per channel plus the ordered feature fields
// feeding it. It is populated once at startup and read-only afterwards, so
// concurrent lookups during inference need no locking.
type Registry struct {
	models   map[string]Model
	features map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		models:   make(map[string]Model),
		features: make(map[string][]string),
	}
}

// Register binds a model and its feature fields to a channel.
// Registering the same channel twice is a wiring bug and returns an error.
func (r *Registry) Register(channel string, features []string, m Model) error {
	if _, ok := r.models[channel]; ok {
		return fmt.Errorf("model: channel %q already registered", channel)
	}
	if len(features) == 0 {
		return fmt.Errorf("model: channel %q has no feature fields", channel)
	}
	r.models[channel] = m
	r.features[channel] = features
	return nil
}

// Model returns the model for a channel, if one is registered.
func (r *Registry) Model(channel string) (Model, bool) {
	m, ok := r.models[channel]
	return m, ok
}

// Features returns the ordered feature fields for a channel.
func (r *Registry) Features(channel string) []string {
	return r.features[channel]
}

// Build constructs a Registry from model configuration entries, loading file
// artifacts and constructing remote clients. Channels without an explicit
// feature list get their default field grouping.
func Build(cfgs []config.ModelConfig) (*Registry, error) {
	r := NewRegistry()
	for _, mc := range cfgs {
		var (
			m   Model
			err error
		)
		switch mc.Type {
		case "file":
			m, err = LoadArtifact(mc.Path)
		case "remote":
			m, err = NewRemote(mc)
		default:
			err = fmt.Errorf("unknown model type %q", mc.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("model: channel %q: %w", mc.Channel, err)
		}

		features := mc.Features
		if len(features) == 0 {
			features = reading.DefaultFeatures[mc.Channel]
		}
		if err := r.Register(mc.Channel, features, m); err != nil {
			return nil, err
		}
	}
	return r, nil
}
