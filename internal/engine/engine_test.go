package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/assetpulse/assetpulse/internal/model"
	"github.com/assetpulse/assetpulse/internal/reading"
)

// stubModel lets each test script a channel's behavior per feature vector.
type stubModel struct {
	kind    model.Kind
	predict func(ctx context.Context, features []float64) (model.Prediction, error)
}

func (s *stubModel) Predict(ctx context.Context, features []float64) (model.Prediction, error) {
	return s.predict(ctx, features)
}

func (s *stubModel) Kind() model.Kind { return s.kind }

// labelBy returns a categorical stub that labels "healthy" below the cutoff on
// the first feature and "degraded" at or above it.
func labelBy(cutoff float64) *stubModel {
	return &stubModel{
		kind: model.KindCategorical,
		predict: func(_ context.Context, features []float64) (model.Prediction, error) {
			label := "healthy"
			if features[0] >= cutoff {
				label = "degraded"
			}
			return model.Prediction{Kind: model.KindCategorical, Label: label}, nil
		},
	}
}

// passthrough returns a numerical stub echoing its first feature.
func passthrough() *stubModel {
	return &stubModel{
		kind: model.KindNumerical,
		predict: func(_ context.Context, features []float64) (model.Prediction, error) {
			return model.Prediction{Kind: model.KindNumerical, Value: features[0]}, nil
		},
	}
}

// newTestRegistry registers a stub for every channel with default features.
// Overrides replace individual channels.
func newTestRegistry(t *testing.T, overrides map[string]model.Model) *model.Registry {
	t.Helper()
	reg := model.NewRegistry()
	defaults := map[string]model.Model{
		reading.ChannelTemperature:  labelBy(100),
		reading.ChannelVibration:    labelBy(5),
		reading.ChannelMagneticFlux: labelBy(1000),
		reading.ChannelAudibleSound: labelBy(80),
		reading.ChannelUltraSound:   passthrough(),
	}
	for ch, m := range overrides {
		defaults[ch] = m
	}
	for _, ch := range reading.Channels {
		if err := reg.Register(ch, reading.DefaultFeatures[ch], defaults[ch]); err != nil {
			t.Fatalf("register %s: %v", ch, err)
		}
	}
	return reg
}

func newTestEngine(t *testing.T, overrides map[string]model.Model) *Engine {
	t.Helper()
	return New(newTestRegistry(t, overrides), DefaultPolicy(), 4, nil)
}

// fullReading builds a reading with every field populated. tempOne drives the
// temperature stub's vote.
func fullReading(tempOne float64) map[string]any {
	return map[string]any{
		reading.FieldTemperatureOne: tempOne,
		reading.FieldTemperatureTwo: 21.0,
		reading.FieldVibrationX:     0.5,
		reading.FieldVibrationY:     0.4,
		reading.FieldVibrationZ:     0.3,
		reading.FieldMagneticFluxX:  12.0,
		reading.FieldMagneticFluxY:  11.0,
		reading.FieldMagneticFluxZ:  10.0,
		reading.FieldAudibleSound:   42.0,
		reading.FieldUltraSound:     30.0,
	}
}

func body(t *testing.T, readings ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(readings)
	if err != nil {
		t.Fatalf("marshal batch: %v", err)
	}
	return b
}

func TestAssess_CompleteBatch(t *testing.T) {
	e := newTestEngine(t, nil)

	rep, err := e.Assess(context.Background(), body(t,
		fullReading(20), fullReading(25), fullReading(30)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	if rep.State != StateComplete {
		t.Errorf("State = %q, want %q", rep.State, StateComplete)
	}
	if rep.ID == "" {
		t.Error("report has no ID")
	}
	if rep.ReadingCount != 3 {
		t.Errorf("ReadingCount = %d, want 3", rep.ReadingCount)
	}
	if rep.OverallStatus != "healthy" {
		t.Errorf("OverallStatus = %q, want healthy", rep.OverallStatus)
	}
	if got := len(rep.Predictions); got != len(reading.Channels) {
		t.Errorf("len(Predictions) = %d, want %d", got, len(reading.Channels))
	}
	us := rep.Results[reading.ChannelUltraSound]
	if us.Mean != 30 {
		t.Errorf("ultra_sound mean = %v, want 30", us.Mean)
	}
	for _, ch := range reading.Channels {
		if q := rep.DataQuality.Channels[ch]; q.Used != 3 || q.Skipped != 0 || q.Errors != 0 {
			t.Errorf("quality[%s] = %+v, want 3 used and nothing lost", ch, q)
		}
	}
	if rep.CompletedAt.Before(rep.ReceivedAt) {
		t.Error("CompletedAt precedes ReceivedAt")
	}
}

func TestAssess_TieBreakUsesFirstOccurrence(t *testing.T) {
	e := newTestEngine(t, nil)

	// Reading 0 votes healthy (20 < 100), reading 1 votes degraded. One vote
	// each: the label seen first wins.
	rep, err := e.Assess(context.Background(), body(t,
		fullReading(20), fullReading(150)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	temp := rep.Results[reading.ChannelTemperature]
	if temp.Label != "healthy" {
		t.Errorf("temperature label = %q, want healthy (first-occurrence tie-break)", temp.Label)
	}
	if temp.Votes["healthy"] != 1 || temp.Votes["degraded"] != 1 {
		t.Errorf("votes = %v, want a 1-1 tie", temp.Votes)
	}

	// Reversed batch order flips the winner.
	rep, err = e.Assess(context.Background(), body(t,
		fullReading(150), fullReading(20)))
	if err != nil {
		t.Fatalf("Assess reversed: %v", err)
	}
	if got := rep.Results[reading.ChannelTemperature].Label; got != "degraded" {
		t.Errorf("reversed temperature label = %q, want degraded", got)
	}
}

func TestAssess_AllNullChannelIsUnavailable(t *testing.T) {
	e := newTestEngine(t, nil)

	readings := make([]map[string]any, 3)
	for i := range readings {
		r := fullReading(20)
		r[reading.FieldVibrationX] = nil
		r[reading.FieldVibrationY] = nil
		delete(r, reading.FieldVibrationZ) // absent counts the same as null
		readings[i] = r
	}

	rep, err := e.Assess(context.Background(), body(t, readings...))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	vib := rep.Results[reading.ChannelVibration]
	if !vib.Unavailable {
		t.Error("vibration should be unavailable when every reading is all-null")
	}
	if q := rep.DataQuality.Channels[reading.ChannelVibration]; q.Skipped != 3 || q.Used != 0 {
		t.Errorf("vibration quality = %+v, want 3 skipped", q)
	}

	// The other channels aggregate normally and the overall status is drawn
	// from them, not poisoned by the dead channel.
	if got := rep.Results[reading.ChannelTemperature]; got.Unavailable || got.Label != "healthy" {
		t.Errorf("temperature result = %+v, want healthy", got)
	}
	if rep.OverallStatus != "healthy" {
		t.Errorf("OverallStatus = %q, want healthy", rep.OverallStatus)
	}
}

func TestAssess_PartialNullIsIncomplete(t *testing.T) {
	e := newTestEngine(t, nil)

	r := fullReading(20)
	r[reading.FieldVibrationY] = nil

	rep, err := e.Assess(context.Background(), body(t, r, fullReading(20)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	q := rep.DataQuality.Channels[reading.ChannelVibration]
	if q.Incomplete != 1 || q.Used != 1 {
		t.Errorf("vibration quality = %+v, want 1 incomplete / 1 used", q)
	}
	if vib := rep.Results[reading.ChannelVibration]; vib.Unavailable || vib.Samples != 1 {
		t.Errorf("vibration result = %+v, want 1 sample from the complete reading", vib)
	}
}

func TestAssess_StructuralErrors(t *testing.T) {
	e := newTestEngine(t, nil)

	oversized := make([]map[string]any, reading.MaxBatchSize+1)
	for i := range oversized {
		oversized[i] = fullReading(20)
	}

	tests := []struct {
		name     string
		body     []byte
		wantKind string
	}{
		{"not an array", []byte(`{"temperature_one": 20}`), "invalid_input"},
		{"malformed json", []byte(`[{`), "invalid_input"},
		{"null body", []byte(`null`), "invalid_input"},
		{"empty batch", []byte(`[]`), "empty_batch"},
		{"oversized batch", body(t, oversized...), "batch_too_large"},
		{"string in numeric field", []byte(`[{"temperature_one": "hot"}]`), "invalid_field_type"},
		{"boolean in numeric field", []byte(`[{"vibration_x": true}]`), "invalid_field_type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rep, err := e.Assess(context.Background(), tc.body)
			if err == nil {
				t.Fatal("Assess succeeded, want structural error")
			}
			if rep != nil {
				t.Error("structural error must not produce a partial report")
			}
			if got := reading.Kind(err); got != tc.wantKind {
				t.Errorf("error kind = %q, want %q (err: %v)", got, tc.wantKind, err)
			}
		})
	}
}

func TestAssess_FieldTypeErrorNamesField(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Assess(context.Background(), []byte(`[{"temperature_one": 20}, {"ultra_sound": "loud"}]`))
	var fieldErr *reading.FieldTypeError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("error = %v, want *reading.FieldTypeError", err)
	}
	if fieldErr.Index != 1 || fieldErr.Field != reading.FieldUltraSound {
		t.Errorf("FieldTypeError = %+v, want index 1 field ultra_sound", fieldErr)
	}
	if !strings.Contains(err.Error(), reading.FieldUltraSound) {
		t.Errorf("error message %q does not name the field", err)
	}
}

func TestAssess_MissingModelFailsRequest(t *testing.T) {
	reg := model.NewRegistry()
	// Register everything except ultra_sound.
	for _, ch := range reading.Channels[:len(reading.Channels)-1] {
		if err := reg.Register(ch, reading.DefaultFeatures[ch], labelBy(100)); err != nil {
			t.Fatalf("register %s: %v", ch, err)
		}
	}
	e := New(reg, DefaultPolicy(), 2, nil)

	_, err := e.Assess(context.Background(), body(t, fullReading(20)))
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("error = %v, want ErrNoModel", err)
	}
	if !strings.Contains(err.Error(), reading.ChannelUltraSound) {
		t.Errorf("error %q does not name the missing channel", err)
	}
}

func TestAssess_InferenceErrorRecoveredLocally(t *testing.T) {
	var calls int
	var mu sync.Mutex
	flaky := &stubModel{
		kind: model.KindCategorical,
		predict: func(_ context.Context, _ []float64) (model.Prediction, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return model.Prediction{}, fmt.Errorf("model backend unreachable")
			}
			return model.Prediction{Kind: model.KindCategorical, Label: "healthy"}, nil
		},
	}
	e := newTestEngine(t, map[string]model.Model{reading.ChannelTemperature: flaky})
	// A single worker keeps the failing call deterministic: reading 0 fails.
	e.workers = 1

	rep, err := e.Assess(context.Background(), body(t,
		fullReading(20), fullReading(20), fullReading(20)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	if rep.State != StateComplete {
		t.Errorf("State = %q, want complete despite the per-reading failure", rep.State)
	}
	q := rep.DataQuality.Channels[reading.ChannelTemperature]
	if q.Errors != 1 || q.Used != 2 {
		t.Errorf("temperature quality = %+v, want 1 error / 2 used", q)
	}
	if temp := rep.Results[reading.ChannelTemperature]; temp.Label != "healthy" || temp.Samples != 2 {
		t.Errorf("temperature result = %+v, want healthy from 2 samples", temp)
	}
}

func TestAssess_KindMismatchCountsAsError(t *testing.T) {
	confused := &stubModel{
		kind: model.KindCategorical,
		predict: func(_ context.Context, _ []float64) (model.Prediction, error) {
			return model.Prediction{Kind: model.KindNumerical, Value: 3.14}, nil
		},
	}
	e := newTestEngine(t, map[string]model.Model{reading.ChannelAudibleSound: confused})

	rep, err := e.Assess(context.Background(), body(t, fullReading(20)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if q := rep.DataQuality.Channels[reading.ChannelAudibleSound]; q.Errors != 1 {
		t.Errorf("audible_sound quality = %+v, want 1 error", q)
	}
	if !rep.Results[reading.ChannelAudibleSound].Unavailable {
		t.Error("audible_sound should be unavailable with its only prediction malformed")
	}
}

func TestAssess_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	blocking := &stubModel{
		kind: model.KindCategorical,
		predict: func(ctx context.Context, _ []float64) (model.Prediction, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return model.Prediction{}, ctx.Err()
		},
	}
	e := newTestEngine(t, map[string]model.Model{reading.ChannelTemperature: blocking})

	readings := make([]map[string]any, 64)
	for i := range readings {
		readings[i] = fullReading(20)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Assess(ctx, body(t, readings...))
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Assess did not return after cancellation")
	}
}

func TestAssess_SetPolicyTakesEffect(t *testing.T) {
	e := newTestEngine(t, nil)

	rep, err := e.Assess(context.Background(), body(t, fullReading(150)))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if rep.OverallStatus != "degraded" {
		t.Fatalf("OverallStatus = %q, want degraded before reload", rep.OverallStatus)
	}

	e.SetPolicy(Policy{SeverityOrder: []string{"degraded", "healthy"}})
	rep, err = e.Assess(context.Background(), body(t, fullReading(150), fullReading(20)))
	if err != nil {
		t.Fatalf("Assess after reload: %v", err)
	}
	if rep.OverallStatus != "healthy" {
		t.Errorf("OverallStatus = %q, want healthy under reloaded order", rep.OverallStatus)
	}
}

func TestReportJSON(t *testing.T) {
	e := newTestEngine(t, nil)

	r := fullReading(20)
	r[reading.FieldAudibleSound] = nil

	rep, err := e.Assess(context.Background(), body(t, r))
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	raw, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}

	var decoded struct {
		State       string         `json:"state"`
		Overall     string         `json:"overall_status"`
		Predictions map[string]any `json:"predictions"`
		Analysis    struct {
			Channels map[string]struct {
				Status string `json:"status"`
			} `json:"channels"`
		} `json:"complete_health_analysis"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	if decoded.State != "complete" {
		t.Errorf("state = %q, want complete", decoded.State)
	}
	if got := decoded.Predictions[reading.ChannelTemperature]; got != "healthy" {
		t.Errorf("temperature prediction = %v, want bare string healthy", got)
	}
	if got := decoded.Predictions[reading.ChannelUltraSound]; got != 30.0 {
		t.Errorf("ultra_sound prediction = %v, want bare number 30", got)
	}
	if got := decoded.Predictions[reading.ChannelAudibleSound]; got != StatusUnavailable {
		t.Errorf("audible_sound prediction = %v, want %q", got, StatusUnavailable)
	}
	if got := decoded.Analysis.Channels[reading.ChannelAudibleSound].Status; got != StatusUnavailable {
		t.Errorf("audible_sound analysis status = %q, want %q", got, StatusUnavailable)
	}
}
