package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/assetpulse/assetpulse/internal/model"
	"github.com/assetpulse/assetpulse/internal/reading"
)

// State is the orchestrator lifecycle position for one batch request.
type State string

const (
	StateReceived    State = "received"
	StateValidated   State = "validated"
	StateInferring   State = "inferring"
	StateAggregating State = "aggregating"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// ErrNoModel reports a structural fault: a channel has no registered model.
// Unlike per-reading inference failures it fails the whole request.
var ErrNoModel = errors.New("engine: no model available for channel")

// Metrics is the hook the engine uses to report operational counters.
// A nil Metrics disables reporting.
type Metrics interface {
	BatchProcessed(outcome string, readings int, d time.Duration)
	ReadingSkipped(channel string)
	ReadingIncomplete(channel string)
	InferenceError(channel string)
}

// Engine drives one batch through validation, per-reading inference,
// aggregation and summarization.
//
// The model registry is read-only; the severity policy is the only mutable
// state, guarded for config hot-reload. Assess is safe for concurrent use.
type Engine struct {
	registry *model.Registry
	workers  int
	metrics  Metrics

	mu     sync.RWMutex
	policy Policy
}

// New creates an Engine. workers bounds the per-reading inference pool;
// zero or negative means one worker per core. metrics may be nil.
func New(reg *model.Registry, pol Policy, workers int, metrics Metrics) *Engine {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Engine{
		registry: reg,
		workers:  workers,
		metrics:  metrics,
		policy:   pol,
	}
}

// SetPolicy replaces the severity policy. Called on config reload.
func (e *Engine) SetPolicy(p Policy) {
	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
}

// Policy returns the current severity policy.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// outcomeStatus classifies one (reading, channel) inference attempt.
type outcomeStatus int

const (
	statusOK outcomeStatus = iota
	statusSkipped
	statusIncomplete
	statusErrored
)

// outcome is one (reading, channel) cell of the inference matrix.
type outcome struct {
	status outcomeStatus
	pred   model.Prediction
}

// Assess runs the full pipeline on a raw JSON batch body and returns the
// completed report.
//
// Structural errors — a non-array body, an empty or oversized batch, a bad
// field type, a channel without a model — fail the whole request with no
// partial result. Per-reading inference failures are recovered locally: the
// failing (reading, channel) pair contributes nothing and the request still
// completes. Cancelling ctx aborts all in-flight inference.
func (e *Engine) Assess(ctx context.Context, body []byte) (*Report, error) {
	start := time.Now()
	receivedAt := start.UTC()
	id := uuid.NewString()

	normalized, err := reading.ParseBatch(body)
	if err != nil {
		return nil, e.fail(id, StateReceived, len(normalized), start, err)
	}

	// Every channel needs a model before inference starts; a hole in the
	// registry is a deployment fault, not a data problem.
	for _, ch := range reading.Channels {
		if _, ok := e.registry.Model(ch); !ok {
			return nil, e.fail(id, StateValidated, len(normalized), start, fmt.Errorf("%w %q", ErrNoModel, ch))
		}
	}

	outcomes, err := e.infer(ctx, normalized)
	if err != nil {
		return nil, e.fail(id, StateInferring, len(normalized), start, err)
	}

	// Aggregation and summarization are total functions: from here the
	// request always completes.
	results, quality := e.reduce(normalized, outcomes)
	overall := Summarize(results, e.Policy())

	rep := buildReport(id, receivedAt, len(normalized), results, overall, quality)
	if e.metrics != nil {
		e.metrics.BatchProcessed("complete", len(normalized), time.Since(start))
	}
	slog.Info("engine: batch complete",
		"id", id,
		"readings", len(normalized),
		"overall", overall,
		"duration", time.Since(start),
	)
	return rep, nil
}

// fail records and wraps a pipeline-stopping error.
func (e *Engine) fail(id string, at State, readings int, start time.Time, err error) error {
	outcome := "rejected"
	if reading.Kind(err) == "" {
		outcome = "failed"
	}
	if e.metrics != nil {
		e.metrics.BatchProcessed(outcome, readings, time.Since(start))
	}
	slog.Warn("engine: batch "+outcome, "id", id, "state", string(at), "err", err)
	return err
}

// infer fans the readings out over the worker pool and collects one outcome
// per (reading, channel) cell. Each cell is written exactly once, by the
// worker that owns its reading index, so no locking is needed.
func (e *Engine) infer(ctx context.Context, batch []reading.Normalized) ([][]outcome, error) {
	outcomes := make([][]outcome, len(batch))

	workers := e.workers
	if workers > len(batch) {
		workers = len(batch)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				outcomes[i] = e.inferReading(ctx, batch[i])
			}
		}()
	}

feed:
	for i := range batch {
		select {
		case <-ctx.Done():
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("engine: inference aborted: %w", err)
	}
	return outcomes, nil
}

// inferReading runs every channel adapter against one reading. Channels are
// independent; a failure in one never affects another.
func (e *Engine) inferReading(ctx context.Context, n reading.Normalized) []outcome {
	out := make([]outcome, len(reading.Channels))
	for ci, ch := range reading.Channels {
		out[ci] = e.inferChannel(ctx, ch, n)
	}
	return out
}

// inferChannel assembles the channel's feature vector and invokes its model.
//
// All contributing fields null → the reading is skipped for this channel and
// contributes no vote or value. Some but not all null → the fixed-length
// vector cannot be filled; counted as incomplete, also contributing nothing.
// A model failure is logged and recorded, never propagated.
func (e *Engine) inferChannel(ctx context.Context, channel string, n reading.Normalized) outcome {
	fields := e.registry.Features(channel)
	vector := make([]float64, len(fields))
	present := 0
	for i, f := range fields {
		if v, ok := n.Value(f); ok {
			vector[i] = v
			present++
		}
	}

	switch {
	case present == 0:
		if e.metrics != nil {
			e.metrics.ReadingSkipped(channel)
		}
		return outcome{status: statusSkipped}
	case present < len(fields):
		if e.metrics != nil {
			e.metrics.ReadingIncomplete(channel)
		}
		return outcome{status: statusIncomplete}
	}

	m, _ := e.registry.Model(channel)
	pred, err := m.Predict(ctx, vector)
	if err != nil {
		if e.metrics != nil {
			e.metrics.InferenceError(channel)
		}
		slog.Warn("engine: inference failed — excluding reading from channel",
			"channel", channel, "err", err)
		return outcome{status: statusErrored}
	}
	if pred.Kind != m.Kind() {
		// A model returning the wrong result shape is a malformed result,
		// handled like any other per-unit failure.
		if e.metrics != nil {
			e.metrics.InferenceError(channel)
		}
		slog.Warn("engine: model returned mismatched prediction kind",
			"channel", channel, "got", string(pred.Kind), "want", string(m.Kind()))
		return outcome{status: statusErrored}
	}
	return outcome{status: statusOK, pred: pred}
}

// reduce walks the outcome matrix channel by channel, in batch order, and
// aggregates each channel independently.
func (e *Engine) reduce(batch []reading.Normalized, outcomes [][]outcome) ([]ChannelResult, map[string]ChannelQuality) {
	results := make([]ChannelResult, 0, len(reading.Channels))
	quality := make(map[string]ChannelQuality, len(reading.Channels))

	for ci, ch := range reading.Channels {
		preds := make([]model.Prediction, 0, len(batch))
		var q ChannelQuality
		for ri := range outcomes {
			o := outcomes[ri][ci]
			switch o.status {
			case statusOK:
				preds = append(preds, o.pred)
				q.Used++
			case statusSkipped:
				q.Skipped++
			case statusIncomplete:
				q.Incomplete++
			case statusErrored:
				q.Errors++
			}
		}

		m, _ := e.registry.Model(ch)
		results = append(results, aggregate(ch, m.Kind(), preds))
		quality[ch] = q
	}
	return results, quality
}
