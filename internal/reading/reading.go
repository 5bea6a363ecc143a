package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MaxBatchSize is the hard ceiling on readings per batch, enforced at the
// boundary and not negotiable per call.
const MaxBatchSize = 1800

// The ten named numeric fields a reading may carry.
const (
	FieldTemperatureOne = "temperature_one"
	FieldTemperatureTwo = "temperature_two"
	FieldVibrationX     = "vibration_x"
	FieldVibrationY     = "vibration_y"
	FieldVibrationZ     = "vibration_z"
	FieldMagneticFluxX  = "magnetic_flux_x"
	FieldMagneticFluxY  = "magnetic_flux_y"
	FieldMagneticFluxZ  = "magnetic_flux_z"
	FieldAudibleSound   = "audible_sound"
	FieldUltraSound     = "ultra_sound"
)

// Fields lists all reading fields in canonical order.
var Fields = []string{
	FieldTemperatureOne,
	FieldTemperatureTwo,
	FieldVibrationX,
	FieldVibrationY,
	FieldVibrationZ,
	FieldMagneticFluxX,
	FieldMagneticFluxY,
	FieldMagneticFluxZ,
	FieldAudibleSound,
	FieldUltraSound,
}

// The five sensor channels, each backed by its own model.
const (
	ChannelTemperature  = "temperature"
	ChannelVibration    = "vibration"
	ChannelMagneticFlux = "magnetic_flux"
	ChannelAudibleSound = "audible_sound"
	ChannelUltraSound   = "ultra_sound"
)

// Channels lists all channels in canonical order. The engine iterates this
// slice everywhere so per-channel output order is stable.
var Channels = []string{
	ChannelTemperature,
	ChannelVibration,
	ChannelMagneticFlux,
	ChannelAudibleSound,
	ChannelUltraSound,
}

// DefaultFeatures maps each channel to the ordered reading fields that feed
// its model when the model config does not override the feature list.
var DefaultFeatures = map[string][]string{
	ChannelTemperature:  {FieldTemperatureOne, FieldTemperatureTwo},
	ChannelVibration:    {FieldVibrationX, FieldVibrationY, FieldVibrationZ},
	ChannelMagneticFlux: {FieldMagneticFluxX, FieldMagneticFluxY, FieldMagneticFluxZ},
	ChannelAudibleSound: {FieldAudibleSound},
	ChannelUltraSound:   {FieldUltraSound},
}

// Structural batch errors. Any of these rejects the whole request.
var (
	ErrInvalidInput  = errors.New("reading: input must be a JSON array of readings")
	ErrEmptyBatch    = errors.New("reading: batch cannot be empty")
	ErrBatchTooLarge = errors.New("reading: batch exceeds maximum length of 1800")
)

// FieldTypeError reports a non-numeric, non-null value in a named field.
// It names both the reading position and the offending field.
type FieldTypeError struct {
	Index int
	Field string
	Value any
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("reading %d: field %q must be numeric or null, got %T", e.Index, e.Field, e.Value)
}

// Kind classifies a structural validation error for boundary reporting.
// Returns "" for errors that are not part of the validation taxonomy.
func Kind(err error) string {
	var fieldErr *FieldTypeError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrBatchTooLarge):
		return "batch_too_large"
	case errors.As(err, &fieldErr):
		return "invalid_field_type"
	default:
		return ""
	}
}

// Raw is one undecoded reading as submitted by the caller.
// Unknown keys are carried along but ignored by validation.
type Raw map[string]any

// Normalized is a validated reading. Present keys hold finite numeric values;
// an absent key means the field was null or missing in the input.
type Normalized map[string]float64

// Value returns the field's value and whether it is present.
func (n Normalized) Value(field string) (float64, bool) {
	v, ok := n[field]
	return v, ok
}

// DecodeBatch parses body as a JSON array of readings. Anything that is not
// an array — an object, a scalar, null, or malformed JSON — is rejected with
// ErrInvalidInput.
func DecodeBatch(body []byte) ([]Raw, error) {
	var batch []Raw
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, ErrInvalidInput
	}
	// "null" unmarshals into a nil slice without error.
	if batch == nil {
		return nil, ErrInvalidInput
	}
	return batch, nil
}

// ValidateBatch enforces batch-level constraints: non-empty and at most
// MaxBatchSize readings.
func ValidateBatch(batch []Raw) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	if len(batch) > MaxBatchSize {
		return ErrBatchTooLarge
	}
	return nil
}

// Normalize validates one reading's field types and folds absent fields into
// nulls. idx is the reading's position in the batch, used in error reporting.
//
// A reading with some (or all) null fields is valid — missing values are
// handled downstream and are never treated as zero.
func Normalize(idx int, r Raw) (Normalized, error) {
	n := make(Normalized, len(Fields))
	for _, f := range Fields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		num, ok := asNumber(v)
		if !ok {
			return nil, &FieldTypeError{Index: idx, Field: f, Value: v}
		}
		n[f] = num
	}
	return n, nil
}

// ParseBatch decodes, validates and normalizes a raw JSON batch body in one
// fail-fast pass. The first structural error stops processing.
func ParseBatch(body []byte) ([]Normalized, error) {
	batch, err := DecodeBatch(body)
	if err != nil {
		return nil, err
	}
	if err := ValidateBatch(batch); err != nil {
		return nil, err
	}
	out := make([]Normalized, len(batch))
	for i, r := range batch {
		n, err := Normalize(i, r)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// asNumber converts JSON-decoded and programmatically built numeric values.
// Non-finite floats are rejected — they cannot come from JSON and would
// poison downstream means.
func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
