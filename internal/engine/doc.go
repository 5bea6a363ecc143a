// Package engine is the batch aggregation core: it validates a batch of
// sensor readings, drives per-reading inference across the five channel
// models, and reduces the per-reading predictions into one stable verdict
// per channel plus an overall status.
//
// Reduction semantics are deterministic and order-independent: categorical
// channels use majority voting with a first-occurrence tie-break, numerical
// channels use the arithmetic mean. A channel with zero usable predictions
// resolves to the "unavailable" sentinel rather than an error or NaN.
//
// The orchestrator advances through
// received → validated → inferring → aggregating → complete, with failed
// terminal from any state. Structural errors (bad batch shape, bad field
// type, missing model) fail the request; single-reading inference failures
// are recovered locally and reported in data quality diagnostics.
package engine
