// Package reading defines the sensor reading data model and the batch and
// reading validators.
//
// A batch is an ordered JSON array of readings; each reading carries up to
// ten numeric fields grouped into five channels. Fields may be absent or
// null (sensor dropout) — both normalize to "missing". Any other non-numeric
// value is a structural error that rejects the whole batch.
//
// Validation is fail-fast: the first offending reading stops processing and
// no partial result is produced.
package reading
