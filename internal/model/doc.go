// Package model defines the channel model inference contract and its
// implementations.
//
// Every channel is served by one Model, loaded or constructed once at
// startup and held read-only in the Registry for the process lifetime. The
// engine only ever sees the Predict contract — a model may be a local
// artifact (linear regressor or threshold classifier) or a remote runtime
// behind an HTTP predict endpoint; the choice is configuration.
package model
