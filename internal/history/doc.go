// Package history persists completed assessment reports to ClickHouse for
// long-term retention and offline analysis.
//
// Sink.Save() is non-blocking: reports go into an in-memory buffer (default
// capacity 1000). When the buffer is full the oldest entry is evicted so the
// latest report is always preserved.
//
// Sink.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or insert errors.
package history
