// Package ws streams completed assessment reports to WebSocket clients.
// Each completed batch is pushed as it finishes; a newly connected client
// receives the most recent report immediately.
package ws
