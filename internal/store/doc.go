// Package store keeps recently completed assessment reports in memory with
// TTL-based expiry, serving the report lookup and listing API endpoints.
package store
