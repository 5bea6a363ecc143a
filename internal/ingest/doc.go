// Package ingest feeds the assessment pipeline from sources other than the
// HTTP API. The MQTT path subscribes to a readings topic and publishes each
// completed report (or rejection) to a reports topic.
package ingest
