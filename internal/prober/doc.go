// Package prober watches the availability of remote model runtimes by
// scraping their Prometheus metrics endpoints on a fixed interval.
package prober
