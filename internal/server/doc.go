// Package server exposes compliancebot over HTTP.
//
// The router serves GitHub webhooks, a manual scan trigger, read access to
// stored analyses and statistics, live rule management and Prometheus
// metrics. Analyses started over HTTP run in the background on a bounded
// job group; requests that would exceed the bound are refused with 503.
package server
