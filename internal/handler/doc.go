// Package handler implements the per-connection session for the load balancer.
// It coordinates backend selection, the single connect attempt, the relay, and
// the events that describe how each session ended.
package handler
