// Package logger builds the structured slog logger that receives the load
// balancer's session events: human-readable text in development, JSON in
// production. Every record carries the deployment environment.
package logger
