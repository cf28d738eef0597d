// Package server implements the relay HTTP API: the streaming transcription
// endpoint, the chat endpoint, and monitoring endpoints for health, statistics,
// in-flight sessions, sanitized configuration and Prometheus metrics.
package server
