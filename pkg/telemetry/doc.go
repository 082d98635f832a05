// Package telemetry wires OpenTelemetry tracing and metrics for the protect/reveal
// orchestration client.
//
// It centralises trace provider setup, records per-operation outcome metrics, and
// offers a masking helper so span attributes never carry raw plaintext or tokens.
package telemetry
