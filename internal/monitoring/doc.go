// Package monitoring provides Prometheus metrics for the debugger bridge.
//
// Metrics cover the control socket (messages, reconnects), sandbox lifetimes
// (started, active), and the script cache (downloads by outcome). Each
// Metrics value owns its registry so multiple instances can coexist in tests.
package monitoring
