// Package pkg provides shared utilities for the usbioctlreplay core.
//
// This package contains common functionality used across the dispatcher,
// matcher, memory bridge, and pcap packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types shared across packages
//   - Component identifiers for log filtering
//
// The package relies only on the Go standard library; it has no reason to
// import any of this module's domain dependencies.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with replay-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentMatcher, "urb matched", "pcap_id", id)
//
// # Errors
//
// Shared errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrNotSupported) {
//	    // ...
//	}
package pkg
