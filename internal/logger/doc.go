// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a millisecond timestamp, level, optional scope,
// and message. Scopes name the emitting component, e.g. "worker-2",
// "server" or "api".
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "poolserve started")
//	logger.Info("worker-1", "Worker 1 got a job; executing.")
//	logger.Error("server", "accept failed: %v", err)
//
// Creating a custom logger and binding a scope:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	log := l.Scoped("worker-0")
//	log.Debug("queue depth %d", n)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel converts configuration strings ("debug", "info", "warn",
// "error") into a Level.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger
