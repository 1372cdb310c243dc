// Package logging provides a minimal logging interface and adapters for sqlmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn,
// Error) that the runner, resolver, runtime and registries use. Messages are
// printf-style format strings. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a zap sugared logger
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	zl, err := logging.NewZapLogger(logging.ZapConfig{Level: "info", Encoding: "json"})
//	if err != nil {
//	    return err
//	}
//	r := runner.New(resolver, registrar, func(o *runner.Options) { o.Logger = logging.NewZapAdapter(zl) })
package logging
