// Package log provides a simple, leveled logging interface for the task-graph runtime.
//
// The scheduler, the reactive runner and the cache's single-flight wrapper log through
// the Logger interface defined here, so applications can route engine diagnostics to
// whatever logging stack they already use.
//
// # Log Levels
//
// The package supports five log levels, in order of increasing severity:
//
//   - LogLevelDebug: Detailed debugging information for development
//   - LogLevelInfo: General informational messages about normal operation
//   - LogLevelWarn: Warning messages for potentially problematic situations
//   - LogLevelError: Error messages for failures that need attention
//   - LogLevelNone: Disables all logging output
//
// # Example Usage
//
//	// Create a logger with INFO level
//	logger := log.NewDefaultLogger(log.LogLevelInfo)
//
//	logger.Info("run started")
//	logger.Debug("materialized inputs: %v", inputs)
//	logger.Warn("cache write failed: %v", err)
//	logger.Error("task %s failed: %v", id, err)
//
// # Custom Output
//
//	file, err := os.OpenFile("engine.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer file.Close()
//
//	logger := log.NewCustomLogger(file, log.LogLevelDebug)
//
// # golog Backend
//
// For structured, colored terminal output use the golog adapter:
//
//	glogger := golog.New()
//	logger := log.NewGologLogger(glogger)
//	log.SetDefaultLogger(logger)
//
// The package-level default logger is used by engine components that were not
// handed an explicit Logger.
package log
