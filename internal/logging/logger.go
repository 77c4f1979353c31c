// Package logging provides config-driven categorized file logging for bob.
// Logs are written to <state_dir>/logs/ with a separate file per category.
// Logging is controlled by logging.debug_mode in the config - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bobchad/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, wiring
	CategoryRouting  Category = "routing"  // Plan validation and routing decisions
	CategoryTools    Category = "tools"    // Tool registration and invocation
	CategoryJail     Category = "jail"     // Path resolution and jail violations
	CategoryExecutor Category = "executor" // Plan execution
	CategoryCodemod  Category = "codemod"  // Definition lookup and span replacement
	CategoryHistory  Category = "history"  // History store appends and reads
	CategoryTickets  Category = "tickets"  // Ticket files and lifecycle
	CategoryMeta     Category = "meta"     // Ticket generation
	CategoryRepair   Category = "repair"   // Repair/retry controller
	CategoryRules    Category = "rules"    // Rule store
	CategoryPlanner  Category = "planner"  // External reasoning service calls
	CategoryQueue    Category = "queue"    // Queue files and consumption
)

// Logger wraps a zap logger bound to one category file.
// A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  config.LoggingConfig
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	configMu  sync.RWMutex
)

// Initialize sets up the logging directory from the logging config.
// Should be called once at startup.
func Initialize(dir string, cfg config.LoggingConfig) error {
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}

	CloseAll()

	configMu.Lock()
	logsDir = dir
	settings = cfg
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)
	configMu.Unlock()

	if !cfg.DebugMode {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== bob logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", lvl)
	return nil
}

// IsDebugMode returns whether category logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return settings.IsCategoryEnabled(string(category))
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	dir := logsDir
	jsonFormat := settings.Format == "json"
	configMu.RUnlock()
	if dir == "" {
		return &Logger{category: category}
	}

	// Date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(file), level)
	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...any) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// Routing logs to the routing category
func Routing(format string, args ...any) { Get(CategoryRouting).Info(format, args...) }

// RoutingDebug logs debug to the routing category
func RoutingDebug(format string, args ...any) { Get(CategoryRouting).Debug(format, args...) }

// Tools logs to the tools category
func Tools(format string, args ...any) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...any) { Get(CategoryTools).Debug(format, args...) }

// JailWarn logs a warning to the jail category
func JailWarn(format string, args ...any) { Get(CategoryJail).Warn(format, args...) }

// Executor logs to the executor category
func Executor(format string, args ...any) { Get(CategoryExecutor).Info(format, args...) }

// ExecutorDebug logs debug to the executor category
func ExecutorDebug(format string, args ...any) { Get(CategoryExecutor).Debug(format, args...) }

// Codemod logs to the codemod category
func Codemod(format string, args ...any) { Get(CategoryCodemod).Info(format, args...) }

// CodemodDebug logs debug to the codemod category
func CodemodDebug(format string, args ...any) { Get(CategoryCodemod).Debug(format, args...) }

// HistoryDebug logs debug to the history category
func HistoryDebug(format string, args ...any) { Get(CategoryHistory).Debug(format, args...) }

// Tickets logs to the tickets category
func Tickets(format string, args ...any) { Get(CategoryTickets).Info(format, args...) }

// TicketsDebug logs debug to the tickets category
func TicketsDebug(format string, args ...any) { Get(CategoryTickets).Debug(format, args...) }

// Meta logs to the meta category
func Meta(format string, args ...any) { Get(CategoryMeta).Info(format, args...) }

// MetaDebug logs debug to the meta category
func MetaDebug(format string, args ...any) { Get(CategoryMeta).Debug(format, args...) }

// Repair logs to the repair category
func Repair(format string, args ...any) { Get(CategoryRepair).Info(format, args...) }

// RepairWarn logs a warning to the repair category
func RepairWarn(format string, args ...any) { Get(CategoryRepair).Warn(format, args...) }

// Rules logs to the rules category
func Rules(format string, args ...any) { Get(CategoryRules).Info(format, args...) }

// Planner logs to the planner category
func Planner(format string, args ...any) { Get(CategoryPlanner).Info(format, args...) }

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...any) { Get(CategoryPlanner).Debug(format, args...) }

// Queue logs to the queue category
func Queue(format string, args ...any) { Get(CategoryQueue).Info(format, args...) }

// QueueWarn logs a warning to the queue category
func QueueWarn(format string, args ...any) { Get(CategoryQueue).Warn(format, args...) }

// QueueDebug logs debug to the queue category
func QueueDebug(format string, args ...any) { Get(CategoryQueue).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
