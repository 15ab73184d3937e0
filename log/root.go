package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

const (
	ExecMonitoring    = "exec_mod"    // parallel/sequential executor
	BatchMonitoring   = "batch_mod"   // conflict detection and batching
	StateMonitoring   = "state_mod"   // staged account store
	MergeMonitoring   = "merge_mod"   // end-of-block merge to storage
	StorageMonitoring = "storage_mod" // persistent storage backend
)

var root atomic.Value

func init() {
	root.Store(&logger{slog.New(DiscardHandler())})
}

func InitLogger(logLevel string) {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(os.Stderr, logLvl, true)))
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

var defaultKnownModules = []string{ExecMonitoring, BatchMonitoring, StateMonitoring, MergeMonitoring, StorageMonitoring}

// moduleEnabled keeps track of whether a module's trace/debug logging is enabled.
var moduleEnabled = initModules(defaultKnownModules)

func initModules(modules []string) map[string]bool {
	m := make(map[string]bool, len(modules))
	for _, module := range modules {
		m[module] = true
	}
	return m
}

// EnableModule enables logging for the specified module.
func EnableModule(module string) {
	moduleEnabled[module] = true
}

// EnableModules enables trace/debug logging for a comma separated list
// of modules, disabling all others. An empty list leaves the defaults
// alone.
func EnableModules(modules string) {
	if modules == "" {
		return
	}
	for module := range moduleEnabled {
		moduleEnabled[module] = false
	}
	for _, module := range strings.Split(modules, ",") {
		moduleEnabled[strings.TrimSpace(module)] = true
	}
}

// DisableModule disables trace/debug logging for the specified module.
func DisableModule(module string) {
	moduleEnabled[module] = false
}

func isModuleEnabled(module string) bool {
	enabled, ok := moduleEnabled[module]
	return ok && enabled
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(LevelTrace, module, msg, ctx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// Info, Warn, Error and Crit do not filter on module.
func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}
