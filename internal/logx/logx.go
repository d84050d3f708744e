// Package logx provides config-gated, categorized file logging for localmind.
// The CLI entry point's zap console logger is set up in cmd/localmind.
//
// Logs are written to <appdir>/logs/ with one file per category. Logging is
// silent (no files, no allocation beyond a no-op logger) unless debug mode
// is enabled via config.json.
package logx

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category names a logical subsystem. Each gets its own log file.
type Category string

const (
	CategoryBoot       Category = "boot"
	CategoryRouter     Category = "router"
	CategoryClassifier Category = "classifier"
	CategoryPlanner    Category = "planner"
	CategoryExecutor   Category = "executor"
	CategoryRepair     Category = "repair"
	CategoryTracker    Category = "tracker"
	CategorySelector   Category = "selector"
	CategoryLock       Category = "lock"
	CategoryBackend    Category = "backend"
	CategoryCache      Category = "cache"
	CategoryRegistry   Category = "registry"
	CategoryIntegrity  Category = "integrity"
	CategoryEnablement Category = "enablement"
	CategoryCLI        Category = "cli"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

type fileConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

type configFile struct {
	Logging fileConfig `json:"logging"`
}

// Logger writes to one category's log file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu        sync.RWMutex
	loggers   = make(map[Category]*Logger)
	logsDir   string
	cfg       fileConfig
	cfgLoaded bool
	level     Level
)

// Initialize points logx at the application directory's config.json and
// (if debug_mode is on) creates the logs directory. Safe to call once at
// process start; a no-op logging layer is used if never called.
func Initialize(appDir string) error {
	if appDir == "" {
		return fmt.Errorf("logx: application directory required")
	}
	logsDir = filepath.Join(appDir, "logs")

	if err := loadConfig(appDir); err != nil {
		fmt.Fprintf(os.Stderr, "[logx] warning: could not load config: %v\n", err)
		mu.Lock()
		cfg.DebugMode = false
		mu.Unlock()
		return nil
	}

	mu.RLock()
	debug := cfg.DebugMode
	mu.RUnlock()
	if !debug {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("logx: creating logs dir: %w", err)
	}
	Get(CategoryBoot).Info("logging initialized appdir=%s", appDir)
	return nil
}

func loadConfig(appDir string) error {
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(filepath.Join(appDir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DebugMode = false
			cfgLoaded = true
			return nil
		}
		return err
	}
	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parsing config.json: %w", err)
	}
	cfg = cf.Logging
	cfgLoaded = true
	switch cfg.Level {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}
	return nil
}

// IsDebugMode reports whether file logging is currently enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cfg.DebugMode
}

func categoryEnabled(c Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(c)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or lazily creates) the logger for a category. The returned
// logger is a safe no-op when the category or debug mode is disabled.
func Get(c Category) *Logger {
	if !categoryEnabled(c) || logsDir == "" {
		return &Logger{category: c}
	}

	mu.RLock()
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, c))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logx] warning: could not open %s: %v\n", path, err)
		return &Logger{category: c}
	}
	l := &Logger{
		category: c,
		file:     f,
		logger:   log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[c] = l
	return l
}

func (l *Logger) emit(lvl Level, tag, format string, args ...interface{}) {
	if l.logger == nil || level > lvl {
		return
	}
	msg := fmt.Sprintf(format, args...)
	mu.RLock()
	jsonFmt := cfg.JSONFormat
	mu.RUnlock()
	if jsonFmt {
		entry := struct {
			TS  int64  `json:"ts"`
			Cat string `json:"cat"`
			Lvl string `json:"lvl"`
			Msg string `json:"msg"`
		}{time.Now().UnixMilli(), string(l.category), tag, msg}
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", tag, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.emit(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.emit(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.emit(LevelWarn, "WARN", format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.emit(LevelError, "ERROR", format, args...) }

// CloseAll flushes and closes every open category log file. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience wrappers for each logging category.

func Router(format string, args ...interface{})     { Get(CategoryRouter).Info(format, args...) }
func Classifier(format string, args ...interface{}) { Get(CategoryClassifier).Info(format, args...) }
func Planner(format string, args ...interface{})    { Get(CategoryPlanner).Info(format, args...) }
func Executor(format string, args ...interface{})   { Get(CategoryExecutor).Info(format, args...) }
func Repair(format string, args ...interface{})     { Get(CategoryRepair).Info(format, args...) }
func Tracker(format string, args ...interface{})    { Get(CategoryTracker).Info(format, args...) }
