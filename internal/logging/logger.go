// Package logging provides config-driven categorized file-based logging.
// Logs are written to .truststack/logs/ with separate files per category.
// Logging is controlled by debug_mode in .truststack/config.json - when
// false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and wiring
	CategoryCollector Category = "collector" // URL collection pipeline
	CategoryFetch     Category = "fetch"     // Page fetches and retries
	CategoryBrowser   Category = "browser"   // Headless browser worker
	CategorySearch    Category = "search"    // Search providers
	CategoryRobots    Category = "robots"    // robots.txt decisions
	CategoryDetect    Category = "detect"    // Attribute detectors
	CategoryScore     Category = "score"     // Scoring pipeline and aggregation
	CategoryStore     Category = "store"     // SQLite persistence
	CategoryRun       Category = "run"       // Run orchestration
	CategoryAPI       Category = "api"       // LLM API calls
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry represents a JSON log entry.
type StructuredLogEntry struct {
	Timestamp int64          `json:"ts"`
	Category  string         `json:"cat"`
	Level     string         `json:"lvl"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    loggingConfig
	configMu  sync.RWMutex
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".truststack", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== TrustStack logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", config.Level)
	return nil
}

func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".truststack", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			config.DebugMode = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	return nil
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}
	if logsDir == "" {
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

	// Date prefix makes rotation a delete-by-glob.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions - quick logging without getting a logger first.
// These are no-ops if the category is disabled.

func Collector(format string, args ...any)      { Get(CategoryCollector).Info(format, args...) }
func CollectorDebug(format string, args ...any) { Get(CategoryCollector).Debug(format, args...) }
func CollectorWarn(format string, args ...any)  { Get(CategoryCollector).Warn(format, args...) }

func Fetch(format string, args ...any)      { Get(CategoryFetch).Info(format, args...) }
func FetchDebug(format string, args ...any) { Get(CategoryFetch).Debug(format, args...) }
func FetchWarn(format string, args ...any)  { Get(CategoryFetch).Warn(format, args...) }

func Browser(format string, args ...any)      { Get(CategoryBrowser).Info(format, args...) }
func BrowserDebug(format string, args ...any) { Get(CategoryBrowser).Debug(format, args...) }
func BrowserWarn(format string, args ...any)  { Get(CategoryBrowser).Warn(format, args...) }
func BrowserError(format string, args ...any) { Get(CategoryBrowser).Error(format, args...) }

func Search(format string, args ...any)      { Get(CategorySearch).Info(format, args...) }
func SearchDebug(format string, args ...any) { Get(CategorySearch).Debug(format, args...) }
func SearchWarn(format string, args ...any)  { Get(CategorySearch).Warn(format, args...) }

func Robots(format string, args ...any)      { Get(CategoryRobots).Info(format, args...) }
func RobotsDebug(format string, args ...any) { Get(CategoryRobots).Debug(format, args...) }

func Detect(format string, args ...any)      { Get(CategoryDetect).Info(format, args...) }
func DetectDebug(format string, args ...any) { Get(CategoryDetect).Debug(format, args...) }
func DetectWarn(format string, args ...any)  { Get(CategoryDetect).Warn(format, args...) }

func Score(format string, args ...any)      { Get(CategoryScore).Info(format, args...) }
func ScoreDebug(format string, args ...any) { Get(CategoryScore).Debug(format, args...) }
func ScoreWarn(format string, args ...any)  { Get(CategoryScore).Warn(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...any)  { Get(CategoryStore).Warn(format, args...) }

func Run(format string, args ...any)      { Get(CategoryRun).Info(format, args...) }
func RunDebug(format string, args ...any) { Get(CategoryRun).Debug(format, args...) }
func RunWarn(format string, args ...any)  { Get(CategoryRun).Warn(format, args...) }
func RunError(format string, args ...any) { Get(CategoryRun).Error(format, args...) }

func API(format string, args ...any)      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }
func APIWarn(format string, args ...any)  { Get(CategoryAPI).Warn(format, args...) }

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
