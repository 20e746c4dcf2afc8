package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// levelChars are the Stash plugin protocol level markers.
var levelChars = map[LogLevel]byte{
	LevelTrace: 't',
	LevelDebug: 'd',
	LevelInfo:  'i',
	LevelWarn:  'w',
	LevelError: 'e',
	LevelFatal: 'e',
}

const progressChar = 'p'

// Format selects how log entries are rendered.
type Format int

const (
	// FormatPlain renders "[time] [LEVEL] [file:line] message".
	FormatPlain Format = iota
	// FormatPlugin renders the Stash plugin wire format: \x01<level>\x02<message>.
	FormatPlugin
)

// ParseLevel maps a level name to a LogLevel. Unknown names fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// ParseFormat maps "plain" or "plugin" to a Format. Unknown names fall back to plain.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "plugin") {
		return FormatPlugin
	}
	return FormatPlain
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

type Logger struct {
	mu     sync.Mutex
	level  LogLevel
	format Format
	logger *log.Logger
}

func NewLogger(level LogLevel) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(os.Stdout, "", 0),
	}
}

// NewWriterLogger creates a logger writing to w in the given format.
func NewWriterLogger(w io.Writer, level LogLevel, format Format) *Logger {
	return &Logger{
		level:  level,
		format: format,
		logger: log.New(w, "", 0),
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	l.format = format
	l.mu.Unlock()
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.logger.SetOutput(w)
	l.mu.Unlock()
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(LevelFatal, format, args...)
	os.Exit(1)
}

// Progress reports a completion fraction, clamped to [0,1].
// Plugin format emits a progress line; plain format logs it at debug level.
func (l *Logger) Progress(fraction float64) {
	fraction = ClampProgress(fraction)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.format == FormatPlugin {
		l.logger.Print(pluginLine(progressChar, strconv.FormatFloat(fraction, 'f', -1, 64)))
		return
	}
	if LevelDebug < l.level {
		return
	}
	l.logger.Println(plainLine(LevelDebug, "unknown", 0, fmt.Sprintf("progress %.2f%%", fraction*100)))
}

// ClampProgress bounds a progress fraction to [0,1].
func ClampProgress(fraction float64) float64 {
	if fraction != fraction || fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)

	if l.format == FormatPlugin {
		for _, line := range strings.Split(message, "\n") {
			l.logger.Print(pluginLine(levelChars[level], line))
		}
		return
	}

	// caller: user code -> convenience func or method -> log
	_, file, line, ok := runtime.Caller(2)
	fileName := "unknown"
	if ok {
		fileName = filepath.Base(file)
	}
	l.logger.Println(plainLine(level, fileName, line, message))
}

func plainLine(level LogLevel, fileName string, line int, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("[%s] [%s] [%s:%d] %s",
		timestamp,
		levelNames[level],
		fileName,
		line,
		message)
}

func pluginLine(level byte, message string) string {
	return "\x01" + string(level) + "\x02" + message
}

// FileLogger is a logger backed by a file.
type FileLogger struct {
	*Logger
	file *os.File
}

// NewFileLogger opens (or creates) logFile in append mode.
func NewFileLogger(logFile string, level LogLevel) (*FileLogger, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := NewLogger(level)
	logger.logger = log.New(file, "", 0)

	return &FileLogger{
		Logger: logger,
		file:   file,
	}, nil
}

// File returns the underlying log file.
func (l *FileLogger) File() *os.File {
	return l.file
}

func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// TruncateFile empties an existing log file. A missing file is not an error.
func TruncateFile(logFile string) error {
	if logFile == "" {
		return nil
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return nil
	}
	return os.Truncate(logFile, 0)
}

var globalLogger *Logger

// InitLogger replaces the global logger with a stdout logger at level.
func InitLogger(level LogLevel) {
	globalLogger = NewLogger(level)
}

// SetLogger replaces the global logger.
func SetLogger(l *Logger) {
	globalLogger = l
}

func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = NewLogger(LevelInfo)
	}
	return globalLogger
}

func Trace(format string, args ...interface{}) {
	GetLogger().Trace(format, args...)
}

func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

func Fatal(format string, args ...interface{}) {
	GetLogger().Fatal(format, args...)
}

func Progress(fraction float64) {
	GetLogger().Progress(fraction)
}
