// Package log provides the leveled, key=value structured logger used across the
// graph engine and the jcfg command.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger interface defines structured logging methods
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	SetLevel(level Level)
	SetJSONOutput(enabled bool)
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level      Level
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// DefaultLogger is the default implementation of Logger
type DefaultLogger struct {
	mu         *sync.Mutex
	level      Level
	jsonOutput bool
	stdout     io.Writer
	stderr     io.Writer
	colors     bool
	fields     []interface{}
}

var (
	defaultLogger *DefaultLogger
	once          sync.Once
)

// New creates a new logger with the given configuration
func New(cfg LoggerConfig) *DefaultLogger {
	l := &DefaultLogger{
		mu:         &sync.Mutex{},
		level:      cfg.Level,
		jsonOutput: cfg.JSONOutput,
		stdout:     cfg.Stdout,
		stderr:     cfg.Stderr,
		colors:     isTerminal(cfg.Stderr),
	}

	// Default to os.Stdout/os.Stderr if not provided
	if l.stdout == nil {
		l.stdout = os.Stdout
	}
	if l.stderr == nil {
		l.stderr = os.Stderr
	}

	return l
}

// Default returns the default logger instance
func Default() *DefaultLogger {
	once.Do(func() {
		defaultLogger = New(LoggerConfig{
			Level:  InfoLevel,
			Stdout: os.Stdout,
			Stderr: os.Stderr,
		})
	})
	return defaultLogger
}

// Discard returns a logger that drops every message. Tests use it to keep
// warnings out of the output.
func Discard() *DefaultLogger {
	return New(LoggerConfig{Level: ErrorLevel + 1, Stdout: io.Discard, Stderr: io.Discard})
}

// With returns a logger that appends the given key/value pairs to every
// message. The returned logger shares the parent's output and lock.
func (l *DefaultLogger) With(args ...interface{}) *DefaultLogger {
	child := *l
	child.fields = append(append([]interface{}{}, l.fields...), args...)
	return &child
}

// OrDefault returns l, or the process-wide logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}

func isTerminal(w io.Writer) bool {
	if _, ok := w.(*os.File); ok {
		return isTTY()
	}
	return false
}

// IsTTY checks if the standard output is a TTY
func IsTTY() bool {
	return isTTY()
}

func isTTY() bool {
	return runtime.GOOS != "windows" && os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// pairs splits args into key/value pairs; a leading odd argument is returned
// separately as a bare value.
func pairs(args []interface{}) (bare interface{}, kv []interface{}) {
	if len(args)%2 != 0 {
		return args[0], args[1:]
	}
	return nil, args
}

// formatMessage formats the message with key-value args
func formatMessage(msg string, args ...interface{}) string {
	if len(args) == 0 {
		return msg
	}

	var sb strings.Builder
	sb.WriteString(msg)

	bare, kv := pairs(args)
	if bare != nil {
		sb.WriteString(" ")
		sb.WriteString(fmt.Sprintf("%v", bare))
	}

	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(fmt.Sprintf("%v", kv[i+1]))
	}

	return sb.String()
}

func (l *DefaultLogger) colorize(level Level, msg string) string {
	if !l.colors {
		return msg
	}
	return getColor(level) + msg + "\033[0m"
}

func getColor(level Level) string {
	switch level {
	case DebugLevel:
		return "\033[36m"
	case InfoLevel:
		return "\033[32m"
	case WarnLevel:
		return "\033[33m"
	case ErrorLevel:
		return "\033[31m"
	default:
		return ""
	}
}

// write outputs the log message
func (l *DefaultLogger) write(level Level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	levelStr := level.String()
	all := append(append([]interface{}{}, l.fields...), args...)

	if l.jsonOutput {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     levelStr,
			"message":   msg,
		}
		bare, kv := pairs(all)
		if bare != nil {
			entry["detail"] = fmt.Sprintf("%v", bare)
		}
		for i := 0; i < len(kv); i += 2 {
			if key, ok := kv[i].(string); ok {
				entry[key] = jsonValue(kv[i+1])
			}
		}
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.stderr, string(data))
		return
	}

	coloredMsg := l.colorize(level, formatMessage(msg, all...))
	fmt.Fprintf(l.stderr, "[%s] %s: %s\n", timestamp, levelStr, coloredMsg)
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	if l.level > DebugLevel {
		return
	}
	l.write(DebugLevel, msg, args)
}

// Info logs an info message
func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	if l.level > InfoLevel {
		return
	}
	l.write(InfoLevel, msg, args)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	if l.level > WarnLevel {
		return
	}
	l.write(WarnLevel, msg, args)
}

// Error logs an error message
func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	if l.level > ErrorLevel {
		return
	}
	l.write(ErrorLevel, msg, args)
}

// SetLevel sets the minimum log level
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetJSONOutput enables or disables JSON output
func (l *DefaultLogger) SetJSONOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jsonOutput = enabled
}

// ProgressSpinner provides a spinner for long-running batch builds
type ProgressSpinner struct {
	mu       sync.Mutex
	message  string
	spinner  []string
	current  int
	active   bool
	writer   io.Writer
	colors   bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewProgressSpinner creates a new progress spinner
func NewProgressSpinner(message string) *ProgressSpinner {
	return &ProgressSpinner{
		message:  message,
		spinner:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		writer:   os.Stderr,
		colors:   isTTY(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the spinner animation
func (p *ProgressSpinner) Start() {
	p.mu.Lock()
	p.active = true
	p.mu.Unlock()

	go p.animate()
}

// Stop stops the spinner and clears its line.
func (p *ProgressSpinner) Stop() {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.active = false
	p.mu.Unlock()

	close(p.stopChan)
	<-p.done
	fmt.Fprint(p.writer, "\r\033[K")
}

// Message updates the spinner message
func (p *ProgressSpinner) Message(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
}

func (p *ProgressSpinner) animate() {
	defer close(p.done)
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			p.draw()
			p.mu.Unlock()
		case <-p.stopChan:
			return
		}
	}
}

func (p *ProgressSpinner) draw() {
	spinnerChar := p.spinner[p.current%len(p.spinner)]
	p.current++

	if p.colors {
		fmt.Fprintf(p.writer, "\r\033[36m%s\033[0m %s", spinnerChar, p.message)
	} else {
		fmt.Fprintf(p.writer, "\r%s %s", spinnerChar, p.message)
	}
}

// BatchProgress reports "done/total" progress of a class batch through a
// spinner. It is safe for concurrent use by build workers.
type BatchProgress struct {
	mu      sync.Mutex
	label   string
	total   int
	done    int
	failed  int
	spinner *ProgressSpinner
}

// NewBatchProgress starts a spinner labelled with label for total units.
func NewBatchProgress(label string, total int) *BatchProgress {
	bp := &BatchProgress{label: label, total: total, spinner: NewProgressSpinner(label)}
	bp.spinner.Start()
	return bp
}

// Done records one finished unit. failed marks units that ended in an error.
func (bp *BatchProgress) Done(name string, failed bool) {
	bp.mu.Lock()
	bp.done++
	if failed {
		bp.failed++
	}
	msg := fmt.Sprintf("%s %d/%d %s", bp.label, bp.done, bp.total, name)
	bp.mu.Unlock()
	bp.spinner.Message(msg)
}

// Close stops the spinner and returns the number of failed units.
func (bp *BatchProgress) Close() int {
	bp.spinner.Stop()
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.failed
}
