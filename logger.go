package laiqclient

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Logger is the minimal structured logging interface used throughout the
// client. Arguments are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes leveled key=value lines to stderr. It is intended for
// development; production hosts inject their own Logger.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger returns a console logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{l: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (s *SimpleLogger) Debug(msg string, kv ...any) { s.write("DEBUG", msg, kv) }
func (s *SimpleLogger) Info(msg string, kv ...any)  { s.write("INFO", msg, kv) }
func (s *SimpleLogger) Warn(msg string, kv ...any)  { s.write("WARN", msg, kv) }
func (s *SimpleLogger) Error(msg string, kv ...any) { s.write("ERROR", msg, kv) }

func (s *SimpleLogger) write(level, msg string, kv []any) {
	line := level + " " + msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		line += fmt.Sprintf(" %v=?", kv[len(kv)-1])
	}
	s.l.Print(line)
}

// DebugConfig selects which request lifecycle events are logged when a
// Logger is configured. All flags off means silence outside of warnings.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogRetries   bool
	LogRecovery  bool
	RequestIDGen func() string
}

// DefaultDebugConfig enables nothing; callers opt in per concern.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogRetries:   true,
		LogRecovery:  true,
		RequestIDGen: defaultRequestID,
	}
}

var requestSeq atomic.Int64

func defaultRequestID() string {
	return fmt.Sprintf("req-%d", requestSeq.Add(1))
}
