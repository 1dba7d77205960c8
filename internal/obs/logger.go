// Package obs holds the observability surface of the monitor:
// structured JSON logging and prometheus metrics.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger emits one JSON object per line to stdout.  Fields maps are
// mutated in place (level and ts are added), so callers should not
// reuse them.
type Logger struct {
	l *log.Logger
}

func NewLogger() *Logger {
	return &Logger{
		l: log.New(os.Stdout, "", 0),
	}
}

func (lg *Logger) Info(fields map[string]interface{}) {
	lg.emit("info", fields)
}

func (lg *Logger) Error(fields map[string]interface{}) {
	lg.emit("error", fields)
}

func (lg *Logger) emit(level string, fields map[string]interface{}) {
	if lg == nil {
		return
	}
	fields["level"] = level
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, _ := json.Marshal(fields)
	lg.l.Println(string(b))
}
