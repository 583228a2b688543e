package weave

import (
	"fmt"
	"io"

	"github.com/kiosk404/mcpweave/pkg/logger"
)

// StatusSink receives human-readable progress, warning and error text from
// the orchestrator. Implementations must never panic across this boundary;
// every failure the orchestrator hits is also returned as a value.
type StatusSink interface {
	Output(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
}

// loggerSink routes status text to the process log.
type loggerSink struct{}

// NewLoggerSink returns a sink backed by pkg/logger.
func NewLoggerSink() StatusSink {
	return loggerSink{}
}

func (loggerSink) Output(format string, args ...any)  { logger.Info("[Weave] "+format, args...) }
func (loggerSink) Warning(format string, args ...any) { logger.Warn("[Weave] "+format, args...) }
func (loggerSink) Error(format string, args ...any)   { logger.Error("[Weave] "+format, args...) }

// writerSink routes status text to an io.Writer, one line per message.
type writerSink struct {
	w io.Writer
}

// NewWriterSink returns a sink that writes plain lines to w.
func NewWriterSink(w io.Writer) StatusSink {
	return &writerSink{w: w}
}

func (s *writerSink) Output(format string, args ...any) {
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *writerSink) Warning(format string, args ...any) {
	fmt.Fprintf(s.w, "warning: "+format+"\n", args...)
}

func (s *writerSink) Error(format string, args ...any) {
	fmt.Fprintf(s.w, "error: "+format+"\n", args...)
}
