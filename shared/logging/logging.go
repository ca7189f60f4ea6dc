package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

const (
	format = "2006-01-02 15:04:05"
)

// levels maps the -v count to a logrus level, quietest first.
var levels = []log.Level{
	log.ErrorLevel,
	log.WarnLevel,
	log.InfoLevel,
	log.DebugLevel,
	log.TraceLevel,
}

func init() {
	log.SetFormatter(&Formatter{})
	log.SetLevel(log.ErrorLevel)
}

// SetVerbosity selects the log level from a repeat count, 0 being errors only.
func SetVerbosity(v int) log.Level {
	if v < 0 {
		v = 0
	}
	if v >= len(levels) {
		v = len(levels) - 1
	}

	log.SetLevel(levels[v])
	return levels[v]
}

// SetOutput redirects the standard logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Formatter prints one colored line per entry with fields sorted by key.
type Formatter struct{}

func (f *Formatter) Format(e *log.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(e.Time.Format(format))
	b.WriteByte(' ')
	b.WriteString(label(e.Level))
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}

	return []byte(paint(e.Level).Sprint(b.String()) + "\n"), nil
}

func label(l log.Level) string {
	switch l {
	case log.TraceLevel:
		return "TRACE"
	case log.DebugLevel:
		return "DEBUG"
	case log.InfoLevel:
		return "INFO"
	case log.WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

func paint(l log.Level) *color.Color {
	switch l {
	case log.TraceLevel:
		return color.New(color.FgCyan)
	case log.DebugLevel:
		return color.New(color.FgGreen)
	case log.InfoLevel:
		return color.New(color.FgWhite)
	case log.WarnLevel:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgRed)
	}
}

func Trace(msg string) {
	log.Trace(msg)
}

func Tracef(msg string, args ...interface{}) {
	log.Tracef(msg, args...)
}

func Debug(msg string) {
	log.Debug(msg)
}

func Debugf(msg string, args ...interface{}) {
	log.Debugf(msg, args...)
}

func Info(msg string) {
	log.Info(msg)
}

func Infof(msg string, args ...interface{}) {
	log.Infof(msg, args...)
}

func Warning(msg string) {
	log.Warn(msg)
}

func Warningf(msg string, args ...interface{}) {
	log.Warnf(msg, args...)
}

func Error(msg string) {
	log.Error(msg)
}

func Errorf(msg string, args ...interface{}) {
	log.Errorf(msg, args...)
}

// Fatalf logs at error severity and exits the process.
func Fatalf(msg string, args ...interface{}) {
	log.Fatalf(msg, args...)
}
