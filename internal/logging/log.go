// Package logging provides leveled, bracket-tagged log lines for the server
// and the command-line tool. Callers pass a component tag such as
// "[Manager]" at the start of the format string.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level orders messages by severity; higher levels are more verbose.
type Level int32

const (
	ErrorLevel Level = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

// HelpLevels lists the accepted level names for flag help text.
const HelpLevels = "Must be one of: error, warning, info, debug."

var levelNames = [...]string{"error", "warn", "info", "debug"}

func (l Level) String() string {
	if l < ErrorLevel || l > DebugLevel {
		return fmt.Sprintf("level(%d)", int32(l))
	}
	return levelNames[l]
}

var (
	current atomic.Int32
	std     = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() {
	current.Store(int32(InfoLevel))
}

// ParseLevel maps a level name to a Level. The empty name means info.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return ErrorLevel, nil
	case "warning", "warn":
		return WarningLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q (want error, warning, info or debug)", name)
}

// SetLevel changes the verbosity. It is safe to call while decodes log.
func SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	current.Store(int32(level))
	return nil
}

// Init redirects output and sets the level. An unknown level name leaves
// the logger at info and is reported.
func Init(out io.Writer, name string) error {
	std.SetOutput(out)
	level, err := ParseLevel(name)
	current.Store(int32(level))
	return err
}

// Enabled reports whether messages at level are emitted.
func Enabled(level Level) bool {
	return Level(current.Load()) >= level
}

func logf(level Level, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, v...)
	_ = std.Output(3, fmt.Sprintf("%-5s %s", strings.ToUpper(level.String()), msg))
}

func Error(format string, v ...interface{})   { logf(ErrorLevel, format, v...) }
func Warning(format string, v ...interface{}) { logf(WarningLevel, format, v...) }
func Info(format string, v ...interface{})    { logf(InfoLevel, format, v...) }
func Debug(format string, v ...interface{})   { logf(DebugLevel, format, v...) }
