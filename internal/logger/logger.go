// Package logger is a small leveled logger shared by every package of the host.
package logger

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32
	logger       = stdlog.New(os.Stdout, "", 0)
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel changes the minimum level that is written. Unknown names are ignored.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel.Store(int32(LevelDebug))
	case "INFO":
		currentLevel.Store(int32(LevelInfo))
	case "WARN":
		currentLevel.Store(int32(LevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LevelError))
	}
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Writer exposes the underlying output so middleware can share it.
func Writer() io.Writer {
	return logger.Writer()
}

func log(level Level, format string, v ...any) {
	if int32(level) < currentLevel.Load() {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] ", timestamp, level.String())
	logger.Println(prefix + fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
