// Package elog provides structured logging for Epicenter using zerolog.
//
// Every workspace, index, and provider logs through a component-scoped
// child logger instead of fmt.Println, so background failures (a save
// that can't propagate to a caller, a diagnostics write that fails) still
// show up somewhere operators can see them.
package elog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level is a logging severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: os.Stdout})
}

// Init (re)initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithWorkspace scopes a child logger to a workspace id.
func WithWorkspace(workspaceID string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Logger()
}

// WithTable scopes a child logger to a table within a workspace.
func WithTable(workspaceID, table string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Str("table", table).Logger()
}

// WithIndex scopes a child logger to a named index (sql, markdown, ...).
func WithIndex(workspaceID, index string) zerolog.Logger {
	return Logger.With().Str("workspace", workspaceID).Str("index", index).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf logs err at Error level with format as the message, verbatim;
// no formatting is applied.
func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}
