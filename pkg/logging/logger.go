// Package logging configures zerolog for the studio engine and names the
// components and fields every package logs with.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a minimum level name as read from LOG_LEVEL.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Components passed to NewLogger.
const (
	ComponentPool     = "credential-pool"
	ComponentKeystore = "keystore"
	ComponentClient   = "gemini-client"
	ComponentBatch    = "batch"
	ComponentRunner   = "studio-runner"
	ComponentAutosave = "session-autosave"
	ComponentServer   = "http-server"
)

// Field names shared across components.
const (
	FieldComponent    = "component"
	FieldCredential   = "credential"
	FieldCredentialID = "credential_id"
	FieldErrorClass   = "error_class"
	FieldErrorKind    = "error_kind"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the global logger every component logger derives from.
// Component loggers created before Setup keep the previous output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel accepts zerolog level names and "warning". Anything else,
// including an empty level, logs at info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		return zerolog.WarnLevel
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// Level guide:
//
//	debug  credential selection, remote request flow, per-output progress
//	info   batch start/finish, credential promotion, session load/save, startup
//	warn   quota retries, rotation, skipped outputs, scenario fallbacks,
//	       rejected status writes
//	error  batch aborts, autosave failures, configuration errors
//
// A credential is only ever logged through FieldCredential with its masked
// preview, or through FieldCredentialID. The secret value is never logged.
