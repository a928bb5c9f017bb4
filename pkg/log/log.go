package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once by Init.
var Logger zerolog.Logger

// Level is one of the four levels this agent logs at.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. JSONOutput picks structured JSON lines
// (what the agent runs with in production, for log-shipping); the console
// writer is for local/interactive use.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
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

// WithComponent scopes the global logger to one of the agent's long-lived
// collaborators (dispatcher, bus, scheduler, ...), for lines that aren't
// about any particular request.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTarget scopes the global logger to a subscribed target, used for
// subscribe/unsubscribe and connection-lifecycle lines that aren't tied to a
// specific request.
func WithTarget(target string) zerolog.Logger {
	return Logger.With().Str("target", target).Logger()
}

// WithTrackingID scopes the global logger to one in-flight request, so every
// line an election, its showdown, and its eventual subprocess produce can be
// grepped out as a single sequence.
func WithTrackingID(trackingID string) zerolog.Logger {
	return Logger.With().Str("tracking_id", trackingID).Logger()
}

// WithRequest scopes the global logger to both the target and tracking id of
// an in-flight request, the pairing execute/spawn/fail sites need since a
// lifecycle event is addressed to a target but correlated by tracking id.
func WithRequest(target, trackingID string) zerolog.Logger {
	return Logger.With().Str("target", target).Str("tracking_id", trackingID).Logger()
}
