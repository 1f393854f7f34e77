package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel = zerolog.Level

const (
	Debug LogLevel = zerolog.DebugLevel
	Info  LogLevel = zerolog.InfoLevel
	Error LogLevel = zerolog.ErrorLevel
	Trace LogLevel = zerolog.TraceLevel
)

func ToLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return Debug
	case "info":
		return Info
	case "error":
		return Error
	case "trace":
		return Trace
	default:
		return Info
	}
}

type Config struct {
	// ConsoleWriters for standard output, e.g. os.Stdout
	ConsoleWriters []io.Writer

	// FilePath is the rotating log file destination; empty disables file logging
	FilePath string

	LogLevel LogLevel
}

type Logger struct {
	logger zerolog.Logger
}

func New(config *Config) (*Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	writers := []io.Writer{}

	if config.FilePath != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		writers = append(writers, fileWriter)
	}

	for _, writer := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{Out: writer})
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("refusing to create a logger with no output writers")
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(config.LogLevel).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}, nil
}

// DefaultLogger writes to stdout only, a convenience for entrypoints that
// have not loaded their configuration yet.
func DefaultLogger(level LogLevel) *Logger {
	logger, _ := New(&Config{
		ConsoleWriters: []io.Writer{os.Stdout},
		LogLevel:       level,
	})
	return logger
}

func (l *Logger) AddAgentVersion(version string) {
	l.logger = l.logger.With().Str("agentVersion", version).Logger()
}

// GetComponentLogger returns a child logger annotated with the component name
func (l *Logger) GetComponentLogger(component string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", component).Logger(),
	}
}

// GetChannelLogger returns a child logger annotated with a channel id
func (l *Logger) GetChannelLogger(id string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("channel", id).Logger(),
	}
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...any) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...any) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...any) {
	l.logger.Error().Msgf(format, a...)
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...any) {
	l.logger.Trace().Msgf(format, a...)
}
