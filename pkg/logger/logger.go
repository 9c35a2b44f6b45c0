// Package logger wraps zerolog with the category-gated debug mode the
// relay's domains need: packet codec, reorder queue, FEC, video/audio
// receivers, handshake, WebRTC signalling, and health supervision.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel is a parsed -log-level value.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat is a parsed -log-format value.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// DebugCategory gates verbose per-domain logging.
type DebugCategory string

const (
	DebugPacket     DebugCategory = "packet"
	DebugReorder    DebugCategory = "reorder"
	DebugFEC        DebugCategory = "fec"
	DebugVideo      DebugCategory = "video"
	DebugAudio      DebugCategory = "audio"
	DebugHandshake  DebugCategory = "handshake"
	DebugSignalling DebugCategory = "signalling"
	DebugHealth     DebugCategory = "health"
	DebugAll        DebugCategory = "all"
)

func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format %q", s)
}

func (l LogLevel) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config controls logger construction. enabledCategories is guarded by
// its own mutex since debug flags can be toggled at runtime by future
// admin endpoints.
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	OutputFile string

	mu                sync.RWMutex
	enabledCategories map[DebugCategory]bool
}

func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		enabledCategories: make(map[DebugCategory]bool),
	}
}

func (c *Config) EnableCategory(cat DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabledCategories[cat] = true
}

func (c *Config) categoryEnabled(cat DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabledCategories[DebugAll] || c.enabledCategories[cat]
}

// Logger embeds zerolog.Logger and adds category-gated debug helpers.
type Logger struct {
	zerolog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger per cfg, writing to stdout or an opened file.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		w = f
	}

	if cfg.Format == FormatText {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	zl := zerolog.New(w).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()

	return &Logger{Logger: zl, config: cfg, file: file}, nil
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a child logger with additional key/value fields,
// preserving the category configuration.
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.Logger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{Logger: ctx.Logger(), config: l.config, file: l.file}
}

func (l *Logger) debugCategory(cat DebugCategory, msg string, kv ...any) {
	if !l.config.categoryEnabled(cat) {
		return
	}
	ev := l.Logger.Debug().Str("category", string(cat))
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func (l *Logger) DebugPacket(msg string, kv ...any)     { l.debugCategory(DebugPacket, msg, kv...) }
func (l *Logger) DebugReorder(msg string, kv ...any)    { l.debugCategory(DebugReorder, msg, kv...) }
func (l *Logger) DebugFEC(msg string, kv ...any)        { l.debugCategory(DebugFEC, msg, kv...) }
func (l *Logger) DebugVideo(msg string, kv ...any)      { l.debugCategory(DebugVideo, msg, kv...) }
func (l *Logger) DebugAudio(msg string, kv ...any)      { l.debugCategory(DebugAudio, msg, kv...) }
func (l *Logger) DebugHandshake(msg string, kv ...any)  { l.debugCategory(DebugHandshake, msg, kv...) }
func (l *Logger) DebugSignalling(msg string, kv ...any) { l.debugCategory(DebugSignalling, msg, kv...) }
func (l *Logger) DebugHealth(msg string, kv ...any)     { l.debugCategory(DebugHealth, msg, kv...) }

var (
	defaultOnce sync.Once
	defaultLog  *Logger
	defaultMu   sync.RWMutex
)

// SetDefault installs the package-level default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

// Default returns the package-level logger, lazily building a plain
// info-level console logger if none was installed.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLog
	defaultMu.RUnlock()
	if l != nil {
		return l
	}
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		if defaultLog == nil {
			l, _ := New(NewConfig())
			defaultLog = l
		}
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

func Info(msg string, kv ...any)  { Default().With(kv...).Logger.Info().Msg(msg) }
func Warn(msg string, kv ...any)  { Default().With(kv...).Logger.Warn().Msg(msg) }
func Error(msg string, kv ...any) { Default().With(kv...).Logger.Error().Msg(msg) }
func Debug(msg string, kv ...any) { Default().With(kv...).Logger.Debug().Msg(msg) }
