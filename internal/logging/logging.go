package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sydlexius/rosterimport/internal/config"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string
	Format         string
	FilePath       string
	FileMaxSizeMB  int
	FileMaxFiles   int
	FileMaxAgeDays int
	// Stdout receives console output. nil means os.Stdout.
	Stdout io.Writer
}

// FromConfig converts the application logging section.
func FromConfig(c config.LoggingConfig) Config {
	return Config{
		Level:          c.Level,
		Format:         c.Format,
		FilePath:       c.FilePath,
		FileMaxSizeMB:  c.FileMaxSizeMB,
		FileMaxFiles:   c.FileMaxFiles,
		FileMaxAgeDays: c.FileMaxAgeDays,
	}
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s max_size=%dMB max_files=%d max_age=%dd",
			c.FilePath, c.FileMaxSizeMB, c.FileMaxFiles, c.FileMaxAgeDays)
	}
	return s
}

// handler forwards records to the manager's current output handler.
// Attributes and groups added through With are replayed onto whatever
// output is current, so derived loggers follow a reconfiguration.
type handler struct {
	root  *atomic.Pointer[slog.Handler]
	ops   []func(slog.Handler) slog.Handler
	cache atomic.Pointer[derived]
}

type derived struct {
	base *slog.Handler
	h    slog.Handler
}

func (h *handler) current() slog.Handler {
	base := h.root.Load()
	if len(h.ops) == 0 {
		return *base
	}
	if c := h.cache.Load(); c != nil && c.base == base {
		return c.h
	}
	out := *base
	for _, op := range h.ops {
		out = op(out)
	}
	h.cache.Store(&derived{base: base, h: out})
	return out
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.current().Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	return h.current().Handle(ctx, r)
}

func (h *handler) with(op func(slog.Handler) slog.Handler) *handler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &handler{root: h.root, ops: append(ops, op)}
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	mu       sync.Mutex
	levelVar *slog.LevelVar
	root     atomic.Pointer[slog.Handler]
	config   Config
	file     *lumberjack.Logger
}

// NewManager creates a Manager and returns it along with a ready-to-use logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	m := &Manager{levelVar: &slog.LevelVar{}}
	m.levelVar.Set(ParseLevel(cfg.Level))
	m.install(cfg)
	return m, slog.New(&handler{root: &m.root})
}

func (m *Manager) install(cfg Config) {
	var out io.Writer = os.Stdout
	if cfg.Stdout != nil {
		out = cfg.Stdout
	}
	m.file = nil
	if cfg.FilePath != "" {
		m.file = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.FileMaxSizeMB, 100),
			MaxBackups: orDefault(cfg.FileMaxFiles, 5),
			MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
		}
		out = io.MultiWriter(out, m.file)
	}

	opts := &slog.HandlerOptions{Level: m.levelVar}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	m.root.Store(&h)
	m.config = cfg
}

// Reconfigure applies a new configuration at runtime. A level change
// takes effect immediately; a format or output change swaps the handler
// and closes the previous log file.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(ParseLevel(cfg.Level))

	old := m.config
	if cfg.Format == old.Format && cfg.FilePath == old.FilePath &&
		cfg.FileMaxSizeMB == old.FileMaxSizeMB && cfg.FileMaxFiles == old.FileMaxFiles &&
		cfg.FileMaxAgeDays == old.FileMaxAgeDays && cfg.Stdout == old.Stdout {
		m.config = cfg
		return
	}

	prev := m.file
	m.install(cfg)
	if prev != nil {
		prev.Close() //nolint:errcheck
	}
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// ParseLevel converts a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
