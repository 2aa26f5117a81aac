package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/notify"
	"stratline/internal/repo"
)

// Options selects the workspace and overrides parts of stratline.yml.
type Options struct {
	Workspace string
	// DSN wins over database.dsn from the config file.
	DSN string
	// OrgID wins over org.id from the config file.
	OrgID string
	// LogLevel and LogFormat win over the log section when set.
	LogLevel  string
	LogFormat string
	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// Context is everything a command or the server needs to run operations.
type Context struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Logger *slog.Logger
	Engine engine.Engine
}

// Open loads the config (defaults when the file is absent), opens and
// migrates the database and builds the engine with its notifiers.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.OrgID != "" {
		cfg.Org.ID = opts.OrgID
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	dsn := cfg.Database.DSN
	if opts.DSN != "" {
		dsn = opts.DSN
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(out, cfg.Log.Level, cfg.Log.Format)

	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, DSN: dsn})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.New(conn, dialect)
	eng := engine.New(r, cfg,
		engine.WithLogger(logger),
		engine.WithNotifier(Notifier(cfg, logger)),
	)
	logger.DebugContext(ctx, "workspace opened", "dialect", dialect, "org_id", cfg.Org.ID)
	return &Context{DB: conn, Repo: r, Config: cfg, Logger: logger, Engine: eng}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// Notifier logs every notification and posts to the configured webhooks.
func Notifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	out := notify.Multi{notify.LogNotifier{Logger: logger}}
	if len(cfg.Notifications.Webhooks) > 0 {
		out = append(out, notify.NewWebhookNotifier(cfg.Notifications.Webhooks))
	}
	return out
}

// NewLogger builds a text or json slog handler at the given level.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
