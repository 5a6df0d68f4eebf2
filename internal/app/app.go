// Package app wires stores, the chat client, the mirror engine and the
// dispatcher from configuration. Both binaries start from here.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"taskrelay/internal/config"
	"taskrelay/internal/db"
	"taskrelay/pkg/actor"
	"taskrelay/pkg/journal"
	"taskrelay/pkg/media"
	"taskrelay/pkg/mirror"
	"taskrelay/pkg/relay"
	"taskrelay/pkg/render"
	"taskrelay/pkg/task"
	"taskrelay/pkg/telegram"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Tasks    *task.PgStore
	Actors   *actor.PgStore
	Journal  *journal.Bus
	Telegram *telegram.Client
	Engine   *mirror.Engine
	Relay    *relay.Dispatcher
	Registry *prometheus.Registry
}

// New connects to the database and builds every component. Close releases
// the pool.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	logger := NewLogger(cfg.Log, logOut)

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fs := afero.NewOsFs()
	tg := telegram.NewClient(telegram.Config{
		Token:         cfg.Telegram.Token,
		APIRoot:       cfg.Telegram.APIRoot,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Burst:         cfg.Telegram.Burst,
		HTTPTimeout:   cfg.Telegram.PollTimeout + 30*time.Second,
		FS:            fs,
	})

	tasks := task.NewPgStore(pool)
	actors := actor.NewPgStore(pool)
	bus := journal.NewBus(journal.NewPgStore(pool))

	engine := mirror.New(tg, tasks, actors, render.New(cfg.Web.BaseURL),
		mirror.Config{
			ChatID:       cfg.Chat.ID,
			TopicID:      cfg.Chat.TopicID,
			AlbumChatID:  cfg.Album.ChatID,
			AlbumTopicID: cfg.Album.TopicID,
		},
		mirror.WithLogger(logger.With(slog.String("component", "mirror"))),
		mirror.WithRegistry(reg),
		mirror.WithResolver(media.PathResolver{
			FS:            fs,
			PublicBaseURL: cfg.Media.PublicBaseURL,
			UploadDir:     cfg.Media.UploadDir,
		}),
		mirror.WithShrinker(media.NewTranscoder(fs, cfg.Media.ScratchDir, cfg.Media.MaxPhotoBytes)),
	)

	dispatcher := relay.New(engine, tasks, bus, relay.Config{
		Workers:    cfg.Relay.Workers,
		MaxRetries: cfg.Relay.MaxRetries,
		RetryBase:  cfg.Relay.RetryBase,
		RetryMax:   cfg.Relay.RetryMax,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Tasks:    tasks,
		Actors:   actors,
		Journal:  bus,
		Telegram: tg,
		Engine:   engine,
		Relay:    dispatcher,
		Registry: reg,
	}, nil
}

// EnsureTables creates every table the relay uses.
func (a *App) EnsureTables(ctx context.Context) error {
	if err := a.Tasks.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure tasks table: %w", err)
	}
	if err := a.Actors.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure actors table: %w", err)
	}
	if err := a.Journal.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure journal table: %w", err)
	}
	return nil
}

func (a *App) Close() {
	a.Pool.Close()
}

// NewLogger builds the structured logger from log.level and log.format.
func NewLogger(c config.LogConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
