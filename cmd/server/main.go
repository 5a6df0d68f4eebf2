package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"taskrelay/internal/api"
	"taskrelay/internal/app"
	"taskrelay/internal/config"
	"taskrelay/pkg/bot"
	"taskrelay/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	if err := a.EnsureTables(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	sessions, err := session.NewMemoryStore(cfg.Session.TTL, cfg.Session.Capacity)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer sessions.Close()

	interactor := bot.NewInteractor(a.Telegram, a.Tasks, a.Actors, sessions, a.Relay)
	poller := bot.NewPoller(a.Telegram, interactor, bot.PollerConfig{
		Timeout:        cfg.Telegram.PollTimeout,
		MaxReconnects:  cfg.Bot.MaxReconnects,
		InitialBackoff: cfg.Bot.InitialBackoff,
		MaxBackoff:     cfg.Bot.MaxBackoff,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(a.Tasks, a.Journal, a.Relay, a.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Relay.Run(gctx)
	})
	g.Go(func() error {
		// Losing the update session stops the process so the supervisor
		// restarts it with a clean session.
		return poller.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("taskrelay listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("taskrelay: %v", err)
	}
	log.Println("taskrelay: stopped")
}
