package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/qabot/internal/api"
	"github.com/kalambet/qabot/internal/config"
	"github.com/kalambet/qabot/internal/engine"
	"github.com/kalambet/qabot/internal/storage"
)

// localEnv is an engine opened directly on the data dir, for commands that
// run without the server.
type localEnv struct {
	store *storage.Store
	eng   *engine.Engine
	asks  *api.AskRecorder
}

func setupLogging(cfg config.Config) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		DataDir:        cfg.Storage.DataDir,
		Threshold:      &cfg.Matcher.Threshold,
		FoldDiacritics: cfg.Matcher.FoldDiacritics,
		FallbackAnswer: cfg.Bot.FallbackAnswer,
		CacheSize:      cfg.Matcher.CacheSize,
		Logger:         slog.Default(),
	}
}

func openLocal(ctx context.Context, cfg config.Config) (*localEnv, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	eng, err := engine.Open(ctx, store, engineConfig(cfg))
	if err != nil {
		store.Close()
		if errors.Is(err, engine.ErrLocked) {
			return nil, fmt.Errorf("%w: stop the running server or use the HTTP commands", err)
		}
		return nil, fmt.Errorf("opening engine: %w", err)
	}

	return &localEnv{
		store: store,
		eng:   eng,
		asks: &api.AskRecorder{
			Store:  store,
			Notify: cfg.GoogleChat.WebhookURL != "",
			Logger: slog.Default(),
		},
	}, nil
}

func (l *localEnv) Close() error {
	return errors.Join(l.eng.Close(), l.store.Close())
}
