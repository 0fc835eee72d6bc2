package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	openaioracle "github.com/pvandervelde/cog-works-sub002/internal/adapters/oracle/openai"
	badgerstore "github.com/pvandervelde/cog-works-sub002/internal/adapters/repository/badger"
	memorystore "github.com/pvandervelde/cog-works-sub002/internal/adapters/repository/memory"
	postgresstore "github.com/pvandervelde/cog-works-sub002/internal/adapters/repository/postgres"
	"github.com/pvandervelde/cog-works-sub002/internal/app/usecases"
	"github.com/pvandervelde/cog-works-sub002/internal/config"
	"github.com/pvandervelde/cog-works-sub002/pkg/cogworks"
)

// env holds the wired runtime for one CLI invocation.
type env struct {
	settings *config.Settings
	runtime  *cogworks.Runtime
	graphs   []*cogworks.Graph
	cleanup  []func() error
}

// pipelineName resolves which registered pipeline a run targets: the
// explicitly named one, or the only one loaded.
func (e *env) pipelineName(name string) (string, error) {
	if name != "" {
		for _, g := range e.graphs {
			if g.Name() == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("pipeline %q is not defined", name)
	}
	if len(e.graphs) == 1 {
		return e.graphs[0].Name(), nil
	}
	for _, g := range e.graphs {
		if g.Name() == "default" {
			return "default", nil
		}
	}
	return "", fmt.Errorf("multiple pipelines defined; select one with --name")
}

// buildEnv loads settings, selects the store backend, connects the oracle,
// and registers the configured (or default) pipeline.
func buildEnv() (*env, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(settings.App.LogLevel)
	e := &env{settings: settings}

	store, err := e.openStore(settings)
	if err != nil {
		return nil, err
	}

	var oracle usecases.Oracle
	if settings.Oracle.APIKey != "" {
		oracle = openaioracle.New(openaioracle.Config{
			APIKey:      settings.Oracle.APIKey,
			Model:       settings.Oracle.Model,
			MaxTokens:   settings.Oracle.MaxTokens,
			Temperature: float32(settings.Oracle.Temperature),
			Pricing: openaioracle.Pricing{
				InputPer1K:  settings.Oracle.InputPer1K,
				OutputPer1K: settings.Oracle.OutputPer1K,
			},
		})
	}

	e.runtime = cogworks.NewRuntime(cogworks.Options{
		Oracle:        oracle,
		Store:         store,
		Logger:        logger,
		OracleTimeout: settings.Oracle.EvalTimeout,
	})

	pipelineFile := settings.App.PipelineFile
	if runPipeline != "" {
		pipelineFile = runPipeline
	}
	graphs, err := config.LoadPipelines(pipelineFile)
	if err != nil {
		return nil, err
	}
	e.graphs = graphs
	for _, g := range graphs {
		e.runtime.RegisterGraph(g)
	}
	return e, nil
}

func (e *env) openStore(settings *config.Settings) (usecases.StateStore, error) {
	switch settings.Store.Backend {
	case "badger":
		store, err := badgerstore.Open(settings.Store.BadgerDir, nil)
		if err != nil {
			return nil, err
		}
		e.cleanup = append(e.cleanup, store.Close)
		return store, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, settings.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgresstore.NewStore(pool, nil)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		e.cleanup = append(e.cleanup, func() error { pool.Close(); return nil })
		return store, nil

	default:
		return memorystore.NewStore(nil), nil
	}
}

func (e *env) close() {
	for _, fn := range e.cleanup {
		_ = fn()
	}
}

func newLogger(level string) *slog.Logger {
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
