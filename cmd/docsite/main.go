// Package main provides the docsite development server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/docsite/internal/auth"
	"github.com/euforicio/docsite/internal/buildinfo"
	"github.com/euforicio/docsite/internal/config"
	"github.com/euforicio/docsite/internal/content"
	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/renderer"
	"github.com/euforicio/docsite/internal/renderer/d2"
	"github.com/euforicio/docsite/internal/server"
	"github.com/euforicio/docsite/internal/site"
	"github.com/euforicio/docsite/internal/waline"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("docsite", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "print version information and exit")
	lightDiagrams := flags.Bool("light-diagrams", false, "render D2 diagrams with the light theme")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		return
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	logger = logger.With("app", "docsite")
	slog.SetDefault(logger)
	logger.Info("starting docsite", slog.String("version", buildinfo.Summary()), slog.String("root", cfg.RootDir))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *lightDiagrams); err != nil && !errors.Is(err, context.Canceled) {
		cancel()
		logger.Error("server error", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, lightDiagrams bool) error {
	m := metrics.New()
	diagrams := d2.New(logger, &d2.Options{Light: lightDiagrams})

	// One renderer for the lifetime of the process: its build context keeps
	// anchor counters across edits.
	rendererSvc := renderer.NewService(logger, renderer.Options{
		D2:         diagrams,
		Metrics:    m,
		PluginName: cfg.Plugin.Name,
	})

	contentSvc, err := content.NewService(ctx, cfg.RootDir, rendererSvc, logger, content.Options{})
	if err != nil {
		return fmt.Errorf("content service init: %w", err)
	}
	defer func() {
		if err := contentSvc.Close(); err != nil {
			logger.Error("close content service", slog.Any("err", err))
		}
	}()

	builder, err := site.New(logger, site.Config{
		D2:         diagrams,
		Metrics:    m,
		PluginName: cfg.Plugin.Name,
		Renderer:   rendererSvc,
	})
	if err != nil {
		return fmt.Errorf("site builder init: %w", err)
	}

	deps := server.Deps{Content: contentSvc, Builder: builder, Metrics: m}
	if cfg.Comments.Enabled() {
		client, err := waline.New(cfg.Comments.ServerURL, waline.Options{Logger: logger, Lang: cfg.Comments.Lang})
		if err != nil {
			return err
		}
		store, err := auth.OpenStore(cfg.SessionFile, logger)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		deps.Comments = client
		deps.Auth = auth.NewService(client, store, auth.ServerConfig{
			ServerURL: client.ServerURL(),
			Lang:      cfg.Comments.Lang,
		}, logger, m)
		logger.Info("comments enabled", slog.String("server", client.ServerURL()), slog.Bool("logged_in", store.State().LoggedIn))
	}

	srv, err := server.New(cfg, logger, deps)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return srv.Start(ctx)
}
