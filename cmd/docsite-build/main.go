// Package main provides the docsite static site build CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/docsite/internal/buildinfo"
	"github.com/euforicio/docsite/internal/config"
	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/renderer/d2"
	"github.com/euforicio/docsite/internal/site"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("docsite-build", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	includeHidden := flags.Bool("hidden", false, "include hidden files when scanning the content tree")
	clean := flags.Bool("clean", true, "wipe the output directory before building")
	assetPrefix := flags.String("asset-prefix", "assets", "relative directory name for copied assets within the output")
	lightDiagrams := flags.Bool("light-diagrams", false, "render D2 diagrams with the light theme")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}

	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("starting docsite-build", slog.String("version", buildinfo.Summary()))

	assetsOverride := ""
	if flags.Changed("assets") {
		assetsOverride = cfg.AssetsDir
	}

	m := metrics.New()
	builder, err := site.New(logger, site.Config{
		D2:         d2.New(logger, &d2.Options{Light: *lightDiagrams}),
		Metrics:    m,
		PluginName: cfg.Plugin.Name,
	})
	if err != nil {
		logger.Error("init site builder failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := builder.Build(ctx, site.Options{
		Site:          cfg.Site,
		Comments:      cfg.Comments,
		Root:          cfg.RootDir,
		OutputDir:     cfg.StaticOutput,
		AssetsDir:     assetsOverride,
		AssetPrefix:   *assetPrefix,
		IncludeHidden: *includeHidden,
		DarkModeFirst: cfg.DarkModeFirst,
		CleanOutput:   *clean,
	})
	if err != nil {
		cancel()
		logger.Error("build failed", slog.Any("err", err))
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}

	logger.Info("build succeeded",
		slog.String("output", res.Output),
		slog.Int("pages", res.Pages),
		slog.Int("anchors", res.Anchors),
		slog.Duration("elapsed", res.Duration))
}
