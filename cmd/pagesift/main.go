package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/pagesift/pagesift/internal/adaptive"
	"github.com/pagesift/pagesift/internal/article"
	"github.com/pagesift/pagesift/internal/crawler"
	"github.com/pagesift/pagesift/internal/fetch"
	"github.com/pagesift/pagesift/internal/platform/config"
	"github.com/pagesift/pagesift/internal/platform/observability"
	"github.com/pagesift/pagesift/internal/plugin"
	"github.com/pagesift/pagesift/internal/query"
	"github.com/pagesift/pagesift/internal/render"
)

const usage = `Usage:
  pagesift fetch <url>   Fetch one URL and print the extracted article as JSON
  pagesift crawl         Crawl per CRAWL_* environment configuration
`

func main() {
	// Setup logger
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if cfg.MetricsPort > 0 {
		go func() {
			if err := observability.NewServer(cfg.MetricsPort, &logger).Start(ctx); err != nil {
				logger.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "fetch":
		err = runFetch(ctx, cfg, os.Args[2:], &logger)
	case "crawl":
		err = runCrawl(ctx, cfg, &logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Command failed")
	}
}

// buildEngine wires the fetch client, adaptive fetcher and query engine
// from the shared configuration. The returned renderer is nil when
// headless rendering is disabled.
func buildEngine(cfg *config.Config, logger *zerolog.Logger) (*query.Engine, *fetch.Client, render.Renderer, func(), error) {
	limiter, err := fetch.NewDomainLimiter(cfg.FetchRPS)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var proxies *fetch.ProxyRotator
	if len(cfg.ProxyList) > 0 {
		proxies, err = fetch.NewProxyRotator(cfg.ProxyList, cfg.ProxyRotation)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("proxy rotator: %w", err)
		}
	}

	client := fetch.NewClient(limiter, proxies, logger)

	var renderer render.Renderer

	cleanup := func() {}

	if cfg.HeadlessEnabled {
		chrome := render.NewChromeRenderer(logger)
		renderer = chrome
		cleanup = func() { _ = chrome.Close() }
	}

	registry := plugin.Default()

	engine := query.New(query.Config{
		Client:     client,
		Fetcher:    adaptive.NewFetcher(client, renderer, registry, logger),
		Registry:   registry,
		MaxWorkers: cfg.MaxWorkers,
	}, logger)

	return engine, client, renderer, cleanup, nil
}

func runFetch(ctx context.Context, cfg *config.Config, args []string, logger *zerolog.Logger) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	pretty := fs.Bool("pretty", true, "indent the JSON output")
	format := fs.String("format", "", "registered output formatter to use instead of JSON")
	forceRender := fs.Bool("render", false, "fetch through the headless browser directly")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	engine, _, _, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := fetch.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		Retries:   cfg.FetchRetries,
	}
	if cfg.RotateUA {
		opts.UserAgent = fetch.RotatingUserAgent()
	}

	var art *article.Article

	if *forceRender {
		art, err = engine.FetchRendered(ctx, fs.Arg(0), opts)
	} else {
		art, err = engine.Fetch(ctx, fs.Arg(0), opts)
	}

	if err != nil {
		return err
	}

	if *format != "" {
		formatter, ok := plugin.Default().Formatter(*format)
		if !ok {
			return fmt.Errorf("unknown output format %q", *format)
		}

		out, err := formatter.Format(art)
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(out)

		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	return enc.Encode(art)
}

func runCrawl(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	crawlCfg, err := crawler.Load()
	if err != nil {
		return err
	}

	if crawlCfg.UserAgent == "" {
		crawlCfg.UserAgent = cfg.UserAgent
	}

	engine, client, renderer, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := crawler.New(crawlCfg, engine, client, renderer, logger)
	if err != nil {
		return err
	}

	return c.Run(ctx)
}

// setLogLevel sets the global log level based on the configuration.
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
