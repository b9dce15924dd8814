package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"auction-scraper/config"
	"auction-scraper/models"
	"auction-scraper/scraper/storagetreasures"
	"auction-scraper/services"
	"auction-scraper/storage"
	"auction-scraper/utils"
)

type runOptions struct {
	state       string
	zip         string
	radius      int
	maxPages    int
	concurrency int
	types       string
	configPath  string
	store       string
	csvPath     string
	logLevel    string
	headless    bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "auction-scraper",
		Short:         "auction-scraper harvests storage-unit auction listings into a local store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run (--state XX | --zip 12345) [flags]",
		Short: "Acquires every live auction in one state or zip code radius.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquisition(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.state, "state", "", "two-letter state code, e.g. FL")
	f.StringVar(&opts.zip, "zip", "", "five-digit zip code to search around")
	f.IntVar(&opts.radius, "radius", 0, "search radius in miles for --zip (default from config)")
	f.IntVar(&opts.maxPages, "max-pages", 0, "stop after this many pages (0 = all)")
	f.IntVar(&opts.concurrency, "page-concurrency", 0, "pages fetched at once, 1-4 (default from config)")
	f.StringVar(&opts.types, "types", "", "auction types by code or name, e.g. 1,2 or lien,charity")
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.store, "store", "", "listing store: postgres, sqlite or memory")
	f.StringVar(&opts.csvPath, "csv", "", "also write the run's live listings to this CSV file")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&opts.headless, "headless", true, "run Chrome headless")
	cmd.MarkFlagsMutuallyExclusive("state", "zip")

	return cmd
}

// loadConfig layers flags over file and environment configuration.
func loadConfig(cmd *cobra.Command, opts *runOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	overrides := config.Config{
		MaxPages:        opts.maxPages,
		PageConcurrency: opts.concurrency,
		RadiusMiles:     opts.radius,
		CSVPath:         opts.csvPath,
		LogLevel:        opts.logLevel,
		Store:           config.StoreConfig{Driver: opts.store},
	}
	if opts.types != "" {
		overrides.FilterTypes = opts.types
	}
	if err := cfg.Override(overrides); err != nil {
		return nil, err
	}
	// false is a zero value, so mergo cannot carry it.
	if cmd.Flags().Changed("headless") {
		cfg.Headless = opts.headless
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.FilterTypes, err = config.ParseAuctionTypes(cfg.FilterTypes)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func scopeFromFlags(state, zip string, radius int) (models.Scope, error) {
	var scope models.Scope
	switch {
	case state != "" && zip != "":
		return scope, fmt.Errorf("use either --state or --zip, not both")
	case state != "":
		scope = models.StateScope(state)
	case zip != "":
		scope = models.ZipScope(zip, radius)
	default:
		return scope, fmt.Errorf("one of --state or --zip is required")
	}
	if err := scope.Validate(); err != nil {
		return scope, err
	}
	return scope, nil
}

// openStore returns the configured store with its schema in place, and a
// function that releases it.
func openStore(ctx context.Context, sc config.StoreConfig) (storage.Store, func(), error) {
	switch sc.Driver {
	case "memory":
		return storage.NewMemoryStore(), func() {}, nil

	case "sqlite":
		s, err := storage.NewSQLiteStore(sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		s, err := storage.NewPostgresStore(ctx, sc.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func runAcquisition(cmd *cobra.Command, opts *runOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	scope, err := scopeFromFlags(opts.state, opts.zip, cfg.RadiusMiles)
	if err != nil {
		return err
	}

	logger := utils.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("scraper starting",
		"scope", scope.String(),
		"store", cfg.Store.Driver,
		"max_pages", cfg.MaxPages,
		"types", cfg.FilterTypes,
		"delay", fmt.Sprintf("%v-%v", cfg.MinDelay, cfg.MaxDelay))

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer closeStore()

	userAgent := utils.RandomUserAgent()
	orchestrator := storagetreasures.NewOrchestrator(
		storagetreasures.NewBrowserBootstrapper(storagetreasures.BootstrapConfig{
			SiteURL:   cfg.SiteURL,
			APIURL:    cfg.APIURL,
			Timeout:   cfg.BootstrapTimeout,
			Headless:  cfg.Headless,
			UserAgent: userAgent,
		}, logger),
		storagetreasures.NewFetcher(storagetreasures.FetcherConfig{
			PageSize:         cfg.PageSize,
			FilterTypes:      cfg.FilterTypes,
			RequestTimeout:   cfg.RequestTimeout,
			MinDelay:         cfg.MinDelay,
			MaxDelay:         cfg.MaxDelay,
			CloudflareBypass: cfg.CloudflareBypass,
			UserAgent:        userAgent,
		}, logger),
		services.NewCoordinator(store, logger),
		storagetreasures.Normalizer{SiteURL: cfg.SiteURL, MediaURL: cfg.MediaURL},
		storagetreasures.OrchestratorConfig{
			PageSize:        cfg.PageSize,
			MaxPages:        cfg.MaxPages,
			MaxRetries:      cfg.MaxRetries,
			RetryBaseDelay:  cfg.RetryBaseDelay,
			RequestTimeout:  cfg.RequestTimeout,
			PageConcurrency: cfg.PageConcurrency,
			FilterTypes:     cfg.FilterTypes,
		},
		logger,
	)

	var entries []models.UpsertedListing
	orchestrator.OnListing = func(l models.Listing, r models.UpsertResult) {
		entries = append(entries, models.UpsertedListing{Listing: l, Result: r})
	}

	summary := orchestrator.Run(ctx, scope)

	services.PrintReport(cmd.OutOrStdout(), services.GenerateReport(summary, entries))

	if cfg.CSVPath != "" && len(entries) > 0 {
		w := storage.NewCSVWriter(cfg.CSVPath)
		if err := w.Write(entries); err != nil {
			logger.Error("failed to save CSV", "path", w.Path(), "err", err)
		} else {
			logger.Info("saved CSV", "path", w.Path(), "rows", len(entries))
		}
	}

	switch summary.Outcome {
	case models.OutcomeFailed:
		return fmt.Errorf("run failed after %d pages: %w", summary.PagesVisited, summary.Err)
	case models.OutcomeCancelled:
		return fmt.Errorf("run cancelled after %d pages", summary.PagesVisited)
	}
	return nil
}
