package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/router"
	"github.com/wudi/verkehr/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/verkehr.yaml", "Path to static configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate static and dynamic configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("verkehr %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		if err := validate(loader, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("starting verkehr",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		logging.Error("failed to create server", zap.Error(err))
		os.Exit(1)
	}
	if err := srv.Run(ctx); err != nil {
		logging.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

// validate parses the file provider's routing file and compiles it the
// way a merge would, so rule and middleware errors surface too.
func validate(loader *config.Loader, cfg *config.Config) error {
	f := cfg.Providers.File
	if f == nil {
		return nil
	}
	rc, err := loader.LoadRouting(f.Path)
	if err != nil {
		return fmt.Errorf("routing file %s: %w", f.Path, err)
	}
	if _, err := router.NewTable(rc, nil); err != nil {
		return fmt.Errorf("routing file %s: %w", f.Path, err)
	}
	return nil
}
