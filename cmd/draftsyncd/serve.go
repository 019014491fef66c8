package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/draftsync/draftsync/internal/config"
	"github.com/draftsync/draftsync/pkg/server"
	"github.com/draftsync/draftsync/pkg/store"
	"github.com/draftsync/draftsync/pkg/store/dynamo"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		configPath string
		backend    string
		table      string
		logJSON    bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		Long: `Start the sync server.

Configuration is read from draftsync.json in the working directory
when present; command-line flags override file values.

Examples:
  draftsyncd serve
  draftsyncd serve --addr=:8080
  draftsyncd serve --store=dynamodb --table=drafts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, configPath, backend, table, logJSON, verbose)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from draftsync.json)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to draftsync.json")
	cmd.Flags().StringVar(&backend, "store", "", "Storage backend: memory or dynamodb")
	cmd.Flags().StringVar(&table, "table", "", "DynamoDB table name")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runServe(addr, configPath, backend, table string, logJSON, verbose bool) error {
	logger := newLogger(logJSON, verbose)
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return wdErr
		}
		cfg, err = config.Load(wd)
	}
	if err != nil {
		return err
	}

	// Apply command-line overrides
	if addr != "" {
		cfg.Addr = addr
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	if table != "" {
		cfg.Store.Table = table
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := newStore(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(st, cfg.ServerConfig())
	return srv.Run()
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory draft store")
		return store.NewMemory(), nil

	case config.BackendDynamoDB:
		awsCfg := aws.NewConfig()
		if cfg.Store.Region != "" {
			awsCfg = awsCfg.WithRegion(cfg.Store.Region)
		}
		if cfg.Store.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.Store.Endpoint)
		}

		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("dynamodb session: %w", err)
		}

		dao := dynamo.New(dynamodb.New(sess), cfg.Store.Table)
		if err := dao.CreateTableIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("dynamodb table %s: %w", cfg.Store.Table, err)
		}

		logger.Info("using dynamodb draft store", "table", cfg.Store.Table)
		return dao, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newLogger(logJSON, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
