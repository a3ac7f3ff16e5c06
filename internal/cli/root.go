package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/drive-side-service/internal/circuitbreaker"
	"github.com/kjstillabower/drive-side-service/internal/client"
	"github.com/kjstillabower/drive-side-service/internal/config"
	"github.com/kjstillabower/drive-side-service/internal/models"
	"github.com/kjstillabower/drive-side-service/internal/observability"
	"github.com/kjstillabower/drive-side-service/internal/repository"
	"github.com/kjstillabower/drive-side-service/internal/store"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"yaml", "json", "text"}

// Repository is the repository surface the commands drive.
type Repository interface {
	GetAll(ctx context.Context) ([]models.Country, error)
	CountriesBySide(ctx context.Context, side string) ([]models.Country, error)
	Upsert(ctx context.Context, countries []models.Country) (int, error)
	Refresh(ctx context.Context) ([]models.Country, error)
}

// Opener builds a Repository for one command run. The returned Closer releases the store.
// Errors that are already an *ExitError keep their code; any other error is treated as
// a store failure.
type Opener func(ctx context.Context, opts *RootOptions, logger *zap.Logger) (Repository, io.Closer, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
	Timeout    time.Duration

	open Opener
}

// NewRootCommand creates the drivectl root command backed by the configured store and remote.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOpener(OpenFromConfig)
}

// NewRootCommandWithOpener creates the root command with a custom repository opener.
func NewRootCommandWithOpener(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "drivectl",
		Short: "Query and manage the drive-side country table",
		Long: `drivectl reads and writes the same country table the drive-side service serves.

An empty table is filled from the remote country API on first read.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default config/$ENV_NAME.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "yaml", "output format (yaml|json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSideCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withRepository opens the repository, runs fn under the command timeout, and closes the store.
func withRepository(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, repo Repository) error) error {
	logger := zap.NewNop()
	if opts.Verbose {
		l, err := observability.NewLogger()
		if err != nil {
			return WrapExitError(ExitCommandError, "logger", err)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ctx = observability.WithLogger(ctx, logger)

	repo, closer, err := opts.open(ctx, opts, logger)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure, "open store", err)
	}
	if closer != nil {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn("close store", zap.Error(cerr))
			}
		}()
	}
	return fn(ctx, repo)
}

// OpenFromConfig loads configuration and wires store, client and repository the same way
// the service does. Config errors exit 2; a store that cannot be opened exits 1.
func OpenFromConfig(ctx context.Context, opts *RootOptions, logger *zap.Logger) (Repository, io.Closer, error) {
	var cfg *config.Config
	var err error
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "config", err)
	}

	c, err := client.NewRESTCountriesClientWithRetry(cfg.RemoteURL, cfg.RemoteTimeout, cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "config", err)
	}
	if cfg.CircuitBreakerEnabled {
		c.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "country_api",
		}))
	}

	backend, err := store.Open(ctx, store.Options{
		Backend:               cfg.StoreBackend,
		SQLitePath:            cfg.SQLitePath,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("store opened", zap.String("backend", cfg.StoreBackend))

	repo := repository.NewCountryRepository(backend, c,
		repository.WithLogger(logger),
		repository.WithNameMaxLength(cfg.NameMaxLength),
	)
	return repo, backend, nil
}
