// Package cmd defines the batchscrape command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/app"
	"github.com/JakeFAU/batchscrape/internal/config"
	"github.com/JakeFAU/batchscrape/internal/dispatcher"
	"github.com/JakeFAU/batchscrape/internal/logging"
	"github.com/JakeFAU/batchscrape/internal/scrape"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the service container. It lets tests
// inject their own container.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Dispatcher() *dispatcher.Dispatcher
	Sink() scrape.Sink
	Close(ctx context.Context) error
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "batchscrape",
		Short: "Fetch a list of targets concurrently and record one outcome per target.",
		Long: `batchscrape fetches every target in a list using a fixed pool of
workers, records a success (status code and body excerpt) or a failure
(reason) for each one, and writes the outcomes as a JSON document.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				logging.Sync(logger)
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newFetchCmd(v))
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts run into a cobra RunE that always closes the App, also when
// run fails. Cobra skips post-run hooks after a RunE error, so closing cannot
// live there.
func withApp(run func(cmd *cobra.Command, args []string, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			closeErr := appInstance.Close(context.WithoutCancel(cmd.Context()))
			logging.Sync(appInstance.Logger())
			if closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close application services: %w", closeErr))
			}
		}()
		return run(cmd, args, appInstance)
	}
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
