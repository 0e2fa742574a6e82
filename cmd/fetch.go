package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchscrape/internal/dispatcher"
	"github.com/JakeFAU/batchscrape/internal/scrape"
	"github.com/JakeFAU/batchscrape/internal/targets"
)

// persistGrace bounds writing a partial batch after an interrupt.
const persistGrace = 30 * time.Second

func newFetchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [target...]",
		Short: "Fetch a batch of targets and write their outcomes",
		Long: `Fetches every target given as an argument, with --target, listed in
--targets-file (one per line, "-" for stdin) or configured under "targets".
Each target yields exactly one outcome. Failures are recorded, not fatal.`,
		RunE: withApp(runFetchCommand),
	}

	flags := cmd.Flags()
	flags.StringSlice("target", nil, "target to fetch (repeatable)")
	flags.String("targets-file", "", `file with one target per line ("-" reads stdin)`)
	flags.Int("workers", 0, "number of concurrent workers")
	flags.Int("timeout", 0, "per-target timeout in seconds")
	flags.String("output", "", "output URI (path, file://, gs://bucket/object or memory://name)")

	bind := map[string]string{
		"targets":               "target",
		"targets_file":          "targets-file",
		"batch.workers":         "workers",
		"batch.timeout_seconds": "timeout",
		"output.uri":            "output",
	}
	for key, name := range bind {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func runFetchCommand(cmd *cobra.Command, args []string, appInstance App) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	var (
		fromFile []scrape.Target
		err      error
	)
	if cfg.TargetsFile != "" {
		fromFile, err = targets.Load(cfg.TargetsFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	list := targets.Merge(append(append([]string(nil), args...), cfg.Targets...), fromFile)

	logger.Info("batch scrape starting",
		zap.Int("targets", len(list)),
		zap.Int("workers", cfg.Batch.Workers),
		zap.Duration("timeout", cfg.FetchTimeout()),
	)
	batch, runErr := appInstance.Dispatcher().Run(cmd.Context(), list, cfg.Batch.Workers)
	var interrupted *dispatcher.InterruptedError
	if runErr != nil && !errors.As(runErr, &interrupted) {
		return runErr
	}

	persistCtx := cmd.Context()
	if interrupted != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.WithoutCancel(cmd.Context()), persistGrace)
		defer cancel()
	}
	sinkErr := appInstance.Sink().Write(persistCtx, batch)

	summary := batch.Summary()
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d targets: %d succeeded, %d failed.\n",
		summary.Total, summary.Succeeded, summary.Failed)
	if sinkErr == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", cfg.Output.URI)
	}
	logger.Info("batch scrape finished",
		zap.String("batch_id", batch.ID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return errors.Join(runErr, sinkErr)
}
