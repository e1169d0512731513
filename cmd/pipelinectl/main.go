// Command pipelinectl runs expense events through the pipeline from the
// shell and inspects the recorded job runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/garyjia/expense-pipeline/internal/config"
	"github.com/garyjia/expense-pipeline/internal/container"
	httpapi "github.com/garyjia/expense-pipeline/internal/interfaces/http"
	"github.com/garyjia/expense-pipeline/pkg/utils"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Process expense events and inspect job runs",
		Long: `pipelinectl drives the expense pipeline without the HTTP server.

It reads the same configuration as the server (config file, .env and
EXPENSE_* environment variables) and works against the same database.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/config.yaml when present)")
	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(processCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(runCmd())
	root.AddCommand(policiesCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = "configs/config.yaml"
	}

	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	// CLI output goes to stdout, so logs stay on stderr
	logger, err = utils.NewLogger(utils.LoggerConfig{
		Level:      viper.GetString("logging.level"),
		OutputPath: "stderr",
		Format:     viper.GetString("logging.format"),
		Service:    "pipelinectl",
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

// withContainer starts the dependency container for the duration of fn
func withContainer(ctx context.Context, fn func(*container.Container) error) (err error) {
	app, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pipelinectl %s\n", httpapi.Version)
			return err
		},
	}
}
