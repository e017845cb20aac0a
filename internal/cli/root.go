// Package cli provides the prdsmith command line: the API server plus
// maintenance commands that share its configuration.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/prdsmith-backend/internal/app"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "prdsmith",
		Short: "Turn documents, voice and chat into a living PRD",
		Long: `prdsmith ingests documents and voice transcripts per session, summarizes
them chunk by chunk with an LLM and folds the summaries into one cumulative
product requirements document.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				return os.Setenv("PRD_CONFIG_FILE", configFile)
			}
			return nil
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML file of KEY: value settings (env vars win)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(chunkCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp builds the application graph for one command and closes it after.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(ctx)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()
	return fn(a)
}
