package cli

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/prdsmith-backend/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the task worker pool and the chat digest loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withApp(ctx, func(a *app.App) error {
			a.Start(ctx)
			err := a.Run(ctx)
			a.Log.Info("Shutting down")
			return err
		})
	},
}
