package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/prdsmith-backend/internal/app"
)

var finalizePrint bool

var finalizeCmd = &cobra.Command{
	Use:   "finalize <session-id>",
	Short: "Fold every summary not yet in the PRD and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withApp(ctx, func(a *app.App) error {
			res, err := a.Services.PRD.Finalize(ctx, args[0])
			if err != nil {
				return err
			}
			if finalizePrint {
				fmt.Print(res.Content)
				return nil
			}
			switch {
			case res.Unchanged:
				fmt.Fprintf(os.Stdout, "session %s: PRD already up to date (record %d, version %d)\n",
					args[0], res.Record.ID, res.Record.Version)
			default:
				fmt.Fprintf(os.Stdout, "session %s: folded %d chunks into record %d (fallback=%v)\n",
					args[0], res.FoldedChunks, res.Record.ID, res.Fallback)
			}
			return nil
		})
	},
}

func init() {
	finalizeCmd.Flags().BoolVarP(&finalizePrint, "print", "p", false, "print the PRD markdown instead of a summary line")
}
