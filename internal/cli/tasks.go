package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/prdsmith-backend/internal/app"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
)

var (
	listSession string
	listStatus  string
	listLimit   int
	resumeAll   bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and resume summarization tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withApp(ctx, func(a *app.App) error {
			tasks, err := a.Services.Docs.ListTasks(ctx, listSession, listStatus, listLimit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found")
				return nil
			}
			fmt.Printf("%-8s %-20s %-24s %-15s %-10s %-20s %s\n", "ID", "SESSION", "FILE", "STATUS", "PROGRESS", "UPDATED", "ERROR")
			fmt.Println("------------------------------------------------------------------------------------------------------------")
			for _, t := range tasks {
				progress := fmt.Sprintf("%d/%d", t.CompletedChunks, t.TotalChunks)
				fmt.Printf("%-8d %-20s %-24s %-15s %-10s %-20s %s\n",
					t.TaskID, shorten(t.SessionID, 20), shorten(t.Filename, 24), t.Status, progress,
					time.Unix(t.UpdatedAt, 0).Format(time.RFC3339),
					shorten(t.Error, 60),
				)
			}
			return nil
		})
	},
}

var tasksResumeCmd = &cobra.Command{
	Use:   "resume [task-id...]",
	Short: "Run tasks to completion in this process, resuming from their cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resumeAll && len(args) == 0 {
			return fmt.Errorf("pass task ids or --all")
		}
		ctx, stop := signalContext()
		defer stop()
		return withApp(ctx, func(a *app.App) error {
			ids := make([]int64, 0, len(args))
			for _, raw := range args {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", raw)
				}
				ids = append(ids, id)
			}
			if resumeAll {
				pending, err := a.Repos.Tasks.ListPendingIDs(dbctx.With(ctx))
				if err != nil {
					return fmt.Errorf("list pending tasks: %w", err)
				}
				ids = append(ids, pending...)
			}
			failed := 0
			for _, id := range ids {
				if _, err := a.Services.Docs.Requeue(ctx, id); err != nil {
					return fmt.Errorf("requeue task %d: %w", id, err)
				}
				if err := a.Services.Worker.Process(ctx, id); err != nil {
					failed++
					fmt.Fprintf(os.Stderr, "task %d: %v\n", id, err)
					if ctx.Err() != nil {
						return ctx.Err()
					}
					continue
				}
				st, err := a.Services.Docs.Status(ctx, id, "")
				if err != nil {
					return err
				}
				fmt.Printf("task %d: %s (%d/%d chunks)\n", id, st.Status, st.CompletedChunks, st.TotalChunks)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", failed, len(ids))
			}
			return nil
		})
	},
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print task events published to Redis as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withApp(ctx, func(a *app.App) error {
			if a.Clients.Bus == nil {
				return fmt.Errorf("REDIS_ADDR is not set")
			}
			enc := json.NewEncoder(os.Stdout)
			err := a.Clients.Bus.StartForwarder(ctx, func(ev types.TaskEvent) {
				if listSession != "" && ev.SessionID != listSession {
					return
				}
				_ = enc.Encode(ev)
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	tasksListCmd.Flags().StringVarP(&listSession, "session", "s", "", "only tasks of this session")
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "only tasks in this status")
	tasksListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "maximum rows")
	tasksResumeCmd.Flags().BoolVar(&resumeAll, "all", false, "resume every unfinished task")
	tasksWatchCmd.Flags().StringVarP(&listSession, "session", "s", "", "only events of this session")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksResumeCmd)
	tasksCmd.AddCommand(tasksWatchCmd)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
