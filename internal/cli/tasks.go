package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kylemclaren/claude-tasker/internal/db"
	"github.com/kylemclaren/claude-tasker/internal/execlog"
	"github.com/kylemclaren/claude-tasker/internal/metrics"
)

var addCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Queue a new task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetInt("priority")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		return withStore(func(ctx context.Context, store *db.DB) error {
			task, err := store.Enqueue(ctx, strings.Join(args, " "), priority, tags)
			if err != nil {
				return err
			}
			metrics.TasksEnqueued.WithLabelValues("cli").Inc()
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (priority %d)\n", task.ID, task.Priority)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := db.TaskFilter{Status: db.Status(status), Limit: limit}
		if status != "" && !filter.Status.Valid() {
			return fmt.Errorf("unknown status %q (queued, in_progress, completed, failed)", status)
		}

		return withStore(func(ctx context.Context, store *db.DB) error {
			tasks, err := store.ListTasks(ctx, filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTaskTable(tasks))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show queue counters, or one task in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(func(ctx context.Context, store *db.DB) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				task, err := store.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, task)
				}
				printTask(out, task)
				return nil
			}

			stats, err := store.Stats(ctx, time.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, stats)
			}
			fmt.Fprintf(out, "Queue size:      %d\n", stats.Queued)
			fmt.Fprintf(out, "In progress:     %d\n", stats.InProgress)
			fmt.Fprintf(out, "Completed today: %d\n", stats.CompletedToday)
			fmt.Fprintf(out, "Completed:       %d\n", stats.Completed)
			fmt.Fprintf(out, "Failed:          %d\n", stats.Failed)
			fmt.Fprintf(out, "Total:           %d\n", stats.Total)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a queued task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *db.DB) error {
			if err := store.DeleteQueued(ctx, args[0]); err != nil {
				if errors.Is(err, db.ErrNotQueued) {
					return fmt.Errorf("%s has already been dispatched and cannot be deleted", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the execution log, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		taskID, _ := cmd.Flags().GetString("task")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(func(ctx context.Context, store *db.DB) error {
			recorder := execlog.NewRecorder(store)
			var entries []*db.LogEntry
			var err error
			if taskID != "" {
				entries, err = recorder.ForTask(ctx, taskID)
			} else {
				entries, err = recorder.List(ctx, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s  %d chars  %s\n", e.Timestamp.Local().Format(time.DateTime), e.TaskID, e.ResponseLength, firstLine(e.TaskDescription))
				for _, line := range strings.Split(e.ResponsePreview, "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
			return nil
		})
	},
}

func init() {
	addCmd.Flags().IntP("priority", "p", 3, "priority from 1 (low) to 5 (high)")
	addCmd.Flags().StringSliceP("tags", "t", nil, "comma-separated tags")

	listCmd.Flags().String("status", "", "only tasks in this status")
	listCmd.Flags().Int("limit", 0, "maximum tasks to show (0 for all)")

	logCmd.Flags().String("task", "", "only entries for this task ID")
	logCmd.Flags().Int("limit", 20, "most recent entries to show (0 for all)")

	for _, cmd := range []*cobra.Command{listCmd, statusCmd, logCmd} {
		cmd.Flags().Bool("json", false, "print JSON")
	}
}

// withStore opens the store for a short-lived command
func withStore(fn func(ctx context.Context, store *db.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, store)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6a9bcc")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func renderTaskTable(tasks []*db.Task) string {
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		rows[i] = []string{
			t.ID,
			strconv.Itoa(t.Priority),
			string(t.Status),
			strconv.Itoa(t.RetryCount),
			t.CreatedAt.Local().Format("Jan 02 15:04"),
			clipText(firstLine(t.Description), 50),
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#b0aea5"))).
		Headers("ID", "P", "STATUS", "RETRIES", "CREATED", "DESCRIPTION").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func printTask(w io.Writer, t *db.Task) {
	fmt.Fprintf(w, "ID:          %s\n", t.ID)
	fmt.Fprintf(w, "Status:      %s\n", t.Status)
	fmt.Fprintf(w, "Priority:    %d\n", t.Priority)
	fmt.Fprintf(w, "Retries:     %d\n", t.RetryCount)
	if len(t.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(t.Tags, ", "))
	}
	fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", t.StartedAt.Local().Format(time.DateTime))
	}
	if t.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:    %s\n", t.FinishedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "Description: %s\n", t.Description)

	o := t.ExecutionResult
	if o == nil {
		return
	}
	fmt.Fprintf(w, "\nLast attempt %d (%s): succeeded=%t, %d action(s), %d failed\n",
		o.Attempt, (time.Duration(o.DurationMs) * time.Millisecond).String(), o.Succeeded, len(o.ActionResults), o.FailedActions())
	if o.FailureReason != "" {
		fmt.Fprintf(w, "Reason: %s\n", o.FailureReason)
	}
	for i, r := range o.ActionResults {
		fmt.Fprintf(w, "  [%d] %s exit=%d %s\n", i+1, r.Kind, r.ExitIndicator, r.Target)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func clipText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
