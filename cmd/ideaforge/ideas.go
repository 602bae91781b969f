package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ideaforge/internal/app"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/repo"
)

func commandCmd() *cobra.Command {
	var userID string
	var wait bool
	cmd := &cobra.Command{
		Use:   "command <text>",
		Short: "Classify and run one command",
		Long: `Classify the text and dispatch it to the matching handler.
An idea submitted by a project command stays queued until an engine runs;
--wait runs it here until it completes, fails, or needs input.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if wait {
					if err := rt.Start(ctx); err != nil {
						return err
					}
				}
				out := rt.Gateway.ProcessCommand(ctx, gateway.Command{
					ProjectID: projectID(rt),
					UserID:    userID,
					Text:      strings.Join(args, " "),
				})
				if err := printOutcome(out); err != nil {
					return err
				}
				id, _ := out.Result.Data["idea_id"].(string)
				if !wait || id == "" {
					return nil
				}
				st, err := waitSettled(ctx, rt.Engine, id)
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id")
	cmd.Flags().BoolVar(&wait, "wait", false, "run a submitted idea until it settles")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show how a command would be routed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res := rt.Classifier.Classify(ctx, strings.Join(args, " "))
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("domain=%s mode=%s confidence=%.2f method=%s\n", res.Domain, res.Mode, res.Confidence, res.Method)
				return nil
			})
		},
	}
}

func ideaCmd() *cobra.Command {
	c := &cobra.Command{Use: "idea", Short: "Inspect and steer ideas"}
	c.AddCommand(ideaSubmitCmd())
	c.AddCommand(ideaStatusCmd())
	c.AddCommand(ideaListCmd())
	c.AddCommand(ideaInputCmd())
	return c
}

func ideaSubmitCmd() *cobra.Command {
	var priority int
	var userID string
	var ctxValues []string
	var wait bool
	cmd := &cobra.Command{
		Use:   "submit <content>",
		Short: "Submit an idea directly, bypassing classification",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(ctxValues)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if wait {
					if err := rt.Start(ctx); err != nil {
						return err
					}
				}
				idea, err := rt.Engine.Submit(ctx, engine.NewIdea{
					ProjectID: projectID(rt),
					Content:   strings.Join(args, " "),
					UserID:    userID,
					Source:    "cli",
					Priority:  priority,
					Context:   values,
				})
				if err != nil {
					return err
				}
				if !wait {
					if viper.GetBool("json") {
						return printJSON(idea)
					}
					fmt.Printf("Queued idea %s\n", idea.ID)
					return nil
				}
				st, err := waitSettled(ctx, rt.Engine, idea.ID)
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	cmd.Flags().StringVar(&userID, "user", "cli", "user id")
	cmd.Flags().StringArrayVar(&ctxValues, "context", nil, "context key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "run the idea until it settles")
	return cmd
}

func ideaStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show an idea's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := rt.Engine.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
}

func ideaListCmd() *cobra.Command {
	var f repo.StatusFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				f.ProjectID = projectID(rt)
				recs, err := rt.Engine.ListStatuses(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Phase", "Progress", "Content", "Updated"})
				for _, rec := range recs {
					tw.AppendRow(table.Row{
						rec.Idea.ID,
						rec.Status.Phase,
						fmt.Sprintf("%.0f%%", rec.Status.Progress*100),
						truncate(rec.Idea.Content, 40),
						rec.Status.UpdatedAt,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "max ideas")
	return cmd
}

func ideaInputCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "input <id> key=value...",
		Short: "Supply missing details and resume generation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Start(ctx); err != nil {
					return err
				}
				if _, err := rt.Engine.ProvideInput(ctx, args[0], values, userID); err != nil {
					return err
				}
				st, err := waitSettled(ctx, rt.Engine, args[0])
				if err != nil {
					return err
				}
				return printStatus(st)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id")
	return cmd
}

func budgetCmd() *cobra.Command {
	c := &cobra.Command{Use: "budget", Short: "Report metered spend"}
	c.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Today's spend against the daily ceiling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				today, err := rt.Tracker.DailySummary(ctx, projectID(rt))
				if err != nil {
					return err
				}
				return printBudgets([]domain.DailyBudget{today})
			})
		},
	})
	var days int
	history := &cobra.Command{
		Use:   "history",
		Short: "Spend per day, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Tracker.History(ctx, projectID(rt), days)
				if err != nil {
					return err
				}
				return printBudgets(items)
			})
		},
	}
	history.Flags().IntVar(&days, "days", 7, "days of history")
	c.AddCommand(history)
	return c
}

func eventsCmd() *cobra.Command {
	var n int
	var ideaID string
	c := &cobra.Command{Use: "events", Short: "Audit log"}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				kind := ""
				if ideaID != "" {
					kind = "idea"
				}
				items, err := r.LatestEvents(ctx, n, 0, viper.GetString("project"), kind, ideaID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Idea", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID, truncate(evt.Payload, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&ideaID, "idea", "", "only events for this idea")
	c.AddCommand(tail)
	return c
}

// waitSettled polls until the idea completes, fails, or needs input.
func waitSettled(ctx context.Context, eng *engine.Engine, id string) (domain.IdeaStatus, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := eng.Status(ctx, id)
		if err != nil {
			return st, err
		}
		if st.Phase.Terminal() || st.Phase == domain.PhaseNeedsInput {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printOutcome(out gateway.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(out)
	}
	fmt.Println(out.Result.Message)
	for _, s := range out.Result.NextSteps {
		fmt.Printf("  next: %s\n", s)
	}
	for _, s := range out.Result.SuggestedActions {
		fmt.Printf("  try:  %s\n", s)
	}
	fmt.Fprintf(os.Stderr, "routed to %s/%s (%.2f, %s)\n", out.Routing.Domain, out.Routing.Mode, out.Routing.Confidence, out.Routing.Method)
	return nil
}

func printStatus(st domain.IdeaStatus) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	fmt.Printf("%s  %s  %.0f%%\n", st.ID, st.Phase, st.Progress*100)
	if st.Error != nil {
		fmt.Printf("  error: %s\n", *st.Error)
	}
	if len(st.Missing) > 0 {
		fmt.Printf("  missing: %s (ideaforge idea input %s key=value)\n", strings.Join(st.Missing, ", "), st.ID)
	}
	if st.Project != nil {
		fmt.Printf("  project: %s\n", st.Project.Name)
		for _, f := range st.Project.FilesCreated {
			fmt.Printf("    %s\n", f)
		}
	}
	return nil
}

func printBudgets(items []domain.DailyBudget) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Project", "Day", "Spent", "Limit", "Remaining", "Used", "Calls"})
	for _, b := range items {
		tw.AppendRow(table.Row{
			b.ProjectID, b.Day,
			fmt.Sprintf("%.4f", b.TotalCost),
			fmt.Sprintf("%.2f", b.Limit),
			fmt.Sprintf("%.4f", b.Remaining),
			fmt.Sprintf("%.1f%%", b.PercentageUsed),
			b.CallCount,
		})
	}
	tw.Render()
	return nil
}
