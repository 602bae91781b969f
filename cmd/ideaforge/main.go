package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ideaforge/internal/app"
	"ideaforge/internal/config"
	"ideaforge/internal/db"
	"ideaforge/internal/logging"
	"ideaforge/internal/migrate"
	"ideaforge/internal/repo"
)

var version = "dev"

// logger is built once per invocation in PersistentPreRunE.
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "ideaforge",
	Short: "Turn ideas into generated projects under a daily budget",
	Long: `ideaforge routes free-form commands to domain handlers and turns project ideas
into generated artifacts in the background.
- Commands: text is classified into a domain (task, calendar, message, search, project, budget)
  and a mode (info or action), then dispatched.
- Ideas: project ideas move queued -> analyzing -> generating -> completed, failed, or needs_input
  when the planner lacks details ('ideaforge idea input').
- Budget: every metered call is checked against a per-project daily ceiling before it runs.
- Daemon: lines appended to the input file become ideas; status files mirror their progress.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogger,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("IDEAFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("project", "", "project id (defaults to daemon.project_id)")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("gemini-api-key", "", "Gemini API key (overrides generation.api_key_env)")
	flags.Duration("drain-timeout", 5*time.Minute, "how long to wait for running ideas on exit")
	for _, name := range []string{"workspace", "project", "json", "verbose", "gemini-api-key", "drain-timeout"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(commandCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(ideaCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(remoteCmd())
}

func setupLogger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if viper.GetBool("verbose") {
		level = "debug"
	}
	l, err := logging.New(level, cfg.Logging.JSON)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.LoadOptional(viper.GetString("workspace"))
}

// withRuntime builds the runtime for one command and closes it afterwards,
// waiting up to --drain-timeout for ideas the engine is still working on.
func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := app.Build(ctx, cfg, app.Options{
		Workspace:    viper.GetString("workspace"),
		Logger:       logger,
		GeminiAPIKey: viper.GetString("gemini-api-key"),
	})
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)
	closeCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("drain-timeout"))
	defer cancel()
	if err := rt.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func projectID(rt *app.Runtime) string {
	if p := strings.TrimSpace(viper.GetString("project")); p != "" {
		return p
	}
	return rt.Config.Daemon.ProjectID
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValues reads key=value arguments.
func parseValues(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[k] = v
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
