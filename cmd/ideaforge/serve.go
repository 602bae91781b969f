package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"ideaforge/internal/app"
	"ideaforge/internal/config"
	"ideaforge/internal/db"
	"ideaforge/internal/mcp"
	"ideaforge/internal/migrate"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create ideaforge.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Config already exists at %s (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("Database ready at %s (%d migration(s) applied)\n", db.Path(workspace), len(applied))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	var withDaemon, allowAnonymous bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				if rt.Config.Server.JWTSecret == "" && !allowAnonymous {
					fmt.Fprintln(os.Stderr, "server.jwt_secret is empty: only API keys are accepted (see 'ideaforge apikey create')")
				}
				handler, err := rt.Handler(allowAnonymous)
				if err != nil {
					return err
				}
				if err := rt.Start(ctx); err != nil {
					return err
				}
				listen := addr
				if listen == "" {
					listen = rt.Config.Server.Addr
				}
				srv := &http.Server{Addr: listen, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				startBackground(gctx, g, rt, withDaemon)
				fmt.Fprintf(os.Stderr, "Serving ideaforge API on http://%s%s (OpenAPI at %s/openapi.json)\n",
					listen, rt.Config.Server.BasePath, rt.Config.Server.BasePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&withDaemon, "with-daemon", false, "also poll the daemon input file")
	cmd.Flags().BoolVar(&allowAnonymous, "allow-anonymous", false, "accept unauthenticated requests when no jwt secret is set")
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Poll the input file and turn new lines into ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Start(ctx); err != nil {
					return err
				}
				g, gctx := errgroup.WithContext(ctx)
				startBackground(gctx, g, rt, true)
				return g.Wait()
			})
		},
	}
}

// startBackground runs the webhook dispatcher and, when asked, the daemon
// until ctx ends.
func startBackground(ctx context.Context, g *errgroup.Group, rt *app.Runtime, withDaemon bool) {
	if rt.Notifier != nil {
		g.Go(func() error { return rt.Notifier.Run(ctx) })
	}
	if withDaemon {
		d := rt.Daemon()
		g.Go(func() error { return d.Run(ctx) })
	}
}

func mcpCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the command tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Start(ctx); err != nil {
					return err
				}
				return mcp.Run(rt.MCPConfig(projectID(rt), clientID, version))
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "mcp", "user id recorded on submitted ideas")
	return cmd
}
