package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ideaforge/internal/domain"
	"ideaforge/internal/repo"
	"ideaforge/internal/server"
	ideaforgesdk "ideaforge/sdk/go"
)

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}

	var clientID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(clientID) == "" {
				return fmt.Errorf("--client required")
			}
			secret, err := newKeySecret()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{ID: uuid.NewString(), ClientID: clientID, Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "client_id": clientID, "key": secret})
				}
				fmt.Printf("Created key %s for %s\n%s\n", key.ID, clientID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&clientID, "client", "", "client id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label")
	c.AddCommand(create)

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ClientID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter, "client", "", "client filter")
	c.AddCommand(list)

	c.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	})
	return c
}

func newKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ifk_" + hex.EncodeToString(buf), nil
}

func tokenCmd() *cobra.Command {
	var clientID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			tok, err := server.SignToken(cfg.Server.JWTSecret, clientID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// remoteCmd talks to a running server instead of opening the workspace.
// Responses are printed as the server returned them.
func remoteCmd() *cobra.Command {
	c := &cobra.Command{Use: "remote", Short: "Use a running ideaforge server"}
	c.PersistentFlags().String("server", "http://127.0.0.1:8080", "server base URL")
	c.PersistentFlags().String("api-key", "", "API key")
	c.PersistentFlags().String("token", "", "bearer token")
	for _, name := range []string{"server", "api-key", "token"} {
		_ = viper.BindPFlag(name, c.PersistentFlags().Lookup(name))
	}

	var wait bool
	command := &cobra.Command{
		Use:   "command <text>",
		Short: "Run a command on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			resp, err := client.Command(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := printJSON(resp); err != nil {
				return err
			}
			id, _ := resp.Result.Data["idea_id"].(string)
			if !wait || id == "" {
				return nil
			}
			view, err := client.WaitIdea(ctx, id, "needs_input", 0)
			if err != nil {
				return err
			}
			return printJSON(view.Status)
		},
	}
	command.Flags().BoolVar(&wait, "wait", false, "wait for a submitted idea to settle")
	c.AddCommand(command)

	c.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show an idea's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			view, err := client.Idea(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(view.Status)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "input <id> key=value...",
		Short: "Supply missing details",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			client, err := remoteClient()
			if err != nil {
				return err
			}
			view, err := client.ProvideInput(cmd.Context(), args[0], values)
			if err != nil {
				return err
			}
			return printJSON(view.Status)
		},
	})

	var days int
	budget := &cobra.Command{
		Use:   "budget",
		Short: "Show spend for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			b, err := client.Budget(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(b)
		},
	}
	budget.Flags().IntVar(&days, "days", 7, "days of history")
	c.AddCommand(budget)
	return c
}

func remoteClient() (*ideaforgesdk.Client, error) {
	project := strings.TrimSpace(viper.GetString("project"))
	if project == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		project = cfg.Daemon.ProjectID
	}
	client := ideaforgesdk.New(viper.GetString("server"), project)
	client.APIKey = viper.GetString("api-key")
	client.BearerToken = viper.GetString("token")
	return client, nil
}
