// Package app assembles the runtime from configuration. Every command builds
// its own Runtime; nothing here is process-global.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ideaforge/internal/budget"
	"ideaforge/internal/classify"
	"ideaforge/internal/config"
	"ideaforge/internal/daemon"
	"ideaforge/internal/db"
	"ideaforge/internal/engine"
	"ideaforge/internal/gateway"
	"ideaforge/internal/generate"
	"ideaforge/internal/mcp"
	"ideaforge/internal/migrate"
	"ideaforge/internal/notify"
	"ideaforge/internal/ontology"
	"ideaforge/internal/repo"
	"ideaforge/internal/server"
)

type Options struct {
	Workspace string
	Logger    *zap.Logger
	// GeminiAPIKey overrides the environment variable named by
	// generation.api_key_env.
	GeminiAPIKey string
}

type Runtime struct {
	Config     *config.Config
	Workspace  string
	Logger     *zap.Logger
	DB         *sql.DB
	Repo       repo.Repo
	Tracker    *budget.Tracker
	Ontology   *ontology.Ontology
	Classifier *classify.Classifier
	Engine     *engine.Engine
	Gateway    *gateway.Gateway
	// Notifier is nil when no webhook is configured.
	Notifier *notify.Dispatcher
}

// Build opens the workspace database, applies migrations and wires every
// component. Ontology and provider problems fail here, before anything runs.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	ont, err := ontology.Load(resolve(workspace, cfg.Classifier.OntologyPath))
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	gen, completer, err := buildGenerator(ctx, cfg, opts.GeminiAPIKey)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Info("applied migration", zap.String("name", name))
	}

	r := repo.Repo{DB: conn}
	tracker := budget.NewTracker(r, cfg.Budget.DailyCostLimit,
		budget.WithLocation(loc),
		budget.WithLogger(logger.Named("budget")))

	classifyOpts := []classify.Option{classify.WithLogger(logger.Named("classify"))}
	if cfg.Classifier.LLMFallback {
		if completer == nil {
			conn.Close()
			return nil, errors.New("classifier.llm_fallback requires a gemini api key")
		}
		classifyOpts = append(classifyOpts, classify.WithSecondary(classify.LLMSecondary(completer, ont)))
	}
	classifier := classify.New(ont, classifyOpts...)

	eng := engine.New(engine.Deps{
		Store:     engine.NewSQLStore(conn),
		Planner:   generate.NewTemplatePlanner(cfg.Generation.CostPerArtifact),
		Generator: gen,
		Sink:      generate.DirSink{Root: resolve(workspace, cfg.Generation.OutputDir)},
		Gate:      tracker,
		Logger:    logger.Named("engine"),
	}, engine.Settings{
		MaxConcurrent:   cfg.Engine.MaxConcurrentIdeas,
		CallTimeout:     cfg.Engine.CallTimeout,
		PersistRetries:  cfg.Engine.PersistRetries,
		RetryBackoff:    cfg.Engine.RetryBackoff,
		Tick:            cfg.Engine.Tick,
		DefaultEstimate: cfg.Generation.CostPerArtifact,
	})

	gw := gateway.New(gateway.Deps{
		Classifier:    classifier,
		Ideas:         eng,
		Items:         r,
		Budget:        tracker,
		MinConfidence: cfg.Classifier.MinConfidence,
		Logger:        logger.Named("gateway"),
	})

	return &Runtime{
		Config:     cfg,
		Workspace:  workspace,
		Logger:     logger,
		DB:         conn,
		Repo:       r,
		Tracker:    tracker,
		Ontology:   ont,
		Classifier: classifier,
		Engine:     eng,
		Gateway:    gw,
		Notifier:   notify.New(r, cfg.Webhooks, notify.Options{Logger: logger.Named("notify")}),
	}, nil
}

func buildGenerator(ctx context.Context, cfg *config.Config, apiKey string) (engine.Generator, classify.Completer, error) {
	if apiKey == "" && cfg.Generation.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.Generation.APIKeyEnv)
	}
	var gemini *generate.Gemini
	if strings.TrimSpace(apiKey) != "" {
		g, err := generate.NewGemini(ctx, generate.GeminiConfig{
			APIKey:           apiKey,
			Model:            cfg.Generation.Model,
			InputPricePer1K:  cfg.Generation.InputPricePer1K,
			OutputPricePer1K: cfg.Generation.OutputPricePer1K,
		})
		if err != nil {
			return nil, nil, err
		}
		gemini = g
	}
	switch cfg.Generation.Provider {
	case "gemini":
		if gemini == nil {
			return nil, nil, fmt.Errorf("generation.provider gemini requires %s to be set", cfg.Generation.APIKeyEnv)
		}
		return gemini, gemini, nil
	default:
		if gemini == nil {
			return generate.Offline{}, nil, nil
		}
		return generate.Offline{}, gemini, nil
	}
}

// Start recovers unfinished ideas and starts the engine loop.
func (r *Runtime) Start(ctx context.Context) error {
	return r.Engine.Start(ctx)
}

// Close drains the engine within ctx and closes the database.
func (r *Runtime) Close(ctx context.Context) error {
	stopErr := r.Engine.Stop(ctx)
	if err := r.DB.Close(); err != nil && stopErr == nil {
		return err
	}
	return stopErr
}

// Daemon builds the file-polling daemon from the daemon config section.
func (r *Runtime) Daemon() *daemon.Daemon {
	cfg := r.Config.Daemon
	outDir := resolve(r.Workspace, cfg.OutputDir)
	source := daemon.NewFileSource(resolve(r.Workspace, cfg.InputPath), outDir, r.Logger.Named("source"))
	return daemon.New(source, r.Engine, daemon.NewMirror(outDir), daemon.Options{
		ProjectID: cfg.ProjectID,
		Interval:  cfg.PollInterval,
		Logger:    r.Logger.Named("daemon"),
	})
}

// Handler builds the HTTP API. Anonymous access is only honoured when no
// JWT secret is configured.
func (r *Runtime) Handler(allowAnonymous bool) (http.Handler, error) {
	return server.New(server.Config{
		Ideas:    r.Engine,
		Commands: r.Gateway,
		Budget:   r.Tracker,
		Events:   r.Repo,
		APIKeys:  r.Repo,
		BasePath: r.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:      r.Config.Server.JWTSecret,
			AllowAnonymous: allowAnonymous && r.Config.Server.JWTSecret == "",
		},
		Logger: r.Logger.Named("http"),
	})
}

func (r *Runtime) MCPConfig(projectID, clientID, version string) mcp.Config {
	if projectID == "" {
		projectID = r.Config.Daemon.ProjectID
	}
	return mcp.Config{
		Commands:  r.Gateway,
		Ideas:     r.Engine,
		Budget:    r.Tracker,
		ProjectID: projectID,
		ClientID:  clientID,
		Version:   version,
	}
}

func resolve(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
