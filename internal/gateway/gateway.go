package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ideaforge/internal/classify"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/repo"
)

// Ideas is the engine surface used by the project handlers.
type Ideas interface {
	Submit(ctx context.Context, in engine.NewIdea) (domain.Idea, error)
	ListStatuses(ctx context.Context, f repo.StatusFilters) ([]repo.IdeaRecord, error)
}

// Items stores what the synchronous handlers record. repo.Repo satisfies it.
type Items interface {
	InsertGatewayItem(ctx context.Context, item domain.GatewayItem) error
	ListGatewayItems(ctx context.Context, projectID, domainName string, limit int) ([]domain.GatewayItem, error)
	SearchGatewayItems(ctx context.Context, projectID, query string, limit int) ([]domain.GatewayItem, error)
	SearchIdeas(ctx context.Context, projectID, query string, limit int) ([]domain.Idea, error)
}

type Budget interface {
	DailySummary(ctx context.Context, projectID string) (domain.DailyBudget, error)
}

type Deps struct {
	Classifier    *classify.Classifier
	Ideas         Ideas
	Items         Items
	Budget        Budget
	MinConfidence float64
	Logger        *zap.Logger
}

// Command is one utterance from a user.
type Command struct {
	ProjectID string
	UserID    string
	Text      string
}

// Outcome is the command result with the routing decision behind it.
type Outcome struct {
	Result  domain.CommandResult `json:"result"`
	Routing domain.RoutingResult `json:"routing"`
}

type Gateway struct {
	classifier    *classify.Classifier
	handlers      table
	minConfidence float64
	logger        *zap.Logger
}

func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		classifier:    deps.Classifier,
		handlers:      table{},
		minConfidence: deps.MinConfidence,
		logger:        logger,
	}
	h := handlers{ideas: deps.Ideas, items: deps.Items, budget: deps.Budget, ont: deps.Classifier.Ontology()}
	for _, d := range []Domain{DomainTask, DomainCalendar, DomainMessage} {
		g.Register(d, domain.ModeAction, h.record(d))
		g.Register(d, domain.ModeInfo, h.list(d))
	}
	g.Register(DomainSearch, domain.ModeInfo, HandlerFunc(h.search))
	g.Register(DomainSearch, domain.ModeAction, HandlerFunc(h.search))
	if deps.Ideas != nil {
		g.Register(DomainProject, domain.ModeAction, HandlerFunc(h.submitIdea))
		g.Register(DomainProject, domain.ModeInfo, HandlerFunc(h.listIdeas))
	}
	if deps.Budget != nil {
		g.Register(DomainBudget, domain.ModeInfo, HandlerFunc(h.budgetSummary))
	}
	return g
}

// Register installs or replaces the handler for (d, m).
func (g *Gateway) Register(d Domain, m domain.Mode, h Handler) {
	g.handlers.register(d, m, h)
}

// ProcessCommand classifies cmd.Text and runs the matching handler. It
// always returns a result; unrecognised or failing commands come back with
// success=false and at least one suggested action.
func (g *Gateway) ProcessCommand(ctx context.Context, cmd Command) Outcome {
	routing := g.classifier.Classify(ctx, cmd.Text)
	d := ParseDomain(routing.Domain)
	g.logger.Debug("dispatch",
		zap.String("project_id", cmd.ProjectID),
		zap.String("domain", routing.Domain),
		zap.String("mode", string(routing.Mode)),
		zap.Float64("confidence", routing.Confidence),
		zap.String("method", string(routing.Method)))

	if d == DomainUnresolved || routing.Confidence < g.minConfidence {
		return Outcome{Result: g.unrecognized(cmd.Text), Routing: routing}
	}
	h, ok := g.handlers.lookup(d, routing.Mode)
	if !ok {
		res := g.unrecognized(cmd.Text)
		res.Message = fmt.Sprintf("I can't %s %s yet.", verb(routing.Mode), d)
		return Outcome{Result: res, Routing: routing}
	}
	res, err := h.Handle(ctx, Request{ProjectID: cmd.ProjectID, UserID: cmd.UserID, Text: strings.TrimSpace(cmd.Text), Routing: routing})
	if err != nil {
		g.logger.Warn("handler failed", zap.String("domain", string(d)), zap.String("mode", string(routing.Mode)), zap.Error(err))
		return Outcome{Result: domain.CommandResult{
			Success:          false,
			Message:          fmt.Sprintf("%s %s failed: %v", d, routing.Mode, err),
			NextSteps:        []string{"Try again in a moment"},
			SuggestedActions: g.suggestions(),
		}, Routing: routing}
	}
	if res.NextSteps == nil {
		res.NextSteps = []string{}
	}
	return Outcome{Result: res, Routing: routing}
}

func (g *Gateway) unrecognized(text string) domain.CommandResult {
	msg := "I couldn't tell what you want to do."
	if strings.TrimSpace(text) == "" {
		msg = "Say what you want to do."
	}
	return domain.CommandResult{
		Success:          false,
		Message:          msg,
		NextSteps:        []string{"Rephrase using one of the suggested actions"},
		SuggestedActions: g.suggestions(),
	}
}

// suggestions offers one example utterance per ontology domain that has a
// handler, and a generic prompt when there are none.
func (g *Gateway) suggestions() []string {
	var out []string
	if ont := g.classifier.Ontology(); ont != nil {
		for _, d := range ont.Domains {
			if d.Example == "" {
				continue
			}
			if _, ok := g.handlers.lookup(ParseDomain(d.Name), domain.ModeAction); !ok {
				if _, ok := g.handlers.lookup(ParseDomain(d.Name), domain.ModeInfo); !ok {
					continue
				}
			}
			out = append(out, d.Example)
		}
	}
	if len(out) == 0 {
		out = append(out, "build me a landing page for my bakery")
	}
	return out
}

func verb(m domain.Mode) string {
	if m == domain.ModeAction {
		return "change"
	}
	return "report on"
}
