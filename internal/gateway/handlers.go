package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ideaforge/internal/classify"
	"ideaforge/internal/domain"
	"ideaforge/internal/engine"
	"ideaforge/internal/ontology"
	"ideaforge/internal/repo"
)

const listLimit = 10

type handlers struct {
	ideas  Ideas
	items  Items
	budget Budget
	ont    *ontology.Ontology
}

var errNoStore = errors.New("no item store configured")

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var recordLabels = map[Domain]string{
	DomainTask:     "Task added",
	DomainCalendar: "Event scheduled",
	DomainMessage:  "Message drafted",
}

var listNouns = map[Domain]string{
	DomainTask:     "task",
	DomainCalendar: "event",
	DomainMessage:  "message",
}

func (h handlers) record(d Domain) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (domain.CommandResult, error) {
		if h.items == nil {
			return domain.CommandResult{}, errNoStore
		}
		item := domain.GatewayItem{
			ID:        uuid.NewString(),
			ProjectID: req.ProjectID,
			Domain:    string(d),
			Content:   req.Text,
			CreatedAt: timestamp(),
		}
		if err := h.items.InsertGatewayItem(ctx, item); err != nil {
			return domain.CommandResult{}, err
		}
		return domain.CommandResult{
			Success:   true,
			Message:   fmt.Sprintf("%s: %s", recordLabels[d], req.Text),
			NextSteps: []string{fmt.Sprintf("Ask to list your %ss", listNouns[d])},
			Data:      map[string]any{"item": item},
		}, nil
	})
}

func (h handlers) list(d Domain) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (domain.CommandResult, error) {
		if h.items == nil {
			return domain.CommandResult{}, errNoStore
		}
		items, err := h.items.ListGatewayItems(ctx, req.ProjectID, string(d), listLimit)
		if err != nil {
			return domain.CommandResult{}, err
		}
		res := domain.CommandResult{
			Success: true,
			Message: fmt.Sprintf("You have %d %s.", len(items), plural(listNouns[d], len(items))),
			Data:    map[string]any{"items": orEmpty(items)},
		}
		if len(items) == 0 {
			res.NextSteps = []string{exampleFor(h.ont, d)}
		} else {
			res.NextSteps = []string{}
		}
		return res, nil
	})
}

func (h handlers) search(ctx context.Context, req Request) (domain.CommandResult, error) {
	terms := searchTerms(h.ont, req.Text)
	if len(terms) == 0 {
		return domain.CommandResult{
			Success:          false,
			Message:          "What should I search for?",
			NextSteps:        []string{"Add the words to look for"},
			SuggestedActions: []string{exampleFor(h.ont, DomainSearch)},
		}, nil
	}
	if h.items == nil {
		return domain.CommandResult{}, errNoStore
	}
	// Each term is matched on its own; hits are merged in term order.
	items := []domain.GatewayItem{}
	ideas := []domain.Idea{}
	seen := map[string]bool{}
	for _, term := range terms {
		found, err := h.items.SearchGatewayItems(ctx, req.ProjectID, term, listLimit)
		if err != nil {
			return domain.CommandResult{}, err
		}
		for _, it := range found {
			if !seen[it.ID] && len(items) < listLimit {
				seen[it.ID] = true
				items = append(items, it)
			}
		}
		matched, err := h.items.SearchIdeas(ctx, req.ProjectID, term, listLimit)
		if err != nil {
			return domain.CommandResult{}, err
		}
		for _, idea := range matched {
			if !seen[idea.ID] && len(ideas) < listLimit {
				seen[idea.ID] = true
				ideas = append(ideas, idea)
			}
		}
	}
	query := strings.Join(terms, " ")
	total := len(items) + len(ideas)
	return domain.CommandResult{
		Success:   true,
		Message:   fmt.Sprintf("Found %d %s for %q.", total, plural("match", total), query),
		NextSteps: []string{},
		Data:      map[string]any{"query": query, "items": items, "ideas": ideas},
	}, nil
}

func (h handlers) submitIdea(ctx context.Context, req Request) (domain.CommandResult, error) {
	idea, err := h.ideas.Submit(ctx, engine.NewIdea{
		ProjectID: req.ProjectID,
		Content:   req.Text,
		UserID:    req.UserID,
		Source:    "gateway",
	})
	if err != nil {
		return domain.CommandResult{}, err
	}
	return domain.CommandResult{
		Success: true,
		Message: "Idea queued for incubation.",
		NextSteps: []string{
			fmt.Sprintf("Check progress with: ideaforge idea status %s", idea.ID),
		},
		Data: map[string]any{"idea_id": idea.ID, "phase": string(domain.PhaseQueued)},
	}, nil
}

func (h handlers) listIdeas(ctx context.Context, req Request) (domain.CommandResult, error) {
	recs, err := h.ideas.ListStatuses(ctx, repo.StatusFilters{ProjectID: req.ProjectID, Limit: listLimit})
	if err != nil {
		return domain.CommandResult{}, err
	}
	type ideaView struct {
		ID       string       `json:"id"`
		Content  string       `json:"content"`
		Phase    domain.Phase `json:"phase"`
		Progress float64      `json:"progress"`
	}
	views := make([]ideaView, 0, len(recs))
	waiting := 0
	for _, rec := range recs {
		views = append(views, ideaView{ID: rec.Idea.ID, Content: rec.Idea.Content, Phase: rec.Status.Phase, Progress: rec.Status.Progress})
		if rec.Status.Phase == domain.PhaseNeedsInput {
			waiting++
		}
	}
	res := domain.CommandResult{
		Success:   true,
		Message:   fmt.Sprintf("%d recent %s.", len(views), plural("idea", len(views))),
		NextSteps: []string{},
		Data:      map[string]any{"ideas": views},
	}
	if waiting > 0 {
		res.NextSteps = append(res.NextSteps, fmt.Sprintf("%d %s waiting for input", waiting, plural("idea", waiting)))
	}
	if len(views) == 0 {
		res.NextSteps = append(res.NextSteps, exampleFor(h.ont, DomainProject))
	}
	return res, nil
}

func (h handlers) budgetSummary(ctx context.Context, req Request) (domain.CommandResult, error) {
	sum, err := h.budget.DailySummary(ctx, req.ProjectID)
	if err != nil {
		return domain.CommandResult{}, err
	}
	res := domain.CommandResult{
		Success:   true,
		Message:   fmt.Sprintf("Spent %.2f of %.2f today (%.1f%%); %.2f remaining.", sum.TotalCost, sum.Limit, sum.PercentageUsed, sum.Remaining),
		NextSteps: []string{},
		Data:      map[string]any{"budget": sum},
	}
	if sum.Remaining <= 0 {
		res.NextSteps = append(res.NextSteps, "New ideas will fail until the budget resets tomorrow")
	}
	return res, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "about": true, "of": true,
	"my": true, "me": true, "to": true, "in": true, "on": true, "all": true, "any": true,
}

// searchTerms strips routing words from text and returns what is left to
// look for.
func searchTerms(ont *ontology.Ontology, text string) []string {
	skip := map[string]bool{}
	if ont != nil {
		for _, w := range append(append([]string{}, ont.InfoKeywords...), ont.ActionKeywords...) {
			skip[w] = true
		}
		if d, ok := ont.Lookup(string(DomainSearch)); ok {
			skip[d.Name] = true
			for _, a := range d.Aliases {
				for _, tok := range classify.Tokens(a) {
					skip[tok] = true
				}
			}
		}
	}
	var terms []string
	for _, tok := range classify.Tokens(text) {
		if !skip[tok] && !stopwords[tok] {
			terms = append(terms, tok)
		}
	}
	return terms
}

func exampleFor(ont *ontology.Ontology, d Domain) string {
	if ont != nil {
		if def, ok := ont.Lookup(string(d)); ok && def.Example != "" {
			return "Try: " + def.Example
		}
	}
	return fmt.Sprintf("Try a %s command", d)
}

func plural(noun string, n int) string {
	if n == 1 {
		return noun
	}
	if strings.HasSuffix(noun, "ch") {
		return noun + "es"
	}
	return noun + "s"
}

func orEmpty[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
