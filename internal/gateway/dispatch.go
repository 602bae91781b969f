package gateway

import (
	"context"

	"ideaforge/internal/domain"
)

// Domain is the closed set of intents the gateway can act on. Anything the
// classifier returns outside this set is Unresolved.
type Domain string

const (
	DomainTask       Domain = "task"
	DomainCalendar   Domain = "calendar"
	DomainMessage    Domain = "message"
	DomainSearch     Domain = "search"
	DomainProject    Domain = "project"
	DomainBudget     Domain = "budget"
	DomainUnresolved Domain = domain.DomainUnresolved
)

var known = map[Domain]bool{
	DomainTask:     true,
	DomainCalendar: true,
	DomainMessage:  true,
	DomainSearch:   true,
	DomainProject:  true,
	DomainBudget:   true,
}

func ParseDomain(name string) Domain {
	d := Domain(name)
	if known[d] {
		return d
	}
	return DomainUnresolved
}

// Request is one classified command handed to a handler.
type Request struct {
	ProjectID string
	UserID    string
	Text      string
	Routing   domain.RoutingResult
}

type Handler interface {
	Handle(ctx context.Context, req Request) (domain.CommandResult, error)
}

type HandlerFunc func(ctx context.Context, req Request) (domain.CommandResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (domain.CommandResult, error) {
	return f(ctx, req)
}

type route struct {
	domain Domain
	mode   domain.Mode
}

// table maps (domain, mode) to a handler. Unresolved never has an entry.
type table map[route]Handler

func (t table) register(d Domain, m domain.Mode, h Handler) {
	if d == DomainUnresolved {
		return
	}
	t[route{d, m}] = h
}

func (t table) lookup(d Domain, m domain.Mode) (Handler, bool) {
	h, ok := t[route{d, m}]
	return h, ok
}
