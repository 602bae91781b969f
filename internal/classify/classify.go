// Package classify routes free-form utterances to an ontology domain and an
// intent mode.
package classify

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"ideaforge/internal/domain"
	"ideaforge/internal/ontology"
)

// DeterministicConfidence is reported for every alias hit.
const DeterministicConfidence = 0.95

// SecondaryFunc classifies text the deterministic tier could not place.
// Returned errors are absorbed into the default fallback result.
type SecondaryFunc func(ctx context.Context, text string) (domain.RoutingResult, error)

// Fallback is the default secondary tier.
func Fallback(context.Context, string) (domain.RoutingResult, error) {
	return fallbackResult(), nil
}

func fallbackResult() domain.RoutingResult {
	return domain.RoutingResult{
		Domain:     domain.DomainUnresolved,
		Mode:       domain.ModeInfo,
		Confidence: 0,
		Method:     domain.MethodFallback,
	}
}

type Classifier struct {
	ont       *ontology.Ontology
	secondary SecondaryFunc
	logger    *zap.Logger
	patterns  []pattern
	action    keywordSet
	// per-domain override sets, only for domains that declare one
	domainAction map[string]keywordSet
}

// pattern holds one domain's tokenized name and aliases.
type pattern struct {
	domain  string
	aliases [][]string
}

type Option func(*Classifier)

func WithSecondary(fn SecondaryFunc) Option {
	return func(c *Classifier) {
		if fn != nil {
			c.secondary = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(ont *ontology.Ontology, opts ...Option) *Classifier {
	if ont == nil {
		ont = &ontology.Ontology{}
	}
	c := &Classifier{
		ont:          ont,
		secondary:    Fallback,
		logger:       zap.NewNop(),
		domainAction: map[string]keywordSet{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.action = newKeywordSet(ont.ActionKeywords)
	for _, d := range ont.Domains {
		p := pattern{domain: d.Name}
		for _, alias := range append([]string{d.Name}, d.Aliases...) {
			if parts := tokenize(alias); len(parts) > 0 {
				p.aliases = append(p.aliases, parts)
			}
		}
		c.patterns = append(c.patterns, p)
		if d.ActionKeywords != nil {
			c.domainAction[d.Name] = newKeywordSet(d.ActionKeywords)
		}
	}
	return c
}

// Ontology returns the ontology the classifier was built from.
func (c *Classifier) Ontology() *ontology.Ontology { return c.ont }

// Classify never fails: utterances no tier can place come back unresolved.
func (c *Classifier) Classify(ctx context.Context, text string) domain.RoutingResult {
	tokens := tokenize(text)
	if name, ok := c.match(tokens); ok {
		res := domain.RoutingResult{
			Domain:     name,
			Mode:       c.modeFor(tokens, name),
			Confidence: DeterministicConfidence,
			Method:     domain.MethodDeterministic,
		}
		c.logger.Debug("classified", zap.String("domain", res.Domain), zap.String("mode", string(res.Mode)))
		return res
	}
	res, err := c.runSecondary(ctx, text)
	if err != nil {
		c.logger.Warn("secondary classifier failed", zap.Error(err))
		return fallbackResult()
	}
	return c.sanitize(res, tokens)
}

func (c *Classifier) runSecondary(ctx context.Context, text string) (res domain.RoutingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("secondary classifier panicked", zap.Any("panic", r))
			res, err = fallbackResult(), nil
		}
	}()
	return c.secondary(ctx, text)
}

// sanitize keeps secondary results inside the ontology's vocabulary.
func (c *Classifier) sanitize(res domain.RoutingResult, tokens []string) domain.RoutingResult {
	if res.Domain == "" || res.Domain == domain.DomainUnresolved {
		return fallbackResult()
	}
	if _, ok := c.ont.Lookup(res.Domain); !ok {
		return fallbackResult()
	}
	if res.Mode != domain.ModeAction && res.Mode != domain.ModeInfo {
		res.Mode = c.modeFor(tokens, res.Domain)
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	if res.Method == "" {
		res.Method = domain.MethodLLM
	}
	return res
}

// DetectMode reports action when an action keyword for domainName appears in
// text, and info otherwise. Info keywords never override an action keyword.
func (c *Classifier) DetectMode(text, domainName string) domain.Mode {
	return c.modeFor(tokenize(text), domainName)
}

func (c *Classifier) modeFor(tokens []string, domainName string) domain.Mode {
	action := c.action
	if override, ok := c.domainAction[domainName]; ok {
		action = override
	}
	if action.matches(tokens) {
		return domain.ModeAction
	}
	return domain.ModeInfo
}

func (c *Classifier) match(tokens []string) (string, bool) {
	if len(tokens) == 0 {
		return "", false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range c.patterns {
		for _, alias := range p.aliases {
			if hit(alias, tokens, joined) {
				return p.domain, true
			}
		}
	}
	return "", false
}

// hit tests a single-word alias against every token as a substring and a
// multi-word alias against the whole token stream.
func hit(alias, tokens []string, joined string) bool {
	if len(alias) == 1 {
		for _, tok := range tokens {
			if strings.Contains(tok, alias[0]) {
				return true
			}
		}
		return false
	}
	return strings.Contains(joined, " "+strings.Join(alias, " ")+" ")
}

// tokenize case-folds text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	folded := cases.Fold().String(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordSet matches single-word keywords as whole tokens and multi-word
// keywords as phrases.
type keywordSet struct {
	words   map[string]bool
	phrases []string
}

func newKeywordSet(keywords []string) keywordSet {
	set := keywordSet{words: make(map[string]bool, len(keywords))}
	for _, kw := range keywords {
		switch parts := tokenize(kw); len(parts) {
		case 0:
		case 1:
			set.words[parts[0]] = true
		default:
			set.phrases = append(set.phrases, " "+strings.Join(parts, " ")+" ")
		}
	}
	return set
}

func (s keywordSet) matches(tokens []string) bool {
	for _, tok := range tokens {
		if s.words[tok] {
			return true
		}
	}
	if len(s.phrases) == 0 {
		return false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range s.phrases {
		if strings.Contains(joined, p) {
			return true
		}
	}
	return false
}

// Tokens normalises text the same way Classify does.
func Tokens(text string) []string {
	return tokenize(text)
}
