// Package ontology loads the static domain/alias mapping and the mode keyword
// sets used by the classifier. An Ontology is read-only once loaded.
package ontology

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yml
var defaultSource []byte

type Domain struct {
	Name    string
	Aliases []string
	Example string
	// ActionKeywords, when non-nil, replaces the global action keywords for
	// utterances routed to this domain. An empty list makes the domain info-only.
	ActionKeywords []string
}

type Ontology struct {
	Domains        []Domain
	InfoKeywords   []string
	ActionKeywords []string
	index          map[string]int
}

// Default returns the embedded ontology.
func Default() *Ontology {
	o, err := Parse(defaultSource)
	if err != nil {
		panic(fmt.Sprintf("embedded ontology: %v", err))
	}
	return o
}

// Load reads an ontology file; an empty path selects the embedded default.
func Load(path string) (*Ontology, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ontology %s: %w", path, err)
	}
	o, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ontology %s: %w", path, err)
	}
	return o, nil
}

// Parse decodes an ontology document. Domain declaration order is preserved.
func Parse(data []byte) (*Ontology, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid ontology yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New("empty ontology document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New("ontology must be a mapping")
	}
	o := &Ontology{index: map[string]int{}}
	var sawDomains bool
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i].Value, doc.Content[i+1]
		switch key {
		case "domains":
			sawDomains = true
			if err := o.decodeDomains(val); err != nil {
				return nil, err
			}
		case "info_keywords":
			words, err := decodeWords(val, key)
			if err != nil {
				return nil, err
			}
			o.InfoKeywords = words
		case "action_keywords":
			words, err := decodeWords(val, key)
			if err != nil {
				return nil, err
			}
			o.ActionKeywords = words
		default:
			return nil, fmt.Errorf("unknown ontology key %q (line %d)", key, doc.Content[i].Line)
		}
	}
	if !sawDomains {
		return nil, errors.New("ontology.domains is required")
	}
	return o, nil
}

func (o *Ontology) decodeDomains(n *yaml.Node) error {
	if n.Tag == "!!null" {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("ontology.domains must be a mapping (line %d)", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := strings.TrimSpace(n.Content[i].Value)
		if name == "" {
			return fmt.Errorf("empty domain name (line %d)", n.Content[i].Line)
		}
		if strings.EqualFold(name, "unresolved") {
			return fmt.Errorf("domain name %q is reserved", name)
		}
		if _, dup := o.index[name]; dup {
			return fmt.Errorf("duplicate domain %s", name)
		}
		d := Domain{Name: name}
		val := n.Content[i+1]
		switch val.Kind {
		case yaml.SequenceNode:
			aliases, err := decodeWords(val, "domains."+name)
			if err != nil {
				return err
			}
			d.Aliases = aliases
		case yaml.MappingNode:
			var body struct {
				Aliases        []string  `yaml:"aliases"`
				Example        string    `yaml:"example"`
				ActionKeywords *[]string `yaml:"action_keywords"`
			}
			if err := val.Decode(&body); err != nil {
				return fmt.Errorf("domain %s: %w", name, err)
			}
			d.Aliases = clean(body.Aliases)
			d.Example = body.Example
			if body.ActionKeywords != nil {
				d.ActionKeywords = append([]string{}, clean(*body.ActionKeywords)...)
			}
		default:
			if val.Tag != "!!null" {
				return fmt.Errorf("domain %s must list aliases (line %d)", name, val.Line)
			}
		}
		o.index[name] = len(o.Domains)
		o.Domains = append(o.Domains, d)
	}
	return nil
}

func decodeWords(n *yaml.Node, field string) ([]string, error) {
	if n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%s must be a list (line %d)", field, n.Line)
	}
	var words []string
	if err := n.Decode(&words); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return clean(words), nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, w := range in {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Lookup returns the named domain.
func (o *Ontology) Lookup(name string) (Domain, bool) {
	i, ok := o.index[name]
	if !ok {
		return Domain{}, false
	}
	return o.Domains[i], true
}

// Names lists domain names in declaration order.
func (o *Ontology) Names() []string {
	names := make([]string, 0, len(o.Domains))
	for _, d := range o.Domains {
		names = append(names, d.Name)
	}
	return names
}
