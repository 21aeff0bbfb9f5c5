package intent

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Spec describes one intent: how to recognize it and what it touches.
type Spec struct {
	Name         string             `yaml:"name"`
	Subsystem    string             `yaml:"subsystem"`
	Tool         string             `yaml:"tool"`
	SideEffect   bool               `yaml:"side_effect"`
	Rollback     string             `yaml:"rollback"`
	NeedsContext bool               `yaml:"needs_context"`
	Patterns     []string           `yaml:"patterns"`
	Keywords     map[string]float64 `yaml:"keywords"`

	compiled []*regexp.Regexp
	keywords []weightedKeyword
}

type weightedKeyword struct {
	regex  *regexp.Regexp
	weight float64
}

// IsQuery reports whether the intent only reads state.
func (s *Spec) IsQuery() bool { return !s.SideEffect }

// Catalog is the ordered set of known intents.
type Catalog struct {
	specs  []*Spec
	byName map[string]*Spec
}

type catalogFile struct {
	Intents []*Spec `yaml:"intents"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(strings.NewReader(string(defaultCatalogYAML)))
	if err != nil {
		panic(fmt.Sprintf("embedded intent catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file; an empty path returns the default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open intent catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// ParseCatalog decodes and compiles a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode intent catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]*Spec, len(file.Intents))}
	for _, spec := range file.Intents {
		if spec.Name == "" {
			return nil, fmt.Errorf("intent without name")
		}
		if _, dup := c.byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate intent %q", spec.Name)
		}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("intent %s: invalid pattern %q: %w", spec.Name, p, err)
			}
			spec.compiled = append(spec.compiled, re)
		}

		// Sorted so scoring is deterministic.
		words := make([]string, 0, len(spec.Keywords))
		for w := range spec.Keywords {
			words = append(words, w)
		}
		sort.Strings(words)
		for _, w := range words {
			spec.keywords = append(spec.keywords, weightedKeyword{
				regex:  regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(w)) + `\b`),
				weight: spec.Keywords[w],
			})
		}

		c.specs = append(c.specs, spec)
		c.byName[spec.Name] = spec
	}
	return c, nil
}

// Lookup returns the spec for name.
func (c *Catalog) Lookup(name string) (*Spec, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Specs returns intents in catalog order.
func (c *Catalog) Specs() []*Spec {
	return c.specs
}

// Labels returns every intent name in catalog order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.specs))
	for i, s := range c.specs {
		out[i] = s.Name
	}
	return out
}

// Subsystems returns the distinct subsystems named in text, in catalog order.
// A subsystem is named when any keyword of its intents appears.
func (c *Catalog) Subsystems(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.specs {
		if s.Subsystem == "" || s.Subsystem == "conversation" || seen[s.Subsystem] {
			continue
		}
		for _, kw := range s.keywords {
			if kw.weight >= 1.5 && kw.regex.MatchString(lower) {
				seen[s.Subsystem] = true
				out = append(out, s.Subsystem)
				break
			}
		}
	}
	return out
}
