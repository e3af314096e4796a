package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is an ordered set of rules.
type Catalog struct {
	Rules []Rule `yaml:"rules"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	c, err := Parse(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}
	return c, nil
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty catalog", ErrInvalidRule)
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every rule and that names are unique.
func (c *Catalog) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: catalog has no rules", ErrInvalidRule)
	}
	var errs []error
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
		if r.Name != "" && seen[r.Name] {
			errs = append(errs, &RuleError{Rule: r.Name, Reason: "duplicate name"})
		}
		seen[r.Name] = true
	}
	return errors.Join(errs...)
}

// Rule returns the named rule.
func (c *Catalog) Rule(name string) (Rule, bool) {
	for _, r := range c.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Configure enables and disables rules by name. Disable wins when a name is
// in both lists. Unknown names are an error and leave c unchanged.
func (c *Catalog) Configure(enable, disable []string) error {
	index := make(map[string]int, len(c.Rules))
	for i, r := range c.Rules {
		index[r.Name] = i
	}
	var unknown []string
	for _, n := range append(append([]string{}, enable...), disable...) {
		if _, ok := index[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown rule names: %s", ErrInvalidRule, strings.Join(unknown, ", "))
	}

	for _, n := range enable {
		c.Rules[index[n]].Disabled = false
	}
	for _, n := range disable {
		c.Rules[index[n]].Disabled = true
	}
	return nil
}

// Enabled returns the rules that are not disabled, in catalog order.
func (c *Catalog) Enabled() []Rule {
	out := make([]Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		if !r.Disabled {
			out = append(out, r)
		}
	}
	return out
}
