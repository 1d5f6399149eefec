package endpoint

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
)

// ParamType is the wire type tag of a tool parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
)

// Parameter describes one named argument of a declarative endpoint.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
}

// Config is one declarative endpoint description. Path holds ordered
// placeholder tokens ({name}) that must match the parameter names exactly.
type Config struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Path        string      `json:"path"`
	Method      string      `json:"method"`
	Parameters  []Parameter `json:"parameters"`
}

// ConfigError marks an endpoint catalog problem. It is fatal at load time;
// a tool built from a validated config never fails on these grounds at call time.
type ConfigError struct {
	Endpoint string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("endpoint %q: %s", e.Endpoint, e.Reason)
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Contract is the typed argument contract derived from a Config. Building a
// Contract performs all validation; Check only ever sees arguments against an
// already-proven shape.
type Contract struct {
	byName map[string]Parameter
	order  []string
}

// BuildContract derives the typed argument contract for cfg, rejecting
// placeholder/parameter mismatches, unknown type tags and non-read-only verbs.
func BuildContract(cfg Config) (*Contract, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, &ConfigError{Endpoint: cfg.Name, Reason: "name is required"}
	}
	switch strings.ToUpper(cfg.Method) {
	case "GET", "HEAD":
	default:
		return nil, &ConfigError{Endpoint: cfg.Name, Reason: fmt.Sprintf("method %q is not read-only (allowed: GET, HEAD)", cfg.Method)}
	}

	c := &Contract{byName: make(map[string]Parameter, len(cfg.Parameters))}
	for _, p := range cfg.Parameters {
		switch p.Type {
		case TypeString, TypeInt, TypeFloat, TypeBool:
		default:
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: fmt.Sprintf("parameter %q has unknown type %q", p.Name, p.Type)}
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: fmt.Sprintf("duplicate parameter %q", p.Name)}
		}
		c.byName[p.Name] = p
		c.order = append(c.order, p.Name)
	}

	tokens := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(cfg.Path, -1) {
		tokens[m[1]] = true
	}
	for name := range tokens {
		if _, ok := c.byName[name]; !ok {
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: fmt.Sprintf("path placeholder {%s} has no matching parameter", name)}
		}
	}
	for name := range c.byName {
		if !tokens[name] {
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: fmt.Sprintf("parameter %q has no placeholder in path %q", name, cfg.Path)}
		}
	}
	return c, nil
}

// Parameters returns the contract's parameters in declaration order.
func (c *Contract) Parameters() []Parameter {
	out := make([]Parameter, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.byName[name])
	}
	return out
}

// Check validates an argument map against the contract: every declared
// parameter present, no extras, values convertible to the declared type.
func (c *Contract) Check(args map[string]any) error {
	for name := range args {
		if _, ok := c.byName[name]; !ok {
			return fmt.Errorf("unexpected argument %q", name)
		}
	}
	for _, name := range c.order {
		v, ok := args[name]
		if !ok {
			return fmt.Errorf("missing argument %q", name)
		}
		if _, err := coerce(c.byName[name].Type, v); err != nil {
			return fmt.Errorf("argument %q: %w", name, err)
		}
	}
	return nil
}

func coerce(t ParamType, v any) (string, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return fmt.Sprintf("%d", n), nil
		case int64:
			return fmt.Sprintf("%d", n), nil
		case float64: // JSON numbers decode as float64
			if n == float64(int64(n)) {
				return fmt.Sprintf("%d", int64(n)), nil
			}
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n), nil
		case int:
			return fmt.Sprintf("%d", n), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return fmt.Sprintf("%t", b), nil
		}
	}
	return "", fmt.Errorf("value %v is not a %s", v, t)
}

// ExpandPath substitutes checked arguments into the path template. Arguments
// must already have passed Check; substitution never fails on a valid set.
func (c *Contract) ExpandPath(tpl string, args map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(tok string) string {
		name := tok[1 : len(tok)-1]
		s, err := coerce(c.byName[name].Type, args[name])
		if err != nil {
			return tok
		}
		return url.PathEscape(s)
	})
}

// LoadCatalog reads the endpoint catalog file and validates every entry.
// Any malformed entry aborts the load: the system refuses to start rather
// than fail on first use.
func LoadCatalog(path string) ([]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading endpoint catalog: %w", err)
	}
	var catalog []Config
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parsing endpoint catalog %s: %w", path, err)
	}
	seen := make(map[string]bool, len(catalog))
	for _, cfg := range catalog {
		if seen[cfg.Name] {
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: "duplicate endpoint name"}
		}
		seen[cfg.Name] = true
		if _, err := BuildContract(cfg); err != nil {
			return nil, err
		}
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Name < catalog[j].Name })
	return catalog, nil
}
