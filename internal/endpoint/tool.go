package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool is an invocable capability bound to one endpoint config and one
// runner. Building is synchronous and side-effect-free; the network is only
// touched on Invoke.
type Tool struct {
	Name        string
	Description string

	method   string
	path     string
	contract *Contract
	runner   *Runner
}

// BuildTool binds a validated endpoint config to a runner. A nil runner yields
// a simulation tool that answers every call with a canned success payload,
// matching how unbound devices behave in development setups.
func BuildTool(cfg Config, runner *Runner) (*Tool, error) {
	contract, err := BuildContract(cfg)
	if err != nil {
		return nil, err
	}
	return &Tool{
		Name:        cfg.Name,
		Description: cfg.Description,
		method:      strings.ToUpper(cfg.Method),
		path:        cfg.Path,
		contract:    contract,
		runner:      runner,
	}, nil
}

// Contract exposes the tool's typed argument contract.
func (t *Tool) Contract() *Contract { return t.contract }

// Invoke checks args against the contract, substitutes them into the path
// template and executes the call through the runner.
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (Result, error) {
	if err := t.contract.Check(args); err != nil {
		return Result{}, fmt.Errorf("tool %s: %w", t.Name, err)
	}
	path := t.contract.ExpandPath(t.path, args)
	if t.runner == nil {
		body, _ := json.Marshal(map[string]string{
			"simulated": "true",
			"endpoint":  t.Name,
			"path":      path,
			"result":    "ok",
		})
		return Result{StatusCode: 200, Body: body}, nil
	}
	return t.runner.Call(ctx, t.method, path, nil)
}

// Card renders a prompt-friendly description of the tool and its arguments,
// consumed by worker reasoning prompts.
func (t *Tool) Card() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	for _, p := range t.contract.Parameters() {
		fmt.Fprintf(&b, "    %s (%s): %s\n", p.Name, p.Type, p.Description)
	}
	return b.String()
}

// Catalog is the validated endpoint catalog keyed by name, built once at
// startup.
type Catalog struct {
	configs map[string]Config
}

// NewCatalog indexes validated endpoint configs. LoadCatalog has already
// rejected malformed entries; this only guards against duplicate wiring.
func NewCatalog(configs []Config) (*Catalog, error) {
	c := &Catalog{configs: make(map[string]Config, len(configs))}
	for _, cfg := range configs {
		if _, dup := c.configs[cfg.Name]; dup {
			return nil, &ConfigError{Endpoint: cfg.Name, Reason: "duplicate endpoint name"}
		}
		c.configs[cfg.Name] = cfg
	}
	return c, nil
}

// Build constructs the named tools against the given runner. Unknown tool
// names are configuration errors surfaced at startup.
func (c *Catalog) Build(names []string, runner *Runner) ([]*Tool, error) {
	tools := make([]*Tool, 0, len(names))
	for _, name := range names {
		cfg, ok := c.configs[name]
		if !ok {
			return nil, &ConfigError{Endpoint: name, Reason: "not present in endpoint catalog"}
		}
		tool, err := BuildTool(cfg, runner)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}
