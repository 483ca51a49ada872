// Package injector substitutes placeholder tokens in workflow templates with
// tenant-specific values. The source template is never mutated; every
// injection operates on an independent deep clone.
package injector

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/internal/domain/workflow"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

// Bindings maps variable names to concrete values for one deployment target.
// Values may be strings, numbers, booleans, lists or objects.
type Bindings map[string]interface{}

type Injector struct {
	logger logger.Logger
}

func New(log logger.Logger) *Injector {
	return &Injector{logger: log}
}

// Inject produces an injected graph from tpl and bindings. A field whose
// entire content is one token takes the bound value's native shape; tokens
// embedded in a larger string are string-interpolated. Unbound tokens are
// left in place for the validator to report.
func (i *Injector) Inject(tpl *template.Template, bindings Bindings) (*workflow.Graph, error) {
	graph := tpl.Graph.Clone()

	graph.Name = i.injectString(graph.Name, bindings)
	graph.Settings = i.injectMap(graph.Settings, bindings)
	graph.Meta = i.injectMap(graph.Meta, bindings)

	for idx := range graph.Nodes {
		node := &graph.Nodes[idx]
		node.Name = i.injectString(node.Name, bindings)
		node.Notes = i.injectString(node.Notes, bindings)
		node.WebhookID = i.injectString(node.WebhookID, bindings)
		node.Parameters = i.injectMap(node.Parameters, bindings)

		for key, ref := range node.Credentials {
			ref.ID = i.injectString(ref.ID, bindings)
			ref.Name = i.injectString(ref.Name, bindings)
			node.Credentials[key] = ref
		}
	}

	// Connection keys and targets reference node display names, which may
	// themselves carry tokens.
	if graph.Connections != nil {
		rekeyed := make(map[string]workflow.NodeOutputs, len(graph.Connections))
		for source, outputs := range graph.Connections {
			for channel, ports := range outputs {
				for p := range ports {
					for e := range ports[p] {
						ports[p][e].Node = i.injectString(ports[p][e].Node, bindings)
					}
				}
				outputs[channel] = ports
			}
			rekeyed[i.injectString(source, bindings)] = outputs
		}
		graph.Connections = rekeyed
	}

	i.logger.Debug("injected template", "template", tpl.ID, "bindings", len(bindings))
	return graph, nil
}

// Extract returns the distinct, sorted set of tokens referenced anywhere in
// the template's graph. Used to build and cross-check declared metadata.
func (i *Injector) Extract(tpl *template.Template) []string {
	return tpl.Graph.ScanTokens()
}

// PreValidate checks bindings against the template's token set and reports
// every unbound token in one pass, not just the first.
func (i *Injector) PreValidate(tpl *template.Template, bindings Bindings) []errs.MissingVariable {
	var missing []errs.MissingVariable
	for _, tok := range tpl.Graph.ScanTokens() {
		if _, ok := bindings[tok]; !ok {
			missing = append(missing, errs.MissingVariable{Token: tok, TemplateID: tpl.ID})
		}
	}
	sort.Slice(missing, func(a, b int) bool { return missing[a].Token < missing[b].Token })
	return missing
}

func (i *Injector) injectMap(m map[string]interface{}, bindings Bindings) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = i.injectValue(v, bindings)
	}
	return out
}

func (i *Injector) injectValue(v interface{}, bindings Bindings) interface{} {
	switch val := v.(type) {
	case string:
		if name, ok := workflow.WholeToken(val); ok {
			if bound, exists := bindings[name]; exists {
				return workflow.CloneValue(bound)
			}
			return val
		}
		return i.injectString(val, bindings)
	case map[string]interface{}:
		return i.injectMap(val, bindings)
	case []interface{}:
		out := make([]interface{}, len(val))
		for idx, item := range val {
			out[idx] = i.injectValue(item, bindings)
		}
		return out
	default:
		return v
	}
}

func (i *Injector) injectString(s string, bindings Bindings) string {
	return workflow.ReplaceTokens(s, func(name string) (string, bool) {
		bound, exists := bindings[name]
		if !exists {
			return "", false
		}
		return stringify(bound), true
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64, float32, int, int32, int64, bool:
		return fmt.Sprintf("%v", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
