// Package resolver orders a collection of templates by their declared
// dependencies so dependents always deploy after the templates they rely on.
package resolver

import (
	"fmt"
	"sort"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

// Plan is the resolved deployment order. Order is a total order; Batches
// partitions the same set so every template in batch k depends only on
// templates in earlier batches. Templates inside one batch are independent
// and safe to deploy concurrently.
type Plan struct {
	Order   []string   `json:"order"`
	Batches [][]string `json:"batches"`
}

type Resolver struct {
	logger logger.Logger
}

func New(log logger.Logger) *Resolver {
	return &Resolver{logger: log}
}

// Resolve runs Kahn's algorithm over the declared dependencies. Every
// declared dependency must name a template present in the input; an
// unresolvable reference fails before the sort is attempted. A cycle fails
// with the actual cycle path. Ready sets are processed in lexicographic
// order so plans are deterministic.
func (r *Resolver) Resolve(templates []*template.Template) (*Plan, error) {
	present := make(map[string]*template.Template, len(templates))
	for _, tpl := range templates {
		present[tpl.ID] = tpl
	}

	for _, tpl := range templates {
		for _, dep := range tpl.DependsOn {
			if _, ok := present[dep]; !ok {
				return nil, errs.NewConfigurationError(
					errs.CodeUnknownDependency,
					fmt.Sprintf("template %q depends on %q, which is not in the deployment set", tpl.ID, dep),
					"",
				)
			}
		}
	}

	// dependents[d] lists templates that declare d as a dependency;
	// inDegree counts unmet dependencies per template.
	dependents := make(map[string][]string, len(templates))
	inDegree := make(map[string]int, len(templates))
	for _, tpl := range templates {
		inDegree[tpl.ID] = len(tpl.DependsOn)
		for _, dep := range tpl.DependsOn {
			dependents[dep] = append(dependents[dep], tpl.ID)
		}
	}

	var ready []string
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	plan := &Plan{}
	for len(ready) > 0 {
		// The whole ready set forms one batch; its members are mutually
		// independent by construction.
		batch := append([]string(nil), ready...)
		plan.Batches = append(plan.Batches, batch)
		plan.Order = append(plan.Order, batch...)

		var next []string
		for _, id := range batch {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if len(plan.Order) != len(templates) {
		return nil, &errs.CycleError{Path: r.findCycle(present, inDegree)}
	}

	r.logger.Debug("resolved deployment plan",
		"templates", len(templates),
		"batches", len(plan.Batches))

	return plan, nil
}

// findCycle walks dependency edges among the stalled templates until a node
// repeats, then trims the walk to the cycle itself.
func (r *Resolver) findCycle(present map[string]*template.Template, inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	var start string
	var stalled []string
	for id, degree := range inDegree {
		if degree > 0 {
			remaining[id] = true
			stalled = append(stalled, id)
		}
	}
	sort.Strings(stalled)
	if len(stalled) == 0 {
		return nil
	}
	start = stalled[0]

	visited := make(map[string]int)
	var path []string
	current := start
	for {
		if at, seen := visited[current]; seen {
			cycle := append([]string(nil), path[at:]...)
			return append(cycle, current)
		}
		visited[current] = len(path)
		path = append(path, current)

		// Every stalled template still has at least one stalled dependency.
		deps := append([]string(nil), present[current].DependsOn...)
		sort.Strings(deps)
		advanced := false
		for _, dep := range deps {
			if remaining[dep] {
				current = dep
				advanced = true
				break
			}
		}
		if !advanced {
			return path
		}
	}
}
