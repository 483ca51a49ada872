// Package validator inspects injected workflow graphs for leftover
// placeholders, structural defects and missing credential wiring. Checks are
// independent and never short-circuit: a single run yields the complete
// remediation list.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowdeploy-go/internal/domain/workflow"
	"github.com/flowdeploy-go/pkg/logger"
)

// Finding codes
const (
	CodeUnreplacedPlaceholder = "UNREPLACED_PLACEHOLDER"
	CodeInvalidCredential     = "INVALID_CREDENTIAL"
	CodeInvalidEndpointPath   = "INVALID_ENDPOINT_PATH"
	CodeDanglingConnection    = "DANGLING_CONNECTION"
	CodeUnknownChannel        = "UNKNOWN_CHANNEL"
	CodeInvalidPortIndex      = "INVALID_PORT_INDEX"
	CodeMissingErrorHandling  = "MISSING_ERROR_HANDLING"
	CodeStaleTypeVersion      = "STALE_TYPE_VERSION"
)

// credentialSentinels are values authors leave behind instead of a real id.
var credentialSentinels = map[string]bool{
	"TODO":        true,
	"PLACEHOLDER": true,
}

// Finding is one validation problem tagged to its node and field. Token is
// set on unreplaced-placeholder findings.
type Finding struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
	Field   string `json:"field,omitempty"`
	Token   string `json:"token,omitempty"`
}

func (f Finding) String() string {
	ctx := ""
	if f.Node != "" {
		ctx = " node=" + f.Node
	}
	if f.Field != "" {
		ctx += " field=" + f.Field
	}
	return fmt.Sprintf("[%s]%s %s", f.Code, ctx, f.Message)
}

// Result is the outcome of validating one injected graph.
type Result struct {
	TemplateID  string    `json:"templateId"`
	Valid       bool      `json:"valid"`
	Errors      []Finding `json:"errors"`
	Warnings    []Finding `json:"warnings"`
	Suggestions []string  `json:"suggestions"`
}

// Validator runs structural checks over injected graphs. The current
// type-version table is injected so it can evolve independently.
type Validator struct {
	logger          logger.Logger
	currentVersions map[string]float64
}

func New(log logger.Logger, currentVersions map[string]float64) *Validator {
	return &Validator{logger: log, currentVersions: currentVersions}
}

// Validate runs every check against the graph and accumulates all findings.
func (v *Validator) Validate(templateID string, g *workflow.Graph) *Result {
	res := &Result{
		TemplateID:  templateID,
		Errors:      []Finding{},
		Warnings:    []Finding{},
		Suggestions: []string{},
	}

	v.checkPlaceholders(g, res)
	v.checkCredentials(g, res)
	v.checkEndpointPaths(g, res)
	v.checkConnections(g, res)
	v.checkErrorHandling(g, res)
	v.checkStaleness(g, res)

	v.suggest(res)
	res.Valid = len(res.Errors) == 0

	v.logger.Debug("validated graph",
		"template", templateID,
		"valid", res.Valid,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings))

	return res
}

// IsValid is the pass/fail convenience wrapper.
func (v *Validator) IsValid(templateID string, g *workflow.Graph) bool {
	return v.Validate(templateID, g).Valid
}

// checkPlaceholders flags any token that survived injection, tagged to the
// node and field it was found in.
func (v *Validator) checkPlaceholders(g *workflow.Graph, res *Result) {
	report := func(node, field, s string) {
		for _, tok := range workflow.TokensIn(s) {
			res.Errors = append(res.Errors, Finding{
				Code:    CodeUnreplacedPlaceholder,
				Message: fmt.Sprintf("placeholder {{%s}} was not replaced", tok),
				Node:    node,
				Field:   field,
				Token:   tok,
			})
		}
	}

	report("", "name", g.Name)
	scanStrings("settings", g.Settings, func(field, s string) { report("", field, s) })
	scanStrings("meta", g.Meta, func(field, s string) { report("", field, s) })

	for i := range g.Nodes {
		node := &g.Nodes[i]
		report(node.Name, "name", node.Name)
		report(node.Name, "notes", node.Notes)
		report(node.Name, "webhookId", node.WebhookID)
		scanStrings("parameters", node.Parameters, func(field, s string) { report(node.Name, field, s) })
		for key, ref := range node.Credentials {
			report(node.Name, "credentials."+key+".id", ref.ID)
			report(node.Name, "credentials."+key+".name", ref.Name)
		}
	}
}

// checkCredentials flags empty or sentinel credential identifiers.
func (v *Validator) checkCredentials(g *workflow.Graph, res *Result) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		for key, ref := range node.Credentials {
			field := "credentials." + key + ".id"
			switch {
			case ref.ID == "":
				res.Errors = append(res.Errors, Finding{
					Code:    CodeInvalidCredential,
					Message: "credential id is empty",
					Node:    node.Name,
					Field:   field,
				})
			case credentialSentinels[ref.ID]:
				res.Errors = append(res.Errors, Finding{
					Code:    CodeInvalidCredential,
					Message: fmt.Sprintf("credential id is the sentinel %q", ref.ID),
					Node:    node.Name,
					Field:   field,
				})
			}
		}
	}
}

// checkEndpointPaths flags externally exposed trigger nodes whose path is
// empty or still tokenized.
func (v *Validator) checkEndpointPaths(g *workflow.Graph, res *Result) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if !workflow.IsWebhook(node.Type) {
			continue
		}
		path, _ := node.Parameters["path"].(string)
		switch {
		case path == "":
			res.Errors = append(res.Errors, Finding{
				Code:    CodeInvalidEndpointPath,
				Message: "webhook path is empty",
				Node:    node.Name,
				Field:   "parameters.path",
			})
		case len(workflow.TokensIn(path)) > 0:
			res.Errors = append(res.Errors, Finding{
				Code:    CodeInvalidEndpointPath,
				Message: fmt.Sprintf("webhook path %q still contains placeholders", path),
				Node:    node.Name,
				Field:   "parameters.path",
			})
		}
	}
}

// checkConnections verifies every edge resolves inside the graph, uses a
// recognized channel type and a non-negative port index.
func (v *Validator) checkConnections(g *workflow.Graph, res *Result) {
	names := g.NodeNames()

	for source, outputs := range g.Connections {
		if !names[source] {
			res.Errors = append(res.Errors, Finding{
				Code:    CodeDanglingConnection,
				Message: fmt.Sprintf("connection source %q does not exist in the graph", source),
				Node:    source,
			})
		}
		for channel, ports := range outputs {
			if !workflow.RecognizedChannel(channel) {
				res.Errors = append(res.Errors, Finding{
					Code:    CodeUnknownChannel,
					Message: fmt.Sprintf("unrecognized channel type %q", channel),
					Node:    source,
				})
			}
			for _, edges := range ports {
				for _, edge := range edges {
					if !names[edge.Node] {
						res.Errors = append(res.Errors, Finding{
							Code:    CodeDanglingConnection,
							Message: fmt.Sprintf("connection target %q does not exist in the graph", edge.Node),
							Node:    source,
						})
					}
					if edge.Type != "" && !workflow.RecognizedChannel(edge.Type) {
						res.Errors = append(res.Errors, Finding{
							Code:    CodeUnknownChannel,
							Message: fmt.Sprintf("unrecognized channel type %q on edge to %q", edge.Type, edge.Node),
							Node:    source,
						})
					}
					if edge.Index < 0 {
						res.Errors = append(res.Errors, Finding{
							Code:    CodeInvalidPortIndex,
							Message: fmt.Sprintf("negative output port index %d on edge to %q", edge.Index, edge.Node),
							Node:    source,
						})
					}
				}
			}
		}
	}
}

// checkErrorHandling warns about nodes calling external systems without a
// declared error-handling mode.
func (v *Validator) checkErrorHandling(g *workflow.Graph, res *Result) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.Disabled || !workflow.CallsExternal(node.Type) {
			continue
		}
		if node.OnError == "" {
			res.Warnings = append(res.Warnings, Finding{
				Code:    CodeMissingErrorHandling,
				Message: fmt.Sprintf("node type %s calls an external system but declares no error-handling mode", node.Type),
				Node:    node.Name,
				Field:   "onError",
			})
		}
	}
}

// checkStaleness warns about nodes whose type version lags the current table.
func (v *Validator) checkStaleness(g *workflow.Graph, res *Result) {
	if len(v.currentVersions) == 0 {
		return
	}
	for i := range g.Nodes {
		node := &g.Nodes[i]
		current, known := v.currentVersions[node.Type]
		if !known || node.TypeVersion >= current {
			continue
		}
		res.Warnings = append(res.Warnings, Finding{
			Code:    CodeStaleTypeVersion,
			Message: fmt.Sprintf("type version %g is older than current %g", node.TypeVersion, current),
			Node:    node.Name,
			Field:   "typeVersion",
		})
	}
}

// suggest synthesizes remediation hints from the accumulated findings.
func (v *Validator) suggest(res *Result) {
	var unbound, badCreds, stale []string
	for _, f := range res.Errors {
		switch f.Code {
		case CodeUnreplacedPlaceholder:
			if f.Token != "" {
				unbound = append(unbound, f.Token)
			}
		case CodeInvalidCredential:
			badCreds = append(badCreds, f.Node)
		}
	}
	for _, f := range res.Warnings {
		if f.Code == CodeStaleTypeVersion {
			stale = append(stale, f.Node)
		}
	}

	if len(unbound) > 0 {
		res.Suggestions = append(res.Suggestions, "bind missing variables: "+strings.Join(dedupe(unbound), ", "))
	}
	if len(badCreds) > 0 {
		res.Suggestions = append(res.Suggestions, "set real credential ids on nodes: "+strings.Join(dedupe(badCreds), ", "))
	}
	if len(stale) > 0 {
		res.Suggestions = append(res.Suggestions, "upgrade node type versions on: "+strings.Join(dedupe(stale), ", "))
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func scanStrings(prefix string, m map[string]interface{}, report func(field, s string)) {
	var walk func(field string, v interface{})
	walk = func(field string, v interface{}) {
		switch val := v.(type) {
		case string:
			report(field, val)
		case map[string]interface{}:
			for k, item := range val {
				walk(field+"."+k, item)
			}
		case []interface{}:
			for idx, item := range val {
				walk(fmt.Sprintf("%s[%d]", field, idx), item)
			}
		}
	}
	for k, v := range m {
		walk(prefix+"."+k, v)
	}
}
