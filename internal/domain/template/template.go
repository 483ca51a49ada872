package template

import (
	"github.com/flowdeploy-go/internal/domain/workflow"
)

// Template categories
const (
	CategoryOnboarding   = "onboarding"
	CategoryIntegration  = "integration"
	CategoryNotification = "notification"
	CategoryAnalytics    = "analytics"
	CategoryCustom       = "custom"
)

// Template is a parameterized workflow graph plus its sidecar metadata.
// Templates are immutable for the duration of a run.
type Template struct {
	ID          string                  `json:"id"`
	Category    string                  `json:"category"`
	Description string                  `json:"description"`
	Graph       workflow.Graph          `json:"graph"`
	Variables   []string                `json:"variables"`
	DependsOn   []string                `json:"dependsOn"`
	Credentials []CredentialRequirement `json:"credentials"`
	Endpoints   []EndpointRequirement   `json:"endpoints"`
}

// CredentialRequirement names an externally managed credential the deployed
// workflow expects: its platform type and the naming pattern used per tenant.
type CredentialRequirement struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

// EndpointRequirement is an HTTP path+method the deployed workflow exposes.
type EndpointRequirement struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

// Clone returns an independent deep copy of the template.
func (t *Template) Clone() *Template {
	clone := &Template{
		ID:          t.ID,
		Category:    t.Category,
		Description: t.Description,
		Graph:       *t.Graph.Clone(),
		Variables:   append([]string(nil), t.Variables...),
		DependsOn:   append([]string(nil), t.DependsOn...),
		Credentials: append([]CredentialRequirement(nil), t.Credentials...),
		Endpoints:   append([]EndpointRequirement(nil), t.Endpoints...),
	}
	return clone
}
