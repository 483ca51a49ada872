package deploy

import (
	"sync"
	"time"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/internal/domain/workflow"
	"github.com/flowdeploy-go/internal/services/injector"
	"github.com/flowdeploy-go/internal/services/validator"
)

// Request describes one deployment run.
type Request struct {
	TemplateIDs []string
	Bindings    injector.Bindings
	// DryRun stops the run after VALIDATE; CheckResources extends a dry
	// run through the credential existence checks. Neither reaches DEPLOY.
	DryRun         bool
	CheckResources bool
	// Permissive lets the run proceed past blocking validation findings
	// and missing credentials.
	Permissive bool
	// Activate flips each workflow active after a successful create.
	Activate bool
	// Concurrency bounds in-batch deploy parallelism. Values outside
	// [1, maxConcurrency] are clamped.
	Concurrency int
}

// UnitStatus is a deployment unit's final disposition.
type UnitStatus string

const (
	UnitPending  UnitStatus = "pending"
	UnitDeployed UnitStatus = "deployed"
	UnitFailed   UnitStatus = "failed"
	UnitSkipped  UnitStatus = "skipped"
)

// Unit is one injected graph on its way to the platform.
type Unit struct {
	Template  *template.Template
	Graph     *workflow.Graph
	Status    UnitStatus
	RemoteID  string
	Endpoints []string
	Err       error
}

// UnitReport is the per-unit slice of the final report.
type UnitReport struct {
	TemplateID string     `json:"templateId"`
	Status     UnitStatus `json:"status"`
	RemoteID   string     `json:"remoteId,omitempty"`
	Endpoints  []string   `json:"endpoints,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Report is the full outcome of a run.
type Report struct {
	RunID              string              `json:"runId"`
	State              RunState            `json:"state"`
	Units              []UnitReport        `json:"units"`
	Validation         []*validator.Result `json:"validation,omitempty"`
	MissingCredentials []string            `json:"missingCredentials,omitempty"`
	Order              []string            `json:"order,omitempty"`
	Batches            [][]string          `json:"batches,omitempty"`
	Transitions        []StateTransition   `json:"transitions"`
	StartedAt          time.Time           `json:"startedAt"`
	FinishedAt         time.Time           `json:"finishedAt"`
	Error              string              `json:"error,omitempty"`
}

// resultCollector is the only shared mutable state across concurrent deploy
// calls: an append-only, mutex-guarded list of finished units.
type resultCollector struct {
	mu    sync.Mutex
	units []*Unit
}

func (c *resultCollector) add(u *Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units = append(c.units, u)
}

func (c *resultCollector) all() []*Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Unit(nil), c.units...)
}
