// Package deploy composes the template store, injector, validator, resolver
// and platform client into a deployment run:
// LOAD -> INJECT -> VALIDATE -> RESOLVE_ORDER -> CHECK_EXTERNAL_RESOURCES ->
// DEPLOY -> COLLECT_RESULTS, with dry-run exits after VALIDATE or the
// resource checks.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/internal/services/injector"
	"github.com/flowdeploy-go/internal/services/platform"
	"github.com/flowdeploy-go/internal/services/resolver"
	"github.com/flowdeploy-go/internal/services/store"
	"github.com/flowdeploy-go/internal/services/validator"
	"github.com/flowdeploy-go/pkg/logger"
)

const (
	defaultConcurrency = 4
	maxConcurrency     = 8
)

// Orchestrator drives deployment runs end to end.
type Orchestrator struct {
	store     *store.Store
	injector  *injector.Injector
	validator *validator.Validator
	resolver  *resolver.Resolver
	client    platform.API
	history   *History
	logger    logger.Logger
}

func NewOrchestrator(
	st *store.Store,
	inj *injector.Injector,
	val *validator.Validator,
	res *resolver.Resolver,
	client platform.API,
	history *History,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     st,
		injector:  inj,
		validator: val,
		resolver:  res,
		client:    client,
		history:   history,
		logger:    log,
	}
}

// Run executes one deployment run. The returned report is always populated,
// including on failure; err mirrors report.Error for callers that only care
// about pass/fail.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	runID := uuid.New().String()
	sm := NewStateMachine(runID, o.logger)
	report := &Report{RunID: runID, StartedAt: time.Now()}
	log := o.logger.With("run", runID)

	log.Info("starting deployment run",
		"templates", len(req.TemplateIDs),
		"dryRun", req.DryRun,
		"permissive", req.Permissive)

	// LOAD
	_ = sm.Transition(EventLoad)
	templates, err := o.store.GetAll(req.TemplateIDs)
	if err != nil {
		return o.fail(sm, report, fmt.Errorf("failed to load templates: %w", err))
	}

	// INJECT
	_ = sm.Transition(EventInject)
	units := make([]*Unit, 0, len(templates))
	byID := make(map[string]*Unit, len(templates))
	for _, tpl := range templates {
		graph, err := o.injector.Inject(tpl, req.Bindings)
		if err != nil {
			return o.fail(sm, report, fmt.Errorf("failed to inject template %s: %w", tpl.ID, err))
		}
		unit := &Unit{Template: tpl, Graph: graph, Status: UnitPending}
		units = append(units, unit)
		byID[tpl.ID] = unit
	}

	// VALIDATE: every graph is validated and every result is aggregated
	// before the run decides anything.
	_ = sm.Transition(EventValidate)
	blocking := false
	for _, unit := range units {
		res := o.validator.Validate(unit.Template.ID, unit.Graph)
		report.Validation = append(report.Validation, res)
		if !res.Valid {
			blocking = true
		}
	}
	if blocking && !req.Permissive {
		err := fmt.Errorf("validation failed for %d of %d graphs", countInvalid(report.Validation), len(units))
		if req.DryRun {
			return o.finishDryRun(sm, report, units, err)
		}
		return o.fail(sm, report, err)
	}
	if req.DryRun && !req.CheckResources {
		return o.finishDryRun(sm, report, units, nil)
	}

	// RESOLVE_ORDER
	_ = sm.Transition(EventResolve)
	plan, err := o.resolver.Resolve(templates)
	if err != nil {
		if req.DryRun {
			return o.finishDryRun(sm, report, units, err)
		}
		return o.fail(sm, report, err)
	}
	report.Order = plan.Order
	report.Batches = plan.Batches

	// CHECK_EXTERNAL_RESOURCES: all distinct credentials are checked and
	// all missing ones reported in one batch, never fail-fast.
	_ = sm.Transition(EventCheck)
	missing, err := o.checkCredentials(ctx, units)
	if err != nil {
		err = fmt.Errorf("credential check failed: %w", err)
		if req.DryRun {
			return o.finishDryRun(sm, report, units, err)
		}
		return o.fail(sm, report, err)
	}
	report.MissingCredentials = missing
	if len(missing) > 0 && !req.Permissive {
		err := fmt.Errorf("%d referenced credentials missing on platform: %v", len(missing), missing)
		if req.DryRun {
			return o.finishDryRun(sm, report, units, err)
		}
		return o.fail(sm, report, err)
	}
	if req.DryRun {
		return o.finishDryRun(sm, report, units, nil)
	}

	// DEPLOY
	_ = sm.Transition(EventDeploy)
	finished := o.deploy(ctx, req, plan, byID)

	// COLLECT_RESULTS
	_ = sm.Transition(EventCollect)
	report.Units = unitReports(orderByPlan(finished, plan.Order))
	report.FinishedAt = time.Now()
	_ = sm.Transition(EventComplete)
	report.State = sm.State()
	report.Transitions = sm.History()

	o.persist(ctx, req, report)
	log.Info("deployment run finished",
		"state", string(report.State),
		"deployed", countStatus(report.Units, UnitDeployed),
		"failed", countStatus(report.Units, UnitFailed),
		"skipped", countStatus(report.Units, UnitSkipped))

	return report, nil
}

// deploy walks the plan batch by batch. Units inside a batch are mutually
// independent, so they deploy concurrently through a bounded worker pool.
// Dependents of a failed or skipped unit are skipped, not attempted. The
// returned slice is the collector's view: every unit exactly once, in
// completion order.
func (o *Orchestrator) deploy(ctx context.Context, req Request, plan *resolver.Plan, byID map[string]*Unit) []*Unit {
	collector := &resultCollector{}
	concurrency := clampConcurrency(req.Concurrency)

	for _, batch := range plan.Batches {
		var runnable []*Unit
		for _, id := range batch {
			unit := byID[id]
			if reason := o.blockedBy(unit.Template, byID); reason != "" {
				unit.Status = UnitSkipped
				unit.Err = fmt.Errorf("skipped: dependency %s did not deploy", reason)
				collector.add(unit)
				continue
			}
			if ctx.Err() != nil {
				unit.Status = UnitSkipped
				unit.Err = fmt.Errorf("skipped: run cancelled before deploy")
				collector.add(unit)
				continue
			}
			runnable = append(runnable, unit)
		}
		o.deployBatch(ctx, req, runnable, concurrency, collector)
	}
	return collector.all()
}

// orderByPlan puts collected units back into plan order for the report.
func orderByPlan(units []*Unit, order []string) []*Unit {
	byID := make(map[string]*Unit, len(units))
	for _, unit := range units {
		byID[unit.Template.ID] = unit
	}
	ordered := make([]*Unit, 0, len(units))
	for _, id := range order {
		if unit, ok := byID[id]; ok {
			ordered = append(ordered, unit)
		}
	}
	return ordered
}

// deployBatch pushes one batch through a bounded worker pool. The collector
// is the only shared mutable state; cancellation stops new units from being
// issued while in-flight calls still record their outcome.
func (o *Orchestrator) deployBatch(ctx context.Context, req Request, units []*Unit, concurrency int, collector *resultCollector) {
	if len(units) == 0 {
		return
	}
	if concurrency > len(units) {
		concurrency = len(units)
	}

	queue := make(chan *Unit)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range queue {
				if ctx.Err() != nil {
					unit.Status = UnitSkipped
					unit.Err = fmt.Errorf("skipped: run cancelled before deploy")
					collector.add(unit)
					continue
				}
				o.deployUnit(ctx, req, unit)
				collector.add(unit)
			}
		}()
	}

	for _, unit := range units {
		queue <- unit
	}
	close(queue)
	wg.Wait()
}

func (o *Orchestrator) deployUnit(ctx context.Context, req Request, unit *Unit) {
	created, err := o.client.CreateWorkflow(ctx, platform.FromGraph(unit.Graph))
	if err != nil {
		unit.Status = UnitFailed
		unit.Err = err
		o.logger.Error("unit deploy failed", "template", unit.Template.ID, "error", err)
		return
	}

	unit.RemoteID = created.ID
	unit.Endpoints = created.WebhookURLs(o.client.BaseURL())
	unit.Status = UnitDeployed

	if req.Activate {
		if err := o.client.ActivateWorkflow(ctx, created.ID); err != nil {
			// The workflow exists; activation failure is recorded but the
			// unit still counts as deployed.
			unit.Err = fmt.Errorf("deployed but not activated: %w", err)
			o.logger.Warn("unit activation failed", "template", unit.Template.ID, "error", err)
		}
	}

	o.logger.Info("unit deployed",
		"template", unit.Template.ID,
		"remoteId", unit.RemoteID,
		"endpoints", len(unit.Endpoints))
}

// blockedBy returns the ID of the first dependency that did not deploy.
func (o *Orchestrator) blockedBy(tpl *template.Template, byID map[string]*Unit) string {
	for _, dep := range tpl.DependsOn {
		if depUnit, ok := byID[dep]; ok && depUnit.Status != UnitDeployed {
			return dep
		}
	}
	return ""
}

// checkCredentials gathers every distinct credential id across the set and
// checks each against the platform, collecting all missing ids.
func (o *Orchestrator) checkCredentials(ctx context.Context, units []*Unit) ([]string, error) {
	ids := make(map[string]bool)
	for _, unit := range units {
		for i := range unit.Graph.Nodes {
			for _, ref := range unit.Graph.Nodes[i].Credentials {
				if ref.ID != "" {
					ids[ref.ID] = true
				}
			}
		}
	}

	var missing []string
	for id := range ids {
		exists, err := o.client.CredentialExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

func (o *Orchestrator) finishDryRun(sm *StateMachine, report *Report, units []*Unit, cause error) (*Report, error) {
	event := EventDryRunPass
	if cause != nil {
		event = EventDryRunFail
		report.Error = cause.Error()
	}
	_ = sm.Transition(event)

	report.Units = unitReports(units)
	report.State = sm.State()
	report.Transitions = sm.History()
	report.FinishedAt = time.Now()

	o.persist(context.Background(), Request{}, report)
	o.logger.Info("dry run finished", "run", report.RunID, "state", string(report.State))
	return report, cause
}

func (o *Orchestrator) fail(sm *StateMachine, report *Report, cause error) (*Report, error) {
	_ = sm.Transition(EventFail)
	report.State = sm.State()
	report.Transitions = sm.History()
	report.Error = cause.Error()
	report.FinishedAt = time.Now()

	o.persist(context.Background(), Request{}, report)
	o.logger.Error("deployment run failed", "run", report.RunID, "error", cause)
	return report, cause
}

func (o *Orchestrator) persist(ctx context.Context, _ Request, report *Report) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveRun(ctx, report); err != nil {
		o.logger.Warn("failed to persist run history", "run", report.RunID, "error", err)
	}
}

func unitReports(units []*Unit) []UnitReport {
	reports := make([]UnitReport, 0, len(units))
	for _, unit := range units {
		r := UnitReport{
			TemplateID: unit.Template.ID,
			Status:     unit.Status,
			RemoteID:   unit.RemoteID,
			Endpoints:  unit.Endpoints,
		}
		if unit.Err != nil {
			r.Error = unit.Err.Error()
		}
		reports = append(reports, r)
	}
	return reports
}

func countInvalid(results []*validator.Result) int {
	n := 0
	for _, r := range results {
		if !r.Valid {
			n++
		}
	}
	return n
}

func countStatus(units []UnitReport, status UnitStatus) int {
	n := 0
	for _, u := range units {
		if u.Status == status {
			n++
		}
	}
	return n
}

func clampConcurrency(n int) int {
	if n <= 0 {
		return defaultConcurrency
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}
