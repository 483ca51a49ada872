package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeploy-go/internal/services/injector"
	"github.com/flowdeploy-go/internal/services/platform"
	"github.com/flowdeploy-go/internal/services/resolver"
	"github.com/flowdeploy-go/internal/services/store"
	"github.com/flowdeploy-go/internal/services/validator"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

// fakeAPI records platform calls so tests can assert what a run actually did.
type fakeAPI struct {
	mu            sync.Mutex
	created       []string
	activated     []string
	failNames     map[string]bool
	blockNames    map[string]bool
	credentials   map[string]bool
	credentialErr error
	nextID        int

	started chan string
	release chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		failNames:   map[string]bool{},
		blockNames:  map[string]bool{},
		credentials: map[string]bool{"cred-1": true},
		started:     make(chan string, 8),
		release:     make(chan struct{}),
	}
}

func (f *fakeAPI) CreateWorkflow(ctx context.Context, wf *platform.RemoteWorkflow) (*platform.RemoteWorkflow, error) {
	f.mu.Lock()
	blocked := f.blockNames[wf.Name]
	f.mu.Unlock()
	if blocked {
		f.started <- wf.Name
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNames[wf.Name] {
		return nil, &errs.PlatformError{Kind: errs.KindServer, StatusCode: 500, Message: "boom"}
	}
	f.nextID++
	created := *wf
	created.ID = fmt.Sprintf("wf-%d", f.nextID)
	f.created = append(f.created, wf.Name)
	return &created, nil
}

func (f *fakeAPI) GetWorkflow(ctx context.Context, id string) (*platform.RemoteWorkflow, error) {
	return nil, &errs.PlatformError{Kind: errs.KindNotFound, StatusCode: 404, Message: "not found"}
}

func (f *fakeAPI) UpdateWorkflow(ctx context.Context, wf *platform.RemoteWorkflow) (*platform.RemoteWorkflow, error) {
	return wf, nil
}

func (f *fakeAPI) DeleteWorkflow(ctx context.Context, id string) error { return nil }

func (f *fakeAPI) ListWorkflows(ctx context.Context, cursor string) (*platform.ListPage, error) {
	return &platform.ListPage{}, nil
}

func (f *fakeAPI) ListAllWorkflows(ctx context.Context) ([]platform.RemoteWorkflow, error) {
	return nil, nil
}

func (f *fakeAPI) ActivateWorkflow(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, id)
	return nil
}

func (f *fakeAPI) DeactivateWorkflow(ctx context.Context, id string) error { return nil }

func (f *fakeAPI) CredentialExists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credentialErr != nil {
		return false, f.credentialErr
	}
	return f.credentials[id], nil
}

func (f *fakeAPI) BatchCreate(ctx context.Context, wfs []*platform.RemoteWorkflow, stopOnError bool) *platform.BatchResult {
	return &platform.BatchResult{}
}

func (f *fakeAPI) BaseURL() string { return "http://platform.test" }

func (f *fakeAPI) createdNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func writeTestTemplate(t *testing.T, dir, id, credID string, deps ...string) {
	t.Helper()
	graph := fmt.Sprintf(`{
  "name": "%s {{TENANT_NAME}}",
  "nodes": [
    {
      "id": "n1",
      "name": "Intake",
      "type": "n8n-nodes-base.webhook",
      "typeVersion": 2,
      "parameters": {"path": "%s/{{TENANT_SLUG}}"}
    },
    {
      "id": "n2",
      "name": "Work",
      "type": "n8n-nodes-base.httpRequest",
      "typeVersion": 4,
      "onError": "stopWorkflow",
      "parameters": {"url": "https://api.example.com/%s"},
      "credentials": {"httpAuth": {"id": "%s", "name": "auth"}}
    }
  ],
  "connections": {
    "Intake": {"main": [[{"node": "Work", "type": "main", "index": 0}]]}
  }
}`, id, id, id, credID)

	depsJSON := "[]"
	if len(deps) > 0 {
		depsJSON = `["` + deps[0] + `"]`
	}
	meta := fmt.Sprintf(`{"category": "integration", "dependsOn": %s}`, depsJSON)

	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(graph), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".meta.json"), []byte(meta), 0o644))
}

func testOrchestrator(t *testing.T, api platform.API, dir string) *Orchestrator {
	t.Helper()
	log := logger.NewNop()
	return NewOrchestrator(
		store.New(dir, log),
		injector.New(log),
		validator.New(log, nil),
		resolver.New(log),
		api,
		nil,
		log,
	)
}

func fullTestBindings() injector.Bindings {
	return injector.Bindings{"TENANT_NAME": "Acme", "TENANT_SLUG": "acme"}
}

func TestRunDeploysInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")
	writeTestTemplate(t, dir, "dependent", "cred-1", "base")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"dependent", "base"},
		Bindings:    fullTestBindings(),
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"base", "dependent"}, report.Order)
	assert.Equal(t, []string{"base Acme", "dependent Acme"}, api.createdNames())

	// The collected results are reported in plan order, not request order.
	require.Len(t, report.Units, 2)
	assert.Equal(t, "base", report.Units[0].TemplateID)
	assert.Equal(t, "dependent", report.Units[1].TemplateID)
	for _, unit := range report.Units {
		assert.Equal(t, UnitDeployed, unit.Status)
		assert.NotEmpty(t, unit.RemoteID)
		require.Len(t, unit.Endpoints, 1)
		assert.Contains(t, unit.Endpoints[0], "http://platform.test/webhook/")
	}
}

func TestRunDryRunNeverCallsCreate(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base"},
		Bindings:    fullTestBindings(),
		DryRun:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, StateDryRunOK, report.State)
	assert.Empty(t, api.createdNames())
	require.Len(t, report.Units, 1)
	assert.Equal(t, UnitPending, report.Units[0].Status)
}

func TestRunDryRunReportsValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	// TENANT_SLUG unbound leaves a placeholder in the webhook path.
	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base"},
		Bindings:    injector.Bindings{"TENANT_NAME": "Acme"},
		DryRun:      true,
	})
	require.Error(t, err)

	assert.Equal(t, StateDryRunFailed, report.State)
	assert.Empty(t, api.createdNames())
	require.Len(t, report.Validation, 1)
	assert.False(t, report.Validation[0].Valid)
}

func TestRunDryRunWithResourceChecks(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-missing")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs:    []string{"base"},
		Bindings:       fullTestBindings(),
		DryRun:         true,
		CheckResources: true,
	})
	require.Error(t, err)

	assert.Equal(t, StateDryRunFailed, report.State)
	assert.Equal(t, []string{"cred-missing"}, report.MissingCredentials)
	assert.Empty(t, api.createdNames())
}

func TestRunDryRunWithResourceChecksPasses(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")
	writeTestTemplate(t, dir, "mid", "cred-1", "base")
	writeTestTemplate(t, dir, "top", "cred-1", "mid")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs:    []string{"base", "mid", "top"},
		Bindings:       fullTestBindings(),
		DryRun:         true,
		CheckResources: true,
	})
	require.NoError(t, err)

	assert.Equal(t, StateDryRunOK, report.State)
	assert.Equal(t, []string{"base", "mid", "top"}, report.Order)
	assert.Empty(t, report.MissingCredentials)
	assert.Empty(t, api.createdNames())
}

func TestRunFailsOnMissingCredential(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-missing")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base"},
		Bindings:    fullTestBindings(),
	})
	require.Error(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []string{"cred-missing"}, report.MissingCredentials)
	assert.Empty(t, api.createdNames())
}

func TestRunPermissiveProceedsPastMissingCredential(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-missing")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base"},
		Bindings:    fullTestBindings(),
		Permissive:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"cred-missing"}, report.MissingCredentials)
	assert.Len(t, api.createdNames(), 1)
}

func TestRunSkipsDependentsOfFailedUnit(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")
	writeTestTemplate(t, dir, "dependent", "cred-1", "base")

	api := newFakeAPI()
	api.failNames["base Acme"] = true
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base", "dependent"},
		Bindings:    fullTestBindings(),
	})
	require.NoError(t, err)

	// The run still completes; failures live in the per-unit reports.
	assert.Equal(t, StateCompleted, report.State)

	statuses := map[string]UnitStatus{}
	for _, u := range report.Units {
		statuses[u.TemplateID] = u.Status
	}
	assert.Equal(t, UnitFailed, statuses["base"])
	assert.Equal(t, UnitSkipped, statuses["dependent"])
	assert.Empty(t, api.createdNames())
}

func TestRunActivatesWhenAsked(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	_, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"base"},
		Bindings:    fullTestBindings(),
		Activate:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-1"}, api.activated)
}

func TestRunCycleFails(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "a", "cred-1", "b")
	writeTestTemplate(t, dir, "b", "cred-1", "a")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"a", "b"},
		Bindings:    fullTestBindings(),
	})
	require.Error(t, err)

	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.Error, "DEPENDENCY_CYCLE")
	assert.Empty(t, api.createdNames())
}

func TestRunUnknownTemplateFails(t *testing.T) {
	dir := t.TempDir()
	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs: []string{"ghost"},
		Bindings:    fullTestBindings(),
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Contains(t, report.Error, "TEMPLATE_NOT_FOUND")
}

func TestRunCancelledContextSkipsRemainingUnits(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")

	api := newFakeAPI()
	orch := testOrchestrator(t, api, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := orch.Run(ctx, Request{
		TemplateIDs: []string{"base"},
		Bindings:    fullTestBindings(),
	})
	require.NoError(t, err)

	require.Len(t, report.Units, 1)
	assert.Equal(t, UnitSkipped, report.Units[0].Status)
	assert.Empty(t, api.createdNames())
}

func TestRunCancelledMidFlightRecordsInFlightUnit(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "a", "cred-1")
	writeTestTemplate(t, dir, "b", "cred-1")

	api := newFakeAPI()
	api.blockNames["a Acme"] = true
	orch := testOrchestrator(t, api, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		defer close(done)
		report, runErr = orch.Run(ctx, Request{
			TemplateIDs: []string{"a", "b"},
			Bindings:    fullTestBindings(),
			Concurrency: 1,
		})
	}()

	// Cancel while a's create is in flight, then let it finish.
	require.Equal(t, "a Acme", <-api.started)
	cancel()
	close(api.release)
	<-done

	require.NoError(t, runErr)
	assert.Equal(t, StateCompleted, report.State)

	statuses := map[string]UnitStatus{}
	for _, u := range report.Units {
		statuses[u.TemplateID] = u.Status
	}
	// The in-flight unit completed and was recorded; the queued one was
	// never issued.
	assert.Equal(t, UnitDeployed, statuses["a"])
	assert.Equal(t, UnitSkipped, statuses["b"])
	assert.Equal(t, []string{"a Acme"}, api.createdNames())
}

func TestRunDryRunCredentialCheckErrorEndsDryRunFailed(t *testing.T) {
	dir := t.TempDir()
	writeTestTemplate(t, dir, "base", "cred-1")

	api := newFakeAPI()
	api.credentialErr = &errs.PlatformError{Kind: errs.KindTransient, Message: "connection refused"}
	orch := testOrchestrator(t, api, dir)

	report, err := orch.Run(context.Background(), Request{
		TemplateIDs:    []string{"base"},
		Bindings:       fullTestBindings(),
		DryRun:         true,
		CheckResources: true,
	})
	require.Error(t, err)

	// A dry run always ends in a dry-run terminal state, even when the
	// credential check itself cannot be completed.
	assert.Equal(t, StateDryRunFailed, report.State)
	assert.Contains(t, report.Error, "credential check failed")
	assert.Empty(t, api.createdNames())
}
