package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

const onboardingGraph = `{
  "name": "{{TENANT_NAME}} Onboarding",
  "nodes": [
    {
      "id": "n1",
      "name": "Intake",
      "type": "n8n-nodes-base.webhook",
      "typeVersion": 2,
      "parameters": {"path": "onboard/{{TENANT_SLUG}}"}
    }
  ],
  "connections": {}
}`

const onboardingMeta = `{
  "category": "onboarding",
  "description": "Per-tenant intake flow",
  "dependsOn": ["base-setup"],
  "variables": ["TENANT_NAME", "TENANT_SLUG"],
  "credentials": [{"type": "slackApi", "pattern": "slack-{{TENANT_SLUG}}"}],
  "endpoints": [{"path": "onboard/{{TENANT_SLUG}}", "method": "POST"}]
}`

func writeTemplate(t *testing.T, dir, id, graph, meta string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(graph), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".meta.json"), []byte(meta), 0o644))
}

func TestGetLoadsTemplateWithMetadata(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "customer-onboarding", onboardingGraph, onboardingMeta)

	s := New(dir, logger.NewNop())
	tpl, err := s.Get("customer-onboarding")
	require.NoError(t, err)

	assert.Equal(t, "customer-onboarding", tpl.ID)
	assert.Equal(t, "onboarding", tpl.Category)
	assert.Equal(t, []string{"base-setup"}, tpl.DependsOn)
	assert.Equal(t, []string{"TENANT_NAME", "TENANT_SLUG"}, tpl.Variables)
	require.Len(t, tpl.Credentials, 1)
	assert.Equal(t, "slackApi", tpl.Credentials[0].Type)
	require.Len(t, tpl.Graph.Nodes, 1)
}

func TestGetUnknownTemplate(t *testing.T) {
	s := New(t.TempDir(), logger.NewNop())

	_, err := s.Get("nope")
	require.Error(t, err)

	var ce *errs.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.CodeTemplateNotFound, ce.Code)
}

func TestGetMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lonely.json"), []byte(onboardingGraph), 0o644))

	s := New(dir, logger.NewNop())
	_, err := s.Get("lonely")
	require.Error(t, err)

	var ce *errs.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.CodeTemplateNotFound, ce.Code)
	assert.Contains(t, ce.Message, "sidecar")
}

func TestGetMalformedGraph(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "broken", `{"name": `, onboardingMeta)

	s := New(dir, logger.NewNop())
	_, err := s.Get("broken")
	require.Error(t, err)

	var ce *errs.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.CodeInvalidTemplate, ce.Code)
}

func TestGetDeclaredVariableMismatch(t *testing.T) {
	dir := t.TempDir()
	meta := `{"category": "onboarding", "variables": ["TENANT_NAME", "WRONG_VAR"]}`
	writeTemplate(t, dir, "mismatched", onboardingGraph, meta)

	s := New(dir, logger.NewNop())
	_, err := s.Get("mismatched")
	require.Error(t, err)

	var ce *errs.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.CodeInvalidTemplate, ce.Code)
	assert.Contains(t, ce.Message, "WRONG_VAR")
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "customer-onboarding", onboardingGraph, onboardingMeta)
	s := New(dir, logger.NewNop())

	first, err := s.Get("customer-onboarding")
	require.NoError(t, err)
	first.Graph.Name = "mutated"
	first.Graph.Nodes[0].Parameters["path"] = "hacked"

	second, err := s.Get("customer-onboarding")
	require.NoError(t, err)
	assert.Equal(t, "{{TENANT_NAME}} Onboarding", second.Graph.Name)
	assert.Equal(t, "onboard/{{TENANT_SLUG}}", second.Graph.Nodes[0].Parameters["path"])
}

func TestListSkipsSidecarsAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "beta", onboardingGraph, onboardingMeta)
	writeTemplate(t, dir, "alpha", onboardingGraph, onboardingMeta)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))

	s := New(dir, logger.NewNop())
	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestListByCategory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "onboard-a", onboardingGraph, onboardingMeta)
	writeTemplate(t, dir, "report-b", onboardingGraph,
		`{"category": "analytics", "variables": ["TENANT_NAME", "TENANT_SLUG"]}`)

	s := New(dir, logger.NewNop())
	ids, err := s.ListByCategory("analytics")
	require.NoError(t, err)
	assert.Equal(t, []string{"report-b"}, ids)
}

func TestGetAllFailsOnFirstMissing(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "present", onboardingGraph, onboardingMeta)

	s := New(dir, logger.NewNop())
	_, err := s.GetAll([]string{"present", "absent"})
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}
