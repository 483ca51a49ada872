package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

func tpl(id string, deps ...string) *template.Template {
	return &template.Template{ID: id, DependsOn: deps}
}

func TestResolveLinearChain(t *testing.T) {
	r := New(logger.NewNop())

	plan, err := r.Resolve([]*template.Template{
		tpl("reporting", "ingestion"),
		tpl("ingestion", "base"),
		tpl("base"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"base", "ingestion", "reporting"}, plan.Order)
	assert.Equal(t, [][]string{{"base"}, {"ingestion"}, {"reporting"}}, plan.Batches)
}

func TestResolveBatchesIndependentTemplates(t *testing.T) {
	r := New(logger.NewNop())

	plan, err := r.Resolve([]*template.Template{
		tpl("notify-a", "base"),
		tpl("notify-b", "base"),
		tpl("base"),
		tpl("rollup", "notify-a", "notify-b"),
	})
	require.NoError(t, err)

	// Templates with all dependencies satisfied land in the same batch,
	// lexicographically ordered for determinism.
	assert.Equal(t, [][]string{
		{"base"},
		{"notify-a", "notify-b"},
		{"rollup"},
	}, plan.Batches)
	assert.Equal(t, []string{"base", "notify-a", "notify-b", "rollup"}, plan.Order)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := New(logger.NewNop())
	set := []*template.Template{tpl("c"), tpl("a"), tpl("b")}

	first, err := r.Resolve(set)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		plan, err := r.Resolve(set)
		require.NoError(t, err)
		assert.Equal(t, first.Order, plan.Order)
	}
	assert.Equal(t, []string{"a", "b", "c"}, first.Order)
}

func TestResolveUnknownDependency(t *testing.T) {
	r := New(logger.NewNop())

	_, err := r.Resolve([]*template.Template{
		tpl("reporting", "ingestion"),
	})
	require.Error(t, err)

	var ce *errs.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, errs.CodeUnknownDependency, ce.Code)
	assert.Contains(t, ce.Message, "ingestion")
}

func TestResolveCycleNamesTheParticipants(t *testing.T) {
	r := New(logger.NewNop())

	_, err := r.Resolve([]*template.Template{
		tpl("a", "b"),
		tpl("b", "a"),
	})
	require.Error(t, err)

	var cycle *errs.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Contains(t, cycle.Path, "a")
	assert.Contains(t, cycle.Path, "b")
	assert.Contains(t, err.Error(), "DEPENDENCY_CYCLE")
}

func TestResolveCycleBehindAChain(t *testing.T) {
	r := New(logger.NewNop())

	// base is fine; the cycle sits between mid and top.
	_, err := r.Resolve([]*template.Template{
		tpl("base"),
		tpl("mid", "base", "top"),
		tpl("top", "mid"),
	})
	require.Error(t, err)

	var cycle *errs.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Contains(t, cycle.Path, "mid")
	assert.Contains(t, cycle.Path, "top")
	assert.NotContains(t, cycle.Path, "base")
}

func TestResolveEmptySet(t *testing.T) {
	r := New(logger.NewNop())
	plan, err := r.Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Order)
	assert.Empty(t, plan.Batches)
}
