// Package store loads workflow templates from the filesystem: one graph
// JSON per template plus a sidecar metadata file. Templates are cached for
// the run and handed out as independent copies.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowdeploy-go/internal/domain/template"
	"github.com/flowdeploy-go/internal/domain/workflow"
	"github.com/flowdeploy-go/pkg/errs"
	"github.com/flowdeploy-go/pkg/logger"
)

const (
	graphSuffix = ".json"
	metaSuffix  = ".meta.json"
)

// metadata is the sidecar file layout.
type metadata struct {
	Category    string                           `json:"category"`
	Description string                           `json:"description"`
	DependsOn   []string                         `json:"dependsOn"`
	Variables   []string                         `json:"variables"`
	Credentials []template.CredentialRequirement `json:"credentials"`
	Endpoints   []template.EndpointRequirement   `json:"endpoints"`
}

// Store is a read-only filesystem template store.
type Store struct {
	dir    string
	logger logger.Logger

	mu    sync.RWMutex
	cache map[string]*template.Template
}

func New(dir string, log logger.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: log,
		cache:  make(map[string]*template.Template),
	}
}

// Get loads one template by identifier. Callers receive an independent copy
// so the cached graph can never be aliased or mutated.
func (s *Store) Get(id string) (*template.Template, error) {
	s.mu.RLock()
	cached, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	tpl, err := s.load(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[id] = tpl
	s.mu.Unlock()

	return tpl.Clone(), nil
}

// GetAll loads the requested templates, failing on the first missing one.
func (s *Store) GetAll(ids []string) ([]*template.Template, error) {
	templates := make([]*template.Template, 0, len(ids))
	for _, id := range ids {
		tpl, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// List returns the identifiers of every template in the store directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory %s: %w", s.dir, err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, metaSuffix) || !strings.HasSuffix(name, graphSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, graphSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// ListByCategory returns the identifiers of templates in the given category.
func (s *Store) ListByCategory(category string) ([]string, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, id := range ids {
		tpl, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if tpl.Category == category {
			matched = append(matched, id)
		}
	}
	return matched, nil
}

func (s *Store) load(id string) (*template.Template, error) {
	graphPath := filepath.Join(s.dir, id+graphSuffix)
	graphData, err := os.ReadFile(graphPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewConfigurationError(errs.CodeTemplateNotFound,
				fmt.Sprintf("template %q not found", id), graphPath)
		}
		return nil, fmt.Errorf("failed to read template %s: %w", graphPath, err)
	}

	var graph workflow.Graph
	if err := json.Unmarshal(graphData, &graph); err != nil {
		return nil, errs.NewConfigurationError(errs.CodeInvalidTemplate,
			fmt.Sprintf("template %q graph is not valid JSON", id), err.Error())
	}

	metaPath := filepath.Join(s.dir, id+metaSuffix)
	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NewConfigurationError(errs.CodeTemplateNotFound,
				fmt.Sprintf("template %q is missing its sidecar metadata", id), metaPath)
		}
		return nil, fmt.Errorf("failed to read template metadata %s: %w", metaPath, err)
	}

	var meta metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, errs.NewConfigurationError(errs.CodeInvalidTemplate,
			fmt.Sprintf("template %q metadata is not valid JSON", id), err.Error())
	}

	tpl := &template.Template{
		ID:          id,
		Category:    meta.Category,
		Description: meta.Description,
		Graph:       graph,
		Variables:   graph.ScanTokens(),
		DependsOn:   meta.DependsOn,
		Credentials: meta.Credentials,
		Endpoints:   meta.Endpoints,
	}

	// The declared variable list, when present, must match what scanning
	// the graph actually finds.
	if len(meta.Variables) > 0 {
		declared := append([]string(nil), meta.Variables...)
		sort.Strings(declared)
		if !equalStrings(declared, tpl.Variables) {
			return nil, errs.NewConfigurationError(errs.CodeInvalidTemplate,
				fmt.Sprintf("template %q declares variables %v but the graph references %v",
					id, declared, tpl.Variables), metaPath)
		}
	}

	s.logger.Debug("loaded template",
		"template", id,
		"category", tpl.Category,
		"variables", len(tpl.Variables),
		"dependencies", len(tpl.DependsOn))

	return tpl, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
