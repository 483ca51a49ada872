package platform

import (
	"github.com/flowdeploy-go/internal/domain/workflow"
)

// RemoteWorkflow is a deployable unit as the platform represents it.
type RemoteWorkflow struct {
	ID          string                          `json:"id,omitempty"`
	Name        string                          `json:"name"`
	Active      bool                            `json:"active"`
	Nodes       []workflow.Node                 `json:"nodes"`
	Connections map[string]workflow.NodeOutputs `json:"connections"`
	Settings    map[string]interface{}          `json:"settings,omitempty"`
	Meta        map[string]interface{}          `json:"meta,omitempty"`
}

// FromGraph converts an injected graph into the platform's create payload.
func FromGraph(g *workflow.Graph) *RemoteWorkflow {
	return &RemoteWorkflow{
		Name:        g.Name,
		Nodes:       g.Nodes,
		Connections: g.Connections,
		Settings:    g.Settings,
		Meta:        g.Meta,
	}
}

// WebhookURLs extracts the exposed endpoint paths of the remote workflow.
func (w *RemoteWorkflow) WebhookURLs(baseURL string) []string {
	var urls []string
	for i := range w.Nodes {
		node := &w.Nodes[i]
		if !workflow.IsWebhook(node.Type) {
			continue
		}
		if path, ok := node.Parameters["path"].(string); ok && path != "" {
			urls = append(urls, baseURL+"/webhook/"+path)
		}
	}
	return urls
}

// ListPage is one page of a cursor-paginated workflow listing.
type ListPage struct {
	Data       []RemoteWorkflow `json:"data"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// BatchItemResult records one item's outcome in a batch create.
type BatchItemResult struct {
	Name     string `json:"name"`
	RemoteID string `json:"remoteId,omitempty"`
	Err      error  `json:"-"`
}

// BatchResult accumulates per-item success/failure accounting.
type BatchResult struct {
	Created []BatchItemResult `json:"created"`
	Failed  []BatchItemResult `json:"failed"`
}
