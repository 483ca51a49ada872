package workflow

// Graph is one workflow definition: an ordered node list plus a connections
// map keyed by source node name. Channel type and output-port index follow
// the remote platform's wire format.
type Graph struct {
	Name        string                 `json:"name"`
	Nodes       []Node                 `json:"nodes"`
	Connections map[string]NodeOutputs `json:"connections"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// NodeOutputs maps a channel type to its per-output-port edge lists.
type NodeOutputs map[string][][]Connection

// Connection is a directed edge target. The source is the outer map key on
// Graph.Connections; Index is the source's output port.
type Connection struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Node is a single workflow step.
type Node struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Type        string                   `json:"type"`
	TypeVersion float64                  `json:"typeVersion"`
	Parameters  map[string]interface{}   `json:"parameters"`
	Credentials map[string]CredentialRef `json:"credentials,omitempty"`
	OnError     string                   `json:"onError,omitempty"`
	Notes       string                   `json:"notes,omitempty"`
	Disabled    bool                     `json:"disabled,omitempty"`
	WebhookID   string                   `json:"webhookId,omitempty"`
}

// CredentialRef points at an externally managed secret by id and display name.
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel types
const (
	ChannelMain  = "main"
	ChannelError = "error"
)

// Error-handling modes
const (
	OnErrorStop     = "stopWorkflow"
	OnErrorContinue = "continueRegularOutput"
	OnErrorBranch   = "continueErrorOutput"
)

// RecognizedChannel reports whether t is a channel type the graph understands.
func RecognizedChannel(t string) bool {
	return t == ChannelMain || t == ChannelError
}

// externalCallTypes are node types that reach out to external systems and
// therefore warrant a declared error-handling mode.
var externalCallTypes = map[string]bool{
	"n8n-nodes-base.httpRequest": true,
	"n8n-nodes-base.postgres":    true,
	"n8n-nodes-base.mysql":       true,
	"n8n-nodes-base.emailSend":   true,
	"n8n-nodes-base.slack":       true,
	"n8n-nodes-base.redis":       true,
	"n8n-nodes-base.s3":          true,
}

// CallsExternal reports whether the node type talks to an external system.
func CallsExternal(nodeType string) bool {
	return externalCallTypes[nodeType]
}

// webhookTypes are externally exposed trigger node types carrying a path.
var webhookTypes = map[string]bool{
	"n8n-nodes-base.webhook": true,
}

// IsWebhook reports whether the node type exposes an HTTP endpoint.
func IsWebhook(nodeType string) bool {
	return webhookTypes[nodeType]
}

// NodeByName returns the node with the given display name, or nil.
func (g *Graph) NodeByName(name string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Name == name {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodeNames returns the set of node display names in the graph.
func (g *Graph) NodeNames() map[string]bool {
	names := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		names[g.Nodes[i].Name] = true
	}
	return names
}
