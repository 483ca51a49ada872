package workflow

// Clone returns an independent deep copy of the graph. Injection operates on
// clones so concurrent deployments of the same template never alias state.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Name:     g.Name,
		Nodes:    make([]Node, len(g.Nodes)),
		Settings: CloneMap(g.Settings),
		Meta:     CloneMap(g.Meta),
	}

	for i := range g.Nodes {
		clone.Nodes[i] = g.Nodes[i].clone()
	}

	if g.Connections != nil {
		clone.Connections = make(map[string]NodeOutputs, len(g.Connections))
		for source, outputs := range g.Connections {
			cloned := make(NodeOutputs, len(outputs))
			for channel, ports := range outputs {
				clonedPorts := make([][]Connection, len(ports))
				for p, edges := range ports {
					clonedPorts[p] = append([]Connection(nil), edges...)
				}
				cloned[channel] = clonedPorts
			}
			clone.Connections[source] = cloned
		}
	}

	return clone
}

func (n Node) clone() Node {
	c := n
	c.Parameters = CloneMap(n.Parameters)
	if n.Credentials != nil {
		c.Credentials = make(map[string]CredentialRef, len(n.Credentials))
		for k, v := range n.Credentials {
			c.Credentials[k] = v
		}
	}
	return c
}

// CloneMap deep-copies a JSON-shaped map (string, number, bool, nil, list, map).
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value.
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return v
	}
}
