package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensIn(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"no tokens", "plain text", nil},
		{"single token", "{{TENANT_NAME}}", []string{"TENANT_NAME"}},
		{"inner whitespace", "{{ TENANT_NAME }}", []string{"TENANT_NAME"}},
		{"embedded", "https://{{HOST}}/hooks/{{TENANT_SLUG}}", []string{"HOST", "TENANT_SLUG"}},
		{"dotted name", "{{TENANT.SLUG}}", []string{"TENANT.SLUG"}},
		{"repeated token", "{{A}}-{{A}}", []string{"A", "A"}},
		{"not a token", "{{9bad}}", nil},
		{"unclosed", "{{OPEN", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TokensIn(tt.input))
		})
	}
}

func TestWholeToken(t *testing.T) {
	name, ok := WholeToken("{{SLACK_CHANNELS}}")
	require.True(t, ok)
	assert.Equal(t, "SLACK_CHANNELS", name)

	name, ok = WholeToken("  {{SLACK_CHANNELS}}  ")
	require.True(t, ok)
	assert.Equal(t, "SLACK_CHANNELS", name)

	_, ok = WholeToken("prefix {{SLACK_CHANNELS}}")
	assert.False(t, ok)

	_, ok = WholeToken("{{A}}{{B}}")
	assert.False(t, ok)

	_, ok = WholeToken("no token")
	assert.False(t, ok)
}

func TestReplaceTokensLeavesUnresolved(t *testing.T) {
	out := ReplaceTokens("{{A}} and {{B}}", func(name string) (string, bool) {
		if name == "A" {
			return "alpha", true
		}
		return "", false
	})
	assert.Equal(t, "alpha and {{B}}", out)
}

func TestScanTokens(t *testing.T) {
	g := &Graph{
		Name: "{{TENANT_NAME}} Onboarding",
		Settings: map[string]interface{}{
			"timezone": "{{TENANT_TZ}}",
		},
		Nodes: []Node{
			{
				Name: "Notify",
				Parameters: map[string]interface{}{
					"channel": "{{SLACK_CHANNEL}}",
					"nested": map[string]interface{}{
						"values": []interface{}{"{{TENANT_NAME}}", 42},
					},
				},
				Credentials: map[string]CredentialRef{
					"slackApi": {ID: "{{SLACK_CRED_ID}}", Name: "slack"},
				},
			},
		},
	}

	// Distinct and sorted, regardless of where or how often a token appears.
	assert.Equal(t,
		[]string{"SLACK_CHANNEL", "SLACK_CRED_ID", "TENANT_NAME", "TENANT_TZ"},
		g.ScanTokens())
}

func TestCloneIsIndependent(t *testing.T) {
	g := &Graph{
		Name: "original",
		Nodes: []Node{
			{
				Name:       "A",
				Parameters: map[string]interface{}{"deep": map[string]interface{}{"key": "value"}},
			},
		},
		Connections: map[string]NodeOutputs{
			"A": {ChannelMain: {{{Node: "B", Type: ChannelMain, Index: 0}}}},
		},
	}

	clone := g.Clone()
	clone.Name = "mutated"
	clone.Nodes[0].Parameters["deep"].(map[string]interface{})["key"] = "changed"
	clone.Connections["A"][ChannelMain][0][0].Node = "C"

	assert.Equal(t, "original", g.Name)
	assert.Equal(t, "value", g.Nodes[0].Parameters["deep"].(map[string]interface{})["key"])
	assert.Equal(t, "B", g.Connections["A"][ChannelMain][0][0].Node)
}
