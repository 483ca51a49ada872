package workflow

import (
	"regexp"
	"sort"
	"strings"
)

// tokenPattern matches a placeholder token: {{NAME}} with optional inner
// whitespace. Names may be dotted (TENANT.SLUG).
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// TokensIn returns the token names embedded in s, in order of appearance.
func TokensIn(s string) []string {
	matches := tokenPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// WholeToken reports whether s, ignoring surrounding whitespace, is exactly
// one token, and returns its name. Whole-value tokens are replaced with the
// bound value's native shape rather than string-interpolated.
func WholeToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	m := tokenPattern.FindStringSubmatch(trimmed)
	if m == nil || m[0] != trimmed {
		return "", false
	}
	return m[1], true
}

// ReplaceTokens substitutes every token in s for which resolve returns a
// replacement. Tokens resolve declines are left untouched.
func ReplaceTokens(s string, resolve func(name string) (string, bool)) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if replacement, ok := resolve(name); ok {
			return replacement
		}
		return match
	})
}

// ScanTokens walks every string in the graph (node names, parameters,
// credential references, notes, settings) and collects the distinct token
// set, sorted.
func (g *Graph) ScanTokens() []string {
	seen := make(map[string]bool)

	collect := func(s string) {
		for _, tok := range TokensIn(s) {
			seen[tok] = true
		}
	}

	collect(g.Name)
	scanValueTokens(mapToValue(g.Settings), collect)
	scanValueTokens(mapToValue(g.Meta), collect)

	for i := range g.Nodes {
		node := &g.Nodes[i]
		collect(node.Name)
		collect(node.Notes)
		collect(node.WebhookID)
		scanValueTokens(mapToValue(node.Parameters), collect)
		for _, ref := range node.Credentials {
			collect(ref.ID)
			collect(ref.Name)
		}
	}

	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

func mapToValue(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

func scanValueTokens(v interface{}, collect func(string)) {
	switch val := v.(type) {
	case string:
		collect(val)
	case map[string]interface{}:
		for _, item := range val {
			scanValueTokens(item, collect)
		}
	case []interface{}:
		for _, item := range val {
			scanValueTokens(item, collect)
		}
	}
}
