package worker

import "slices"

// Tool sets the worker may be pre-authorized to use.
var (
	// ToolSetReadOnly inspects files without changing anything.
	ToolSetReadOnly = []string{"Read", "Glob", "Grep"}
	// ToolSetWeb reaches the network for lookups.
	ToolSetWeb = []string{"WebFetch", "WebSearch"}
)

// DefaultAllowedTools is granted to every invocation.
var DefaultAllowedTools = ComposeTools(ToolSetReadOnly)

// ComposeTools concatenates tool sets, dropping duplicates and keeping the
// first occurrence's position.
func ComposeTools(sets ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, set := range sets {
		for _, tool := range set {
			if tool == "" || seen[tool] {
				continue
			}
			seen[tool] = true
			out = append(out, tool)
		}
	}
	return out
}

// ResolveTools computes the final allow-list: defaults, then configured
// tools, then the request's tools, minus anything disallowed.
//
// The disallow filter runs twice, once on the union and again on the final
// list.
func ResolveTools(configured, requested, disallowed []string) []string {
	allowed := ComposeTools(DefaultAllowedTools, configured, requested)
	allowed = removeTools(allowed, disallowed)
	return removeTools(allowed, disallowed)
}

func removeTools(tools, disallowed []string) []string {
	if len(disallowed) == 0 {
		return tools
	}
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if !slices.Contains(disallowed, t) {
			out = append(out, t)
		}
	}
	return out
}
