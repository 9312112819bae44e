// Package policy defines the tool capability set handed to sub-agent
// execution contexts.
package policy

import "strings"

var (
	// readOnlyTools are safe for unattended sub-agent exploration.
	readOnlyTools = []string{
		"read_file",
		"list_directory",
		"glob",
		"grep",
		"fetch_url",
		"notebook_read",
	}

	// deniedTools are excluded from every sub-agent context. Delegation
	// tools would let a sub-agent spawn its own children and fan out
	// without bound; mutating tools are excluded because sub-agents run
	// unattended.
	deniedTools = []string{
		"launch_subagent",
		"wait_subagent",
		"write_file",
		"edit_file",
		"execute_command",
	}
)

// SubagentTools returns the capability list for a new sub-agent context.
func SubagentTools() []string {
	out := make([]string, len(readOnlyTools))
	copy(out, readOnlyTools)
	return out
}

// Allowed reports whether a tool may be granted to a sub-agent context.
func Allowed(tool string) bool {
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		return false
	}
	for _, denied := range deniedTools {
		if tool == denied {
			return false
		}
	}
	for _, allowed := range readOnlyTools {
		if tool == allowed {
			return true
		}
	}
	return false
}
