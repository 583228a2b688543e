package weave

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolEntry is one aggregated tool, tagged with its owning provider.
type ToolEntry struct {
	Provider    string
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
}

// ResourceEntry is one aggregated resource, tagged with its owning provider.
type ResourceEntry struct {
	Provider    string
	URI         string
	Name        string
	Description string
}

// Directory is the merged, point-in-time view of every connected provider's
// catalog. It is rebuilt wholesale on each snapshot, never patched, so a
// reader can never observe entries from a session that has begun teardown.
type Directory struct {
	Tools     []ToolEntry
	Resources []ResourceEntry
	Warnings  []string

	toolIndex map[string]int
}

// Tool looks up an aggregated tool by name.
func (d *Directory) Tool(name string) (ToolEntry, bool) {
	idx, ok := d.toolIndex[name]
	if !ok {
		return ToolEntry{}, false
	}
	return d.Tools[idx], true
}

// Empty reports whether the directory holds no entries at all.
func (d *Directory) Empty() bool {
	return len(d.Tools) == 0 && len(d.Resources) == 0
}

// buildDirectory concatenates the catalogs of the given sessions, in
// connection order. Only Ready and Degraded sessions contribute. On a tool
// name collision the earliest-connected provider wins and the collision is
// recorded as a warning.
func buildDirectory(sessions []*Session) *Directory {
	d := &Directory{toolIndex: make(map[string]int)}

	for _, sess := range sessions {
		state := sess.State()
		if state != StateReady && state != StateDegraded {
			continue
		}

		for _, tool := range sess.Tools() {
			if winner, ok := d.toolIndex[tool.Name]; ok {
				d.Warnings = append(d.Warnings, fmt.Sprintf(
					"tool %q from server %q shadowed by server %q",
					tool.Name, sess.Name(), d.Tools[winner].Provider))
				continue
			}
			d.toolIndex[tool.Name] = len(d.Tools)
			d.Tools = append(d.Tools, ToolEntry{
				Provider:    sess.Name(),
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}

		for _, res := range sess.Resources() {
			d.Resources = append(d.Resources, ResourceEntry{
				Provider:    sess.Name(),
				URI:         res.URI,
				Name:        res.Name,
				Description: res.Description,
			})
		}
	}

	return d
}
