package weave

import (
	"context"
	"fmt"
	"strings"
)

// FetchedResource is one resource selected and fetched for a payload.
type FetchedResource struct {
	Provider string
	URI      string
	Name     string
	Content  []byte
}

// ResourceError records a per-resource fetch failure. Assembly of the
// remaining resources is never aborted by one failed fetch.
type ResourceError struct {
	Provider string
	URI      string
	Reason   string
}

// ContextPayload is the request-scoped snapshot handed to the prompt
// assembler: matching resource contents, the full tool listing, and the byte
// accounting used to enforce the size cap. Never shared across requests.
type ContextPayload struct {
	Query      string
	Resources  []FetchedResource
	Tools      []ToolEntry
	Errors     []ResourceError
	TotalBytes int
	Truncated  bool
}

// Render produces the plain-text form injected into a prompt.
func (p *ContextPayload) Render() string {
	var buf strings.Builder

	if len(p.Tools) > 0 {
		buf.WriteString("Available tools:\n")
		for _, tool := range p.Tools {
			fmt.Fprintf(&buf, "- %s (%s): %s\n", tool.Name, tool.Provider, tool.Description)
		}
	}

	for _, res := range p.Resources {
		fmt.Fprintf(&buf, "\n--- %s (%s, %d bytes) ---\n", res.URI, res.Provider, len(res.Content))
		buf.Write(res.Content)
		buf.WriteString("\n")
	}

	if p.Truncated {
		buf.WriteString("\n[context truncated to size cap]\n")
	}

	return buf.String()
}

// Assembler selects query-relevant resources from the aggregated directory
// and renders a bounded payload.
type Assembler struct {
	mgr     Manager
	sizeCap int
}

// NewAssembler builds an assembler over mgr with the given byte cap.
func NewAssembler(mgr Manager, sizeCap int) *Assembler {
	return &Assembler{mgr: mgr, sizeCap: sizeCap}
}

// Assemble fetches the resources whose name or description contains query
// (case-insensitive; an empty query matches everything), in catalog order,
// stopping before the running byte total would exceed the cap. The tool
// listing is always included in full.
func (a *Assembler) Assemble(ctx context.Context, query string) *ContextPayload {
	directory := a.mgr.Directory()

	payload := &ContextPayload{
		Query: query,
		Tools: directory.Tools,
	}

	for _, entry := range directory.Resources {
		if !resourceMatches(entry, query) {
			continue
		}

		content, err := a.mgr.ReadResource(ctx, entry.Provider, entry.URI)
		if err != nil {
			payload.Errors = append(payload.Errors, ResourceError{
				Provider: entry.Provider,
				URI:      entry.URI,
				Reason:   err.Error(),
			})
			continue
		}

		if payload.TotalBytes+len(content) > a.sizeCap {
			payload.Truncated = true
			break
		}

		payload.Resources = append(payload.Resources, FetchedResource{
			Provider: entry.Provider,
			URI:      entry.URI,
			Name:     entry.Name,
			Content:  content,
		})
		payload.TotalBytes += len(content)
	}

	return payload
}

// resourceMatches is the relevance filter: a bare case-insensitive substring
// match against resource name and description, deliberately deterministic.
func resourceMatches(entry ResourceEntry, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(entry.Name), q) ||
		strings.Contains(strings.ToLower(entry.Description), q)
}
