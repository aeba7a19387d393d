package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smallnest/spice/log"
	"github.com/smallnest/spice/message"
)

// TemplateResolver evaluates {{data.path}} and {{metadata.path}}
// expressions against a message. Dotted paths traverse nested maps.
// Missing paths resolve to the sentinel (default empty string) and log
// at debug; literal values pass through unchanged. Used by subgraph
// input mappings.
type TemplateResolver struct {
	// Missing is the value substituted for unresolvable paths.
	Missing any

	logger log.Logger
}

var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// NewTemplateResolver creates a resolver with the empty-string sentinel.
func NewTemplateResolver() *TemplateResolver {
	return &TemplateResolver{Missing: "", logger: log.Default()}
}

// Resolve evaluates one mapping value. A value that is exactly one
// template expression yields the referenced value with its type
// preserved; a string with embedded expressions interpolates them; any
// other value passes through unchanged.
func (r *TemplateResolver) Resolve(value any, msg *message.Message) any {
	str, ok := value.(string)
	if !ok {
		return value
	}

	matches := templatePattern.FindAllStringSubmatchIndex(str, -1)
	if len(matches) == 0 {
		return str
	}

	// Whole-string template: preserve the value type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(str) {
		path := str[matches[0][2]:matches[0][3]]
		resolved, found := r.lookup(path, msg)
		if !found {
			r.logger.Debug("template path %q not found, using sentinel", path)
			return r.Missing
		}
		return resolved
	}

	return templatePattern.ReplaceAllStringFunc(str, func(expr string) string {
		sub := templatePattern.FindStringSubmatch(expr)
		resolved, found := r.lookup(sub[1], msg)
		if !found {
			r.logger.Debug("template path %q not found, using sentinel", sub[1])
			return fmt.Sprintf("%v", r.Missing)
		}
		return fmt.Sprintf("%v", resolved)
	})
}

// lookup traverses "data.a.b" / "metadata.a.b" style paths.
func (r *TemplateResolver) lookup(path string, msg *message.Message) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, false
	}

	var current any
	switch parts[0] {
	case "data":
		v, ok := msg.Data(parts[1])
		if !ok {
			return nil, false
		}
		current = v
	case "metadata":
		v, ok := msg.Metadata(parts[1])
		if !ok {
			return nil, false
		}
		current = v
	default:
		return nil, false
	}

	for _, part := range parts[2:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
