package taskweave

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
)

// renderSignatures produces the compact, one-line-per-tool catalog the agent
// loop embeds in its system prompt: for each path p, a line
// "- p(ArgsType): Promise<ReturnsType> [auto|approval required] — description".
// It never fails — a schema the printer can't interpret degrades to
// "unknown" rather than aborting the whole catalog.
func renderSignatures(tree *ToolTree) string {
	var b strings.Builder
	tree.Walk(func(path string, tool *Tool) {
		fmt.Fprintf(&b, "- %s(%s): Promise<%s> [%s]", path, renderParams(tool.ArgsSchema), renderType(tool.ReturnsSchema), approvalTag(tool.Approval))
		if tool.Description != "" {
			fmt.Fprintf(&b, " — %s", tool.Description)
		}
		b.WriteByte('\n')
	})
	return b.String()
}

// approvalTag renders a tool's ApprovalMode as the catalog's bracketed tag.
func approvalTag(mode ApprovalMode) string {
	if mode == ApprovalRequired {
		return "approval required"
	}
	return "auto"
}

// renderDeclarations produces fuller, ambient-statement-style declarations —
// one function signature per line with no descriptions — suitable for
// embedding directly above generated code as a type-hint header.
func renderDeclarations(tree *ToolTree) string {
	var b strings.Builder
	tree.Walk(func(path string, tool *Tool) {
		fmt.Fprintf(&b, "declare function %s(%s): %s;\n", dotPathToCall(path), renderParams(tool.ArgsSchema), renderType(tool.ReturnsSchema))
	})
	return b.String()
}

// dotPathToCall turns "file.read" into "tools.file.read" — the form code
// inside the sandbox actually calls.
func dotPathToCall(path string) string {
	return "tools." + path
}

// renderSignaturesMarkdown renders the same catalog as a Markdown document
// (one bullet per tool) and converts it to HTML via goldmark, for clients
// that display the catalog rather than feed it to a model.
func renderSignaturesMarkdown(tree *ToolTree) (string, error) {
	var md strings.Builder
	md.WriteString("# Available Tools\n\n")
	tree.Walk(func(path string, tool *Tool) {
		fmt.Fprintf(&md, "- `%s(%s): %s`", path, renderParams(tool.ArgsSchema), renderType(tool.ReturnsSchema))
		if tool.Description != "" {
			fmt.Fprintf(&md, " — %s", tool.Description)
		}
		md.WriteString("\n")
	})
	var out strings.Builder
	if err := goldmark.Convert([]byte(md.String()), &out); err != nil {
		return "", fmt.Errorf("render tool catalog: %w", err)
	}
	return out.String(), nil
}

// renderParams renders a JSON-Schema object's "properties" as a parameter
// list: "name: type, name2?: type2". Schemas outside this shape (no object,
// no properties) render as a single "input: unknown" parameter.
func renderParams(schema json.RawMessage) string {
	props, required, ok := objectProperties(schema)
	if !ok || len(props) == 0 {
		return "input: unknown"
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		optional := ""
		if !req[name] {
			optional = "?"
		}
		parts = append(parts, fmt.Sprintf("%s%s: %s", name, optional, renderType(props[name])))
	}
	return strings.Join(parts, ", ")
}

// renderType renders a single JSON Schema node as a TypeScript-like type
// expression. It never errors: anything it doesn't recognize becomes
// "unknown".
func renderType(schema json.RawMessage) string {
	if len(schema) == 0 {
		return "unknown"
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(schema, &node); err != nil {
		return "unknown"
	}

	if enumRaw, ok := node["enum"]; ok {
		var values []json.RawMessage
		if err := json.Unmarshal(enumRaw, &values); err == nil && len(values) > 0 {
			lits := make([]string, len(values))
			for i, v := range values {
				lits[i] = string(v)
			}
			return strings.Join(lits, " | ")
		}
	}

	typeRaw, ok := node["type"]
	if !ok {
		return "unknown"
	}
	var typeName string
	if err := json.Unmarshal(typeRaw, &typeName); err != nil {
		return "unknown"
	}

	switch typeName {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "null":
		return "null"
	case "array":
		if items, ok := node["items"]; ok {
			return renderType(items) + "[]"
		}
		return "unknown[]"
	case "object":
		props, required, ok := objectProperties(schema)
		if !ok || len(props) == 0 {
			return "object"
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		req := make(map[string]bool, len(required))
		for _, r := range required {
			req[r] = true
		}
		fields := make([]string, 0, len(names))
		for _, name := range names {
			optional := ""
			if !req[name] {
				optional = "?"
			}
			fields = append(fields, fmt.Sprintf("%s%s: %s", name, optional, renderType(props[name])))
		}
		return "{ " + strings.Join(fields, "; ") + " }"
	default:
		return "unknown"
	}
}

// objectProperties extracts a JSON Schema object's properties and required
// list. ok is false when schema isn't an object schema with properties.
func objectProperties(schema json.RawMessage) (map[string]json.RawMessage, []string, bool) {
	if len(schema) == 0 {
		return nil, nil, false
	}
	var node struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(schema, &node); err != nil {
		return nil, nil, false
	}
	if node.Properties == nil {
		return nil, nil, false
	}
	return node.Properties, node.Required, true
}
