// Package file provides a file.* tool tree scoped to a single workspace
// directory: read, write, list, stat are auto-approved; delete requires
// approval, since it is the one irreversible operation in the set.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	taskweave "github.com/taskweave/taskweave"
)

const maxContentLen = 8000

// Tree builds the file.* tool tree, with every path resolved relative to
// and confined within workspacePath.
func Tree(workspacePath string) *taskweave.ToolTree {
	w := &workspace{root: workspacePath}
	tree := taskweave.NewToolTree()

	tree.Define("read", taskweave.Define(
		"Read a file from the workspace. Returns the file content (truncated to 8000 chars if large).",
		taskweave.ApprovalAuto,
		pathSchema("File path relative to workspace"),
		json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}}}`),
		w.read,
	))

	tree.Define("write", taskweave.Define(
		"Write content to a file in the workspace. Creates parent directories if needed.",
		taskweave.ApprovalAuto,
		json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
		json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}}}`),
		w.write,
	))

	tree.Define("list", taskweave.Define(
		"List files and directories in a workspace directory. Returns one entry per line with a type prefix (file/dir) and name.",
		taskweave.ApprovalAuto,
		pathSchema("Directory path relative to workspace (empty or '.' for root)"),
		json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}}}`),
		w.list,
	))

	tree.Define("stat", taskweave.Define(
		"Get metadata for a file or directory in the workspace: name, size, type, modification time.",
		taskweave.ApprovalAuto,
		pathSchema("File or directory path relative to workspace"),
		json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"},"size":{"type":"number"},"type":{"type":"string"},"modified":{"type":"string"}}}`),
		w.stat,
	))

	tree.Define("delete", taskweave.Define(
		"Delete a file or empty directory from the workspace. Irreversible.",
		taskweave.ApprovalRequired,
		pathSchema("File or directory path relative to workspace"),
		json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}}}`),
		w.remove,
	).Formatted(formatDelete))

	return tree
}

func pathSchema(description string) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": description},
		},
		"required": []string{"path"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func formatDelete(input json.RawMessage) taskweave.ApprovalPreview {
	var params struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(input, &params)
	return taskweave.ApprovalPreview{
		Title:   fmt.Sprintf("delete %s", params.Path),
		Details: "This permanently removes the file or empty directory from the workspace.",
	}
}

// workspace confines every path operation to root: absolute paths and ".."
// segments are rejected before touching the filesystem.
type workspace struct {
	root string
}

func (w *workspace) resolve(input json.RawMessage) (string, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}
	path := params.Path
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(w.root, path)
	if !strings.HasPrefix(resolved, w.root) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}

func content(s string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"content": s})
}

func (w *workspace) read(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	path, err := w.resolve(input)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	c := string(data)
	if len(c) > maxContentLen {
		c = c[:maxContentLen] + "\n... (truncated)"
	}
	return content(c)
}

func (w *workspace) write(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}
	path, err := w.resolve(input)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir error: %w", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write error: %w", err)
	}
	return content(fmt.Sprintf("written %d bytes to %s", len(params.Content), filepath.Base(path)))
}

func (w *workspace) list(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	path, err := w.resolve(input)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list error: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "file"
		if e.IsDir() {
			kind = "dir"
		}
		fmt.Fprintf(&b, "%s\t%s\n", kind, e.Name())
	}
	return content(b.String())
}

func (w *workspace) remove(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	path, err := w.resolve(input)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete error: %w", err)
	}
	return content(fmt.Sprintf("deleted %s", filepath.Base(path)))
}

func (w *workspace) stat(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	path, err := w.resolve(input)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat error: %w", err)
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return json.Marshal(map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"type":     kind,
		"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
	})
}
