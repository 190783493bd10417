// Package docs provides a readPDF tool that extracts plain text from a PDF
// file already present in the workspace, for mounting into a ToolTree.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	taskweave "github.com/taskweave/taskweave"
)

const maxPDFSize = 32 << 20 // 32MB

var argsSchema = json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"workspace-relative path to a .pdf file"}},"required":["path"]}`)
var returnsSchema = json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`)

// Tree builds a tool tree exposing a single "readPDF" tool: extract plain
// text from a PDF file under workspace via ledongthuc/pdf.
func Tree(workspace string) *taskweave.ToolTree {
	e := &extractor{workspace: workspace}
	tree := taskweave.NewToolTree()
	tree.Define("readPDF", taskweave.Define(
		"Extract plain text from a PDF file in the workspace.",
		taskweave.ApprovalAuto,
		argsSchema, returnsSchema,
		e.run,
	))
	return tree
}

type extractor struct {
	workspace string
}

func (e *extractor) run(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}

	full := filepath.Join(e.workspace, filepath.Clean("/"+params.Path))
	if !strings.HasPrefix(full, filepath.Clean(e.workspace)+string(filepath.Separator)) {
		return nil, fmt.Errorf("path escapes workspace: %s", params.Path)
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}
	if info.Size() > maxPDFSize {
		return nil, fmt.Errorf("pdf too large: %d bytes", info.Size())
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}

	return json.Marshal(map[string]string{"content": strings.TrimSpace(string(text))})
}
