package taskweave

import (
	"context"
	"encoding/json"
	"testing"
)

func echoTool(tag string) *Tool {
	return Define("echo "+tag, ApprovalAuto, nil, nil,
		func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			return input, nil
		})
}

func TestToolTreeDefineAndGet(t *testing.T) {
	tree := NewToolTree()
	tool := echoTool("a")
	tree.Define("a", tool)

	node, ok := tree.Get("a")
	if !ok {
		t.Fatal("expected node to exist")
	}
	if !node.IsLeaf() {
		t.Error("expected a leaf node")
	}
	if node.Tool != tool {
		t.Error("expected the same tool pointer back")
	}
}

func TestToolTreeDefineOverwritesLastWriterWins(t *testing.T) {
	tree := NewToolTree()
	first := echoTool("first")
	second := echoTool("second")
	tree.Define("a", first)
	tree.Define("a", second)

	node, _ := tree.Get("a")
	if node.Tool != second {
		t.Error("expected second definition to win")
	}
	if len(tree.Names()) != 1 {
		t.Errorf("expected exactly one name after overwrite, got %v", tree.Names())
	}
}

func TestToolTreeNamesInsertionOrder(t *testing.T) {
	tree := NewToolTree()
	tree.Define("c", echoTool("c"))
	tree.Define("a", echoTool("a"))
	tree.Define("b", echoTool("b"))

	names := tree.Names()
	want := []string{"c", "a", "b"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected %v, got %v", want, names)
			break
		}
	}
}

func TestToolTreeMountSubtree(t *testing.T) {
	root := NewToolTree()
	sub := NewToolTree()
	sub.Define("close", echoTool("close"))
	root.Mount("issues", sub)

	node, ok := root.Get("issues")
	if !ok || node.IsLeaf() {
		t.Fatal("expected a subtree node")
	}

	tool, err := root.Lookup("issues.close")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool == nil {
		t.Error("expected to find the nested tool")
	}
}

func TestToolTreeWalkVisitsEachToolOnceInOrder(t *testing.T) {
	root := NewToolTree()
	root.Define("a", echoTool("a"))
	sub := NewToolTree()
	sub.Define("x", echoTool("x"))
	sub.Define("y", echoTool("y"))
	root.Mount("b", sub)
	root.Define("c", echoTool("c"))

	var paths []string
	root.Walk(func(path string, tool *Tool) {
		paths = append(paths, path)
	})

	want := []string{"a", "b.x", "b.y", "c"}
	if len(paths) != len(want) {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("expected %v, got %v", want, paths)
			break
		}
	}
}

func TestToolTreeLookupUnknownPath(t *testing.T) {
	tree := NewToolTree()
	tree.Define("a", echoTool("a"))

	if _, err := tree.Lookup("nonexistent"); err == nil {
		t.Error("expected an error for an unknown tool path")
	}
	if _, err := tree.Lookup("a.deeper"); err == nil {
		t.Error("expected an error when descending past a leaf")
	}
}

func TestToolTreeLookupBranchNotTool(t *testing.T) {
	root := NewToolTree()
	root.Mount("issues", NewToolTree())

	if _, err := root.Lookup("issues"); err == nil {
		t.Error("expected an error when the path names a branch, not a tool")
	}
}

func TestToolTreeInvokeDispatchesToRun(t *testing.T) {
	tree := NewToolTree()
	tree.Define("echo", echoTool("a"))

	input := json.RawMessage(`{"message":"hi"}`)
	out, err := tree.Invoke(context.Background(), "echo", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(input) {
		t.Errorf("expected echoed input, got %s", out)
	}
}

func TestToolTreeInvokeUnknownPath(t *testing.T) {
	tree := NewToolTree()
	if _, err := tree.Invoke(context.Background(), "missing", nil); err == nil {
		t.Error("expected an error invoking an unknown path")
	}
}

func TestMergeDisjointTreesCombine(t *testing.T) {
	left := NewToolTree()
	left.Define("a", echoTool("a"))
	right := NewToolTree()
	right.Define("b", echoTool("b"))

	merged := Merge(left, right)
	names := merged.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}

func TestMergeConflictLastWriterWins(t *testing.T) {
	first := echoTool("first")
	second := echoTool("second")
	left := NewToolTree()
	left.Define("a", first)
	right := NewToolTree()
	right.Define("a", second)

	merged := Merge(left, right)
	node, _ := merged.Get("a")
	if node.Tool != second {
		t.Error("expected the later tree's leaf to win the conflict")
	}
}

func TestMergeRecursesIntoMatchingSubtrees(t *testing.T) {
	leftSub := NewToolTree()
	leftSub.Define("x", echoTool("x"))
	left := NewToolTree()
	left.Mount("ns", leftSub)

	rightSub := NewToolTree()
	rightSub.Define("y", echoTool("y"))
	right := NewToolTree()
	right.Mount("ns", rightSub)

	merged := Merge(left, right)
	if _, err := merged.Lookup("ns.x"); err != nil {
		t.Errorf("expected ns.x to survive the merge: %v", err)
	}
	if _, err := merged.Lookup("ns.y"); err != nil {
		t.Errorf("expected ns.y to survive the merge: %v", err)
	}
}

func TestMergeIgnoresNilTrees(t *testing.T) {
	left := NewToolTree()
	left.Define("a", echoTool("a"))

	merged := Merge(left, nil)
	if len(merged.Names()) != 1 {
		t.Errorf("expected nil trees to be skipped, got %v", merged.Names())
	}
}

func TestDefineIsTotalEvenWithNilSchemas(t *testing.T) {
	tool := Define("no schemas", ApprovalAuto, nil, nil, nil)
	if tool == nil {
		t.Fatal("expected Define to always return a tool")
	}
	if tool.ArgsSchema != nil || tool.ReturnsSchema != nil {
		t.Error("expected nil schemas to be carried through unchanged")
	}
}

func TestToolFormattedAttachesFormatter(t *testing.T) {
	tool := echoTool("a")
	formatter := func(input json.RawMessage) ApprovalPreview {
		return ApprovalPreview{Title: "test"}
	}
	tool.Formatted(formatter)
	if tool.FormatApproval == nil {
		t.Fatal("expected FormatApproval to be set")
	}
	preview := tool.FormatApproval(nil)
	if preview.Title != "test" {
		t.Errorf("expected formatter to be callable, got %v", preview)
	}
}
