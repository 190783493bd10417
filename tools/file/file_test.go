package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func invoke(t *testing.T, dir, name string, args map[string]string) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	result, err := Tree(dir).Invoke(context.Background(), name, raw)
	if err != nil {
		return "", err
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		t.Fatal(err)
	}
	return out.Content, nil
}

func TestFileWrite(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "write", map[string]string{"path": "test.txt", "content": "hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "test.txt"))
	if string(data) != "hello" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestFileRead(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("content here"), 0644)
	content, err := invoke(t, dir, "read", map[string]string{"path": "test.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "content here" {
		t.Errorf("wrong content: %q", content)
	}
}

func TestFileWriteSubdir(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "write", map[string]string{"path": "sub/dir/file.txt", "content": "nested"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "sub/dir/file.txt"))
	if string(data) != "nested" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestFilePathTraversal(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "read", map[string]string{"path": "../etc/passwd"}); err == nil {
		t.Error("expected path traversal error")
	}
}

func TestFileAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "read", map[string]string{"path": "/etc/passwd"}); err == nil {
		t.Error("expected absolute path error")
	}
}

func TestFileReadTruncation(t *testing.T) {
	dir := t.TempDir()
	bigContent := make([]byte, 10000)
	for i := range bigContent {
		bigContent[i] = 'A'
	}
	os.WriteFile(filepath.Join(dir, "big.txt"), bigContent, 0644)
	content, err := invoke(t, dir, "read", map[string]string{"path": "big.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if len(content) > 8100 { // 8000 + truncation message
		t.Errorf("content not truncated: %d chars", len(content))
	}
}

func TestFileReadNonexistent(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "read", map[string]string{"path": "does_not_exist.txt"}); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFileWriteOverwrite(t *testing.T) {
	dir := t.TempDir()
	invoke(t, dir, "write", map[string]string{"path": "ow.txt", "content": "first"})
	if _, err := invoke(t, dir, "write", map[string]string{"path": "ow.txt", "content": "second"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "ow.txt"))
	if string(data) != "second" {
		t.Errorf("expected 'second', got %q", string(data))
	}
}

func TestFileWriteEmptyContent(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "write", map[string]string{"path": "empty.txt", "content": ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "empty.txt"))
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected 0 bytes, got %d", info.Size())
	}
}

func TestFileList(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644)
	os.Mkdir(filepath.Join(dir, "subdir"), 0755)

	content, err := invoke(t, dir, "list", map[string]string{"path": "."})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "file\ta.txt") {
		t.Errorf("expected a.txt in listing, got: %s", content)
	}
	if !strings.Contains(content, "dir\tsubdir") {
		t.Errorf("expected subdir in listing, got: %s", content)
	}
}

func TestFileListEmpty(t *testing.T) {
	dir := t.TempDir()
	content, err := invoke(t, dir, "list", map[string]string{"path": "."})
	if err != nil {
		t.Fatal(err)
	}
	if content != "" {
		t.Errorf("expected empty listing, got: %q", content)
	}
}

func TestFileListNonexistent(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "list", map[string]string{"path": "nope"}); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestFileListDefaultPath(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "root.txt"), []byte("r"), 0644)
	content, err := invoke(t, dir, "list", map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "root.txt") {
		t.Errorf("expected root.txt in listing, got: %s", content)
	}
}

func TestFileDelete(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "del.txt"), []byte("bye"), 0644)
	if _, err := invoke(t, dir, "delete", map[string]string{"path": "del.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "del.txt")); !os.IsNotExist(err) {
		t.Error("file should have been deleted")
	}
}

func TestFileDeleteEmptyDir(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "empty"), 0755)
	if _, err := invoke(t, dir, "delete", map[string]string{"path": "empty"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileDeleteNonexistent(t *testing.T) {
	dir := t.TempDir()
	if _, err := invoke(t, dir, "delete", map[string]string{"path": "ghost.txt"}); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestFileDeleteNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "notempty"), 0755)
	os.WriteFile(filepath.Join(dir, "notempty", "child.txt"), []byte("x"), 0644)
	if _, err := invoke(t, dir, "delete", map[string]string{"path": "notempty"}); err == nil {
		t.Error("expected error for non-empty directory")
	}
}

func TestFileStat(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "info.txt"), []byte("hello"), 0644)
	args, _ := json.Marshal(map[string]string{"path": "info.txt"})
	result, err := Tree(dir).Invoke(context.Background(), "stat", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stat map[string]any
	if err := json.Unmarshal(result, &stat); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stat["name"] != "info.txt" {
		t.Errorf("expected name info.txt, got %v", stat["name"])
	}
	if stat["type"] != "file" {
		t.Errorf("expected type file, got %v", stat["type"])
	}
	if stat["size"] != float64(5) {
		t.Errorf("expected size 5, got %v", stat["size"])
	}
}

func TestFileStatDir(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "mydir"), 0755)
	args, _ := json.Marshal(map[string]string{"path": "mydir"})
	result, err := Tree(dir).Invoke(context.Background(), "stat", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var stat map[string]any
	if err := json.Unmarshal(result, &stat); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if stat["type"] != "directory" {
		t.Errorf("expected type directory, got %v", stat["type"])
	}
}

func TestFileStatNonexistent(t *testing.T) {
	dir := t.TempDir()
	args, _ := json.Marshal(map[string]string{"path": "nope.txt"})
	if _, err := Tree(dir).Invoke(context.Background(), "stat", args); err == nil {
		t.Error("expected error for nonexistent path")
	}
}

func TestFileTreeNames(t *testing.T) {
	dir := t.TempDir()
	names := Tree(dir).Names()
	want := map[string]bool{"read": true, "write": true, "list": true, "delete": true, "stat": true}
	if len(names) != len(want) {
		t.Fatalf("expected %d tools, got %d: %v", len(want), len(names), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected tool name: %s", n)
		}
	}
}

func TestFileDeleteRequiresApproval(t *testing.T) {
	dir := t.TempDir()
	node, ok := Tree(dir).Get("delete")
	if !ok || !node.IsLeaf() {
		t.Fatal("expected delete leaf tool")
	}
	if node.Tool.Approval != "required" {
		t.Errorf("expected delete to require approval, got %v", node.Tool.Approval)
	}
}
