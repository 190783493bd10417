// Package http provides a web.extract tool that fetches a URL and returns
// its readable text content, for mounting into a ToolTree.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	taskweave "github.com/taskweave/taskweave"
)

const maxContentLen = 8000

var argsSchema = json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`)
var returnsSchema = json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`)

// Tree builds a tool tree exposing a single "extract" tool: fetch a URL and
// extract its readable text content via go-readability, falling back to a
// stripped-tag rendering when extraction finds no article body.
func Tree() *taskweave.ToolTree {
	f := &fetcher{client: &http.Client{Timeout: 15 * time.Second}}
	tree := taskweave.NewToolTree()
	tree.Define("extract", taskweave.Define(
		"Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
		taskweave.ApprovalAuto,
		argsSchema, returnsSchema,
		f.run,
	))
	return tree
}

type fetcher struct {
	client *http.Client
}

func (f *fetcher) run(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid args: %w", err)
	}

	content, err := f.fetch(ctx, params.URL)
	if err != nil {
		return nil, err
	}
	if len(content) > maxContentLen {
		content = content[:maxContentLen] + "\n... (truncated)"
	}
	return json.Marshal(map[string]string{"content": content})
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TaskweaveBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	return stripTags(html), nil
}

// stripTags is a minimal fallback for pages readability can't parse: drop
// script/style blocks and any remaining tags, collapse whitespace.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	skipUntil := ""
	lower := strings.ToLower(html)
	for i := 0; i < len(html); i++ {
		if skipUntil != "" {
			if strings.HasPrefix(lower[i:], skipUntil) {
				i += len(skipUntil) - 1
				skipUntil = ""
			}
			continue
		}
		switch html[i] {
		case '<':
			inTag = true
			if strings.HasPrefix(lower[i:], "<script") {
				skipUntil = "</script>"
			} else if strings.HasPrefix(lower[i:], "<style") {
				skipUntil = "</style>"
			}
			continue
		case '>':
			inTag = false
			continue
		}
		if !inTag {
			b.WriteByte(html[i])
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
