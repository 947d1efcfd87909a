// Package scrape fetches and extracts readable text from web pages with a
// bounded worker pool. Plain HTTP extraction is the default; script-heavy
// pages can fall back to a headless browser render.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"webscout/internal/logging"
)

// Source is a successfully scraped page.
type Source struct {
	URL       string
	Title     string
	Content   string
	WordCount int
	Elapsed   time.Duration
}

// skipTags never contribute readable text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
	"button":   true,
}

// Extractor fetches a URL and extracts its readable text.
type Extractor struct {
	client    *http.Client
	userAgent string
	renderer  *Renderer // optional headless fallback
	minWords  int       // below this, try the renderer
}

// NewExtractor creates an extractor. renderer may be nil to disable the
// headless fallback.
func NewExtractor(userAgent string, renderer *Renderer) *Extractor {
	return &Extractor{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		userAgent: userAgent,
		renderer:  renderer,
		minWords:  100,
	}
}

// Extract fetches the URL and returns a Source. Pages yielding fewer than
// 100 words fall back to a headless render when a renderer is configured.
func (e *Extractor) Extract(ctx context.Context, url string) (*Source, error) {
	start := time.Now()

	body, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	title, content := extractReadable(body)
	wordCount := len(strings.Fields(content))

	if wordCount < e.minWords && e.renderer != nil {
		logging.ScrapeDebug("Thin extraction (%d words) for %s, trying headless render", wordCount, url)
		if rendered, rerr := e.renderer.Render(ctx, url); rerr == nil {
			rTitle, rContent := extractReadable(rendered)
			rWords := len(strings.Fields(rContent))
			if rWords > wordCount {
				title, content, wordCount = rTitle, rContent, rWords
			}
		} else {
			logging.ScrapeWarn("Headless render failed for %s: %v", url, rerr)
		}
	}

	if wordCount == 0 {
		return nil, fmt.Errorf("no readable content at %s", url)
	}

	return &Source{
		URL:       url,
		Title:     title,
		Content:   content,
		WordCount: wordCount,
		Elapsed:   time.Since(start),
	}, nil
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, url)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return "", fmt.Errorf("unsupported content type %q at %s", ct, url)
	}

	// 4 MB cap keeps runaway pages from blowing memory.
	limited := io.LimitReader(resp.Body, 4<<20)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	return string(data), nil
}

// extractReadable parses HTML and returns the page title and readable
// body text. Prefers article/main containers over the whole body.
func extractReadable(rawHTML string) (title, content string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}

	title = findTitle(doc)

	// Prefer semantic containers when present.
	for _, tag := range []string{"article", "main"} {
		if node := findElement(doc, tag); node != nil {
			if text := collectText(node); len(strings.Fields(text)) >= 50 {
				return title, text
			}
		}
	}

	if body := findElement(doc, "body"); body != nil {
		return title, collectText(body)
	}
	return title, collectText(doc)
}

func findTitle(doc *html.Node) string {
	if node := findElement(doc, "title"); node != nil && node.FirstChild != nil {
		return strings.TrimSpace(node.FirstChild.Data)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// collectText walks the node tree gathering text, skipping boilerplate
// containers, and normalizes whitespace within paragraphs.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if skipTags[node.Data] {
				return
			}
			// Block elements separate paragraphs.
			switch node.Data {
			case "p", "div", "li", "h1", "h2", "h3", "h4", "br", "tr", "section":
				sb.WriteString("\n")
			}
		}
		if node.Type == html.TextNode {
			text := strings.TrimSpace(node.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	// Collapse runs of blank lines.
	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
