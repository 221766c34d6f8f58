package main

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
)

// extExtractor dispatches on file extension: HTML is stripped to its text
// nodes via golang.org/x/net/html, markdown/plaintext pass through as-is.
// PDF and DOCX extraction are out of scope for this build (no parser
// appears anywhere in the retrieval pack) — unknown extensions fall back
// to reading the file as raw text rather than failing the task outright.
type extExtractor struct{}

func (extExtractor) Extract(path, fileName string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".html", ".htm":
		return extractHTMLText(raw)
	default:
		return string(raw), nil
	}
}

func extractHTMLText(raw []byte) (string, error) {
	doc, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}
