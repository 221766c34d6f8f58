package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// httpCrawler does a same-origin breadth-first crawl, yielding each page's
// extracted text to the caller so runCrawl can check the cooperative
// crawl-stop sentinel between pages rather than after the whole walk
// finishes (§4.6).
type httpCrawler struct {
	Client *http.Client
}

func newHTTPCrawler() *httpCrawler {
	return &httpCrawler{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (c *httpCrawler) Crawl(ctx context.Context, origin string, maxPages int, yield func(url, markdown string) error) error {
	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}

	visited := map[string]bool{}
	queue := []string{origin}

	for len(queue) > 0 && len(visited) < maxPages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true

		text, links, err := c.fetch(ctx, next)
		if err != nil {
			continue
		}
		if err := yield(next, text); err != nil {
			return err
		}

		for _, l := range links {
			resolved, err := resolveSameOrigin(originURL, l)
			if err != nil || resolved == "" || visited[resolved] {
				continue
			}
			queue = append(queue, resolved)
		}
	}
	return nil
}

func (c *httpCrawler) fetch(ctx context.Context, pageURL string) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("crawler: %s returned status %d", pageURL, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					links = append(links, attr.Val)
				}
			}
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
	return sb.String(), links, nil
}

func resolveSameOrigin(origin *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	resolved := origin.ResolveReference(ref)
	if resolved.Host != origin.Host {
		return "", nil
	}
	resolved.Fragment = ""
	return resolved.String(), nil
}
