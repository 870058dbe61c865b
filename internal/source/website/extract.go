package website

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const strippedElements = "nav, footer, aside, header, script, style, noscript"

var strippedContainers = strings.Join([]string{
	"[class*='nav']",
	"[class*='menu']",
	"[class*='footer']",
	"[class*='sidebar']",
	"[class*='header']",
	"[class*='comment']",
	"[class*='social']",
	"[class*='share']",
	"[class*='widget']",
	"[id*='nav']",
	"[id*='menu']",
	"[id*='footer']",
	"[id*='sidebar']",
	"[id*='header']",
}, ", ")

var skippedPathParts = []string{
	"/tag/", "/tags/", "/category/", "/categories/", "/author/", "/page/",
	"/search", "/login", "/register", "/signup", "/about", "/contact",
	"/privacy", "/terms", "/feed", "/rss",
	".xml", ".pdf", ".jpg", ".png", ".gif",
}

var articlePathParts = []string{"/article/", "/post/", "/blog/", "/news/", "/story/", "/20"}

// ExtractLinks returns candidate article URLs from a listing page in
// document order. Navigation chrome is ignored, fragments are dropped, and
// external links are kept only when their path looks like an article.
func ExtractLinks(html []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	doc.Find(strippedElements).Remove()
	doc.Find(strippedContainers).Remove()

	var (
		links []string
		seen  = make(map[string]struct{})
	)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || hasAnyPrefix(href, "#", "javascript:", "mailto:", "tel:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}

		abs.Fragment = ""
		abs.RawFragment = ""
		normalized := abs.String()

		if _, ok := seen[normalized]; ok {
			return
		}
		seen[normalized] = struct{}{}

		path := strings.ToLower(abs.Path)
		if containsAny(path, skippedPathParts) {
			return
		}
		if len(strings.Trim(abs.Path, "/")) < 3 {
			return
		}

		if abs.Host == base.Host || containsAny(path, articlePathParts) {
			links = append(links, normalized)
		}
	})

	return links, nil
}

// page is what an article document yields.
type page struct {
	Title       string
	Content     string
	PublishedAt *time.Time
}

func extractPage(html []byte) (page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return page{}, err
	}

	var p page

	p.Title = firstNonEmpty(
		doc.Find("meta[property='og:title']").AttrOr("content", ""),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	)

	published := firstNonEmpty(
		doc.Find("meta[property='article:published_time']").AttrOr("content", ""),
		doc.Find("time[datetime]").First().AttrOr("datetime", ""),
	)
	if t, ok := parseTimestamp(published); ok {
		p.PublishedAt = &t
	}

	doc.Find("script, style, noscript").Remove()
	for _, scope := range []string{"article", "main", "body"} {
		if text := paragraphs(doc.Find(scope)); text != "" {
			p.Content = text
			break
		}
	}

	return p, nil
}

func paragraphs(sel *goquery.Selection) string {
	var parts []string
	sel.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
