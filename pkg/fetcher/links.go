package fetcher

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an interactive element found in static HTML.
type Link struct {
	Text    string
	Href    string // absolute
	Visible bool
	Path    string // CSS-ish path, unique within the document
}

// interactiveSelector matches the elements a user could click to start a
// download.
const interactiveSelector = `a, button, .btn, [role=button], input[type=submit], input[type=button], [onclick]`

// ExtractLinks parses a landing page and returns its interactive elements in
// document order. Relative hrefs are resolved against baseURL.
func ExtractLinks(html, baseURL string) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	base, _ := url.Parse(baseURL)

	doc.Find("script, style, noscript, template").Remove()

	var links []Link
	doc.Find(interactiveSelector).Each(func(i int, s *goquery.Selection) {
		text := cleanText(s.Text())
		if text == "" {
			text = cleanText(coalesce(s.AttrOr("value", ""), s.AttrOr("aria-label", ""), s.AttrOr("title", "")))
		}
		href := resolve(base, s.AttrOr("href", ""))
		if href == "" {
			href = resolve(base, s.AttrOr("data-href", ""))
		}
		if text == "" && href == "" {
			return
		}
		links = append(links, Link{
			Text:    text,
			Href:    href,
			Visible: !hidden(s),
			Path:    fmt.Sprintf("%s:nth-match(%d)", goquery.NodeName(s), i+1),
		})
	})
	return links, nil
}

// hidden reports whether the element or an ancestor is hidden by markup.
// Stylesheets are not evaluated.
func hidden(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		if strings.EqualFold(n.AttrOr("aria-hidden", ""), "true") {
			return true
		}
		if strings.EqualFold(n.AttrOr("type", ""), "hidden") {
			return true
		}
		style := strings.ToLower(strings.ReplaceAll(n.AttrOr("style", ""), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !u.IsAbs() && base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// cleanText normalizes whitespace in text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
