package ci

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxSummaryLen  = 200
	maxBodyTextLen = 100
)

var (
	htmlMarkers     = []string{"<html", "</html>", "<body", "<head", "<title>", "<!doctype", "<meta", "<table", "<tr>", "<td>", "<h1", "<h2", "<h3"}
	httpErrorRegexp = regexp.MustCompile(`(?i)HTTP ERROR (\d+)`)
)

// SummarizeBody condenses an upstream error body into a single short line.
// HTML pages are reduced to their title, first heading, or stripped body text.
func SummarizeBody(body string) string {
	summary := strings.TrimSpace(body)

	if looksLikeHTML(summary) {
		summary = summarizeHTML(summary)
	}

	if m := httpErrorRegexp.FindStringSubmatch(summary); m != nil {
		summary = "HTTP Error " + m[1] + " received"
	}

	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen] + "... (truncated)"
	}
	return summary
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range htmlMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func summarizeHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return "HTML Error received (content hidden)"
	}

	if title := collapse(textOf(find(doc, atom.Title))); title != "" {
		return "HTML Error: " + title
	}
	for _, a := range []atom.Atom{atom.H1, atom.H2, atom.H3} {
		if heading := collapse(textOf(find(doc, a))); heading != "" {
			return "HTML Error: " + heading
		}
	}

	if body := collapse(textOf(find(doc, atom.Body))); body != "" {
		if len(body) > maxBodyTextLen {
			body = body[:maxBodyTextLen] + "..."
		}
		return "HTML Error: " + body
	}
	return "HTML Error received (content hidden)"
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
