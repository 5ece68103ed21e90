package panels

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

func parseHTML(body []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(body))
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// find returns the first element node, depth first, matching fn.
func find(n *html.Node, fn func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && fn(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m := find(c, fn); m != nil {
			return m
		}
	}
	return nil
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func inputNamed(doc *html.Node, name string) *html.Node {
	return find(doc, func(n *html.Node) bool {
		v, _ := attr(n, "name")
		return n.Data == "input" && v == name
	})
}

// csrfToken looks for a hidden input named field, then a csrf-token meta tag.
func csrfToken(doc *html.Node, field string) string {
	if in := inputNamed(doc, field); in != nil {
		if v, _ := attr(in, "value"); v != "" {
			return v
		}
	}
	meta := find(doc, func(n *html.Node) bool {
		v, _ := attr(n, "name")
		return n.Data == "meta" && (v == "csrf-token" || v == "_csrf")
	})
	if meta != nil {
		v, _ := attr(meta, "content")
		return v
	}
	return ""
}
