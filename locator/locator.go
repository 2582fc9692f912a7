// Package locator converts DOM nodes into portable CSS paths and resolves
// those paths back to nodes. A path identifies a node within one document
// instance only: once the document navigates or mutates, resolution may miss,
// and a miss is reported as "not found" rather than as an error.
//
// The same algorithm runs inside every surface (see the bridge script), so a
// path produced in one viewport geometry resolves in another as long as both
// loaded the same document.
package locator

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Separator joins path segments root-to-node.
const Separator = " > "

// Path returns the CSS path of n: one segment per element ancestor, each
// disambiguated among same-tag siblings with :nth-of-type. Non-element nodes
// map to their closest element ancestor. Returns "" when no element is found.
func Path(n *html.Node) string {
	for n != nil && n.Type != html.ElementNode {
		n = n.Parent
	}
	if n == nil {
		return ""
	}

	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		segments = append(segments, segment(cur))
	}

	// Reverse to root-to-node order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, Separator)
}

// segment renders one path step for an element.
func segment(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	if n.Parent == nil {
		return tag
	}

	idx, total := 0, 0
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib.Type != html.ElementNode || strings.ToLower(sib.Data) != tag {
			continue
		}
		total++
		if sib == n {
			idx = total
		}
	}

	if total > 1 {
		return fmt.Sprintf("%s:nth-of-type(%d)", tag, idx)
	}
	return tag
}

// Resolve finds the node addressed by path inside doc. The boolean is false
// when the path is empty, does not parse, or matches nothing.
func Resolve(doc *html.Node, path string) (*html.Node, bool) {
	if doc == nil || strings.TrimSpace(path) == "" {
		return nil, false
	}
	sel := goquery.NewDocumentFromNode(doc).Find(path)
	if sel.Length() == 0 {
		return nil, false
	}
	return sel.Nodes[0], true
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("locator: parse: %w", err)
	}
	return doc, nil
}

// ResolveHTML parses raw HTML and resolves path in it.
func ResolveHTML(r io.Reader, path string) (*html.Node, bool, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, false, err
	}
	n, ok := Resolve(doc, path)
	return n, ok, nil
}

// Walk calls fn for every element of doc in document order.
func Walk(doc *html.Node, fn func(*html.Node)) {
	if doc == nil {
		return
	}
	if doc.Type == html.ElementNode {
		fn(doc)
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}
