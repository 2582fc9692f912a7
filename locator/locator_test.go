package locator

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const page = `<!doctype html>
<html><head><title>t</title></head>
<body>
  <nav><a href="/">home</a><a href="/docs">docs</a></nav>
  <main>
    <section><p>one</p><p>two <b>bold</b></p></section>
    <section id="second"><ul><li>a</li><li>b</li><li>c</li></ul></section>
  </main>
  <div></div>
</body></html>`

func mustParse(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func find(doc *html.Node, tag, text string) *html.Node {
	var hit *html.Node
	Walk(doc, func(n *html.Node) {
		if hit != nil || n.Data != tag {
			return
		}
		if text == "" || (n.FirstChild != nil && strings.HasPrefix(n.FirstChild.Data, text)) {
			hit = n
		}
	})
	return hit
}

func TestPath_SiblingDisambiguation(t *testing.T) {
	doc := mustParse(t, page)

	got := Path(find(doc, "li", "b"))
	want := "html > body > main > section:nth-of-type(2) > ul > li:nth-of-type(2)"
	if got != want {
		t.Errorf("Path: got %q, want %q", got, want)
	}

	got = Path(find(doc, "div", ""))
	want = "html > body > div"
	if got != want {
		t.Errorf("Path: got %q, want %q", got, want)
	}
}

func TestPath_Deterministic(t *testing.T) {
	doc := mustParse(t, page)
	n := find(doc, "a", "docs")
	if Path(n) != Path(n) {
		t.Fatal("Path not deterministic")
	}
}

func TestPath_TextNodeUsesElement(t *testing.T) {
	doc := mustParse(t, page)
	b := find(doc, "b", "")
	if got, want := Path(b.FirstChild), Path(b); got != want {
		t.Errorf("text node path: got %q, want %q", got, want)
	}
}

func TestPath_Document(t *testing.T) {
	doc := mustParse(t, page)
	if got := Path(doc); got != "" {
		t.Errorf("Path(document): got %q, want empty", got)
	}
	if got := Path(nil); got != "" {
		t.Errorf("Path(nil): got %q, want empty", got)
	}
}

func TestRoundTrip_AllElements(t *testing.T) {
	doc := mustParse(t, page)
	count := 0
	Walk(doc, func(n *html.Node) {
		count++
		p := Path(n)
		got, ok := Resolve(doc, p)
		if !ok {
			t.Errorf("Resolve(%q): not found", p)
			return
		}
		if got != n {
			t.Errorf("Resolve(%q): resolved to <%s>, want the original <%s>", p, got.Data, n.Data)
		}
	})
	if count == 0 {
		t.Fatal("no elements walked")
	}
}

func TestResolve_MissAfterMutation(t *testing.T) {
	doc := mustParse(t, page)
	li := find(doc, "li", "c")
	p := Path(li)

	li.Parent.RemoveChild(li)

	if _, ok := Resolve(doc, p); ok {
		t.Errorf("Resolve(%q): found a node after removal", p)
	}
}

func TestResolve_AcrossDocumentInstances(t *testing.T) {
	// Same markup loaded in two surfaces: the path from one resolves in the other.
	a := mustParse(t, page)
	b := mustParse(t, page)

	p := Path(find(a, "a", "docs"))
	n, ok := Resolve(b, p)
	if !ok {
		t.Fatalf("Resolve(%q) in second document: not found", p)
	}
	if n.FirstChild == nil || n.FirstChild.Data != "docs" {
		t.Errorf("resolved wrong node in second document")
	}
}

func TestResolve_InvalidAndEmpty(t *testing.T) {
	doc := mustParse(t, page)
	for _, p := range []string{"", "   ", "html > > body", "div:nth-of-type("} {
		if _, ok := Resolve(doc, p); ok {
			t.Errorf("Resolve(%q): expected miss", p)
		}
	}
}

func TestResolveHTML(t *testing.T) {
	n, ok, err := ResolveHTML(strings.NewReader(page), "html > body > nav > a:nth-of-type(1)")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || n.FirstChild.Data != "home" {
		t.Errorf("ResolveHTML: got ok=%v node=%v", ok, n)
	}
}
