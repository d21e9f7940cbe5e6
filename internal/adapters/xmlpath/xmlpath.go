// Package xmlpath looks up elements of an xmlquery tree by local name. The
// upstream feeds prefix the same elements differently (siri:, ojp:, d2: or
// none at all), so every lookup ignores namespaces.
package xmlpath

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// compiled expressions keyed by axis and path
var exprs sync.Map

// Parse reads a whole document and returns its root element.
func Parse(r io.Reader) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xml: %w", err)
	}
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n, nil
		}
	}
	return nil, errors.New("failed to parse xml: no root element")
}

// compile turns "A/B" into a local-name() expression. The first step is
// searched on axis, later steps are direct children. Paths are literals in
// the adapters, so a bad one panics.
func compile(axis, path string) *xpath.Expr {
	key := axis + path
	if e, ok := exprs.Load(key); ok {
		return e.(*xpath.Expr)
	}
	var b strings.Builder
	b.WriteString(axis)
	for i, step := range strings.Split(path, "/") {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "*[local-name()='%s']", step)
	}
	e := xpath.MustCompile(b.String())
	exprs.Store(key, e)
	return e
}

// FindAll returns every descendant of n matching path, in document order.
func FindAll(n *xmlquery.Node, path string) []*xmlquery.Node {
	if n == nil {
		return nil
	}
	return xmlquery.QuerySelectorAll(n, compile(".//", path))
}

// Find returns the first descendant of n matching path.
func Find(n *xmlquery.Node, path string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return xmlquery.QuerySelector(n, compile(".//", path))
}

// Child returns the first direct child of n named name.
func Child(n *xmlquery.Node, name string) *xmlquery.Node {
	if n == nil {
		return nil
	}
	return xmlquery.QuerySelector(n, compile("./", name))
}

// Text is the trimmed text content of n.
func Text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func FindText(n *xmlquery.Node, path string) string {
	return Text(Find(n, path))
}

// FirstText returns the first non-empty text among paths.
func FirstText(n *xmlquery.Node, paths ...string) string {
	for _, p := range paths {
		if s := FindText(n, p); s != "" {
			return s
		}
	}
	return ""
}

// FindFloat parses the text at path; ok is false when it is missing or
// not a number.
func FindFloat(n *xmlquery.Node, path string) (float64, bool) {
	s := FindText(n, path)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Attr returns the attribute with the given local name.
func Attr(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
