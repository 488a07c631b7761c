// Package dom provides surface.Element over a parsed HTML tree.
//
// Remote producers describe the focused element as an HTML fragment; the
// bridge parses it here so exclusion rules and exclude selectors run against
// a real node with real ancestors.
package dom

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"hotkeys2/internal/surface"
)

// FocusAttr marks the focused element inside a fragment. Without it the
// first element of the fragment is focused.
const FocusAttr = "data-focused"

const focusSelector = "[" + FocusAttr + "]"

// ErrNoElement is returned when a fragment contains no element node.
var ErrNoElement = errors.New("dom: fragment has no element")

// Element wraps an *html.Node of type ElementNode.
type Element struct {
	node *html.Node
}

var _ surface.Element = (*Element)(nil)

// Wrap returns the Element for n, or nil when n is not an element.
func Wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &Element{node: n}
}

// Node returns the wrapped node.
func (e *Element) Node() *html.Node { return e.node }

// TagName returns the upper-case tag name, as Element.tagName does for HTML
// documents.
func (e *Element) TagName() string {
	return strings.ToUpper(e.node.Data)
}

// Attr returns the value of the named attribute. Names are case-insensitive.
func (e *Element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// IsContentEditable reports the inherited editability: the nearest ancestor
// (or the element itself) carrying contenteditable decides. "", "true" and
// "plaintext-only" are editable, "false" is not, anything else inherits.
func (e *Element) IsContentEditable() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		v, ok := Wrap(n).Attr("contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(v) {
		case "", "true", "plaintext-only":
			return true
		case "false":
			return false
		}
	}
	return false
}

// Matches reports whether the element matches selector. Compiled selectors
// are cached process-wide.
func (e *Element) Matches(selector string) (bool, error) {
	sel, err := compile(selector)
	if err != nil {
		return false, err
	}
	return sel.Match(e.node), nil
}

type compiled struct {
	sel cascadia.Selector
	err error
}

var (
	selectorCacheMu sync.RWMutex
	selectorCache   = map[string]compiled{}
)

// maxCachedSelectors bounds the cache; selectors come from configuration and
// are few, so a full cache is simply reset.
const maxCachedSelectors = 256

func compile(selector string) (cascadia.Selector, error) {
	selectorCacheMu.RLock()
	c, ok := selectorCache[selector]
	selectorCacheMu.RUnlock()
	if ok {
		return c.sel, c.err
	}

	sel, err := cascadia.Compile(selector)
	if err != nil {
		err = fmt.Errorf("dom: compile selector %q: %w", selector, err)
	}

	selectorCacheMu.Lock()
	if len(selectorCache) >= maxCachedSelectors {
		clear(selectorCache)
	}
	selectorCache[selector] = compiled{sel: sel, err: err}
	selectorCacheMu.Unlock()
	return sel, err
}

// ParseElement parses an HTML fragment and returns its focused element: the
// first element carrying FocusAttr, or the first element in document order.
// The fragment is parsed in a <body> context, so ancestors written in the
// fragment (e.g. <div contenteditable><span data-focused>) are preserved.
func ParseElement(fragment string) (*Element, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	focused, err := Query(body, focusSelector)
	if err != nil {
		return nil, err
	}
	if focused != nil {
		return focused, nil
	}
	if first := findFirst(body, func(n *html.Node) bool {
		return n != body && n.Type == html.ElementNode
	}); first != nil {
		return Wrap(first), nil
	}
	return nil, ErrNoElement
}

// Query returns the first element under root matching selector.
func Query(root *html.Node, selector string) (*Element, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return Wrap(sel.MatchFirst(root)), nil
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}
