// Package htmldom implements dom.Document over a parsed HTML tree.
//
// It has no layout or script engine: synthetic input is recorded and routed
// to hooks registered by the caller, which is enough to replay how a player
// reacts to clicks (for example a settings gear that opens a menu).
// A Document is not safe for concurrent use.
package htmldom

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// Event is a recorded synthetic input.
type Event struct {
	Kind   string // click, hover, keydown, play or pause
	Key    string
	Target string // tag and id of the target, "document" for keys
}

// Document is an in-memory page.
type Document struct {
	root      *html.Node
	selectors map[string]cascadia.SelectorGroup
	props     map[*html.Node]map[string]float64
	clicks    []clickHook
	keys      []func(key string)
	events    []Event
}

type clickHook struct {
	sel cascadia.SelectorGroup
	fn  func(dom.Element)
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	n, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	return &Document{
		root:      n,
		selectors: make(map[string]cascadia.SelectorGroup),
		props:     make(map[*html.Node]map[string]float64),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// OnClick registers fn to run whenever an element matching selector is clicked.
func (d *Document) OnClick(selector string, fn func(dom.Element)) error {
	sel, err := d.compile(selector)
	if err != nil {
		return err
	}
	d.clicks = append(d.clicks, clickHook{sel: sel, fn: fn})
	return nil
}

// OnKey registers fn to run for every dispatched keydown.
func (d *Document) OnKey(fn func(key string)) {
	d.keys = append(d.keys, fn)
}

// Events returns the synthetic input recorded so far.
func (d *Document) Events() []Event {
	return append([]Event(nil), d.events...)
}

// Clicks returns the targets of recorded clicks, in order.
func (d *Document) Clicks() []string {
	var out []string
	for _, e := range d.events {
		if e.Kind == "click" {
			out = append(out, e.Target)
		}
	}
	return out
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes to it.
func (d *Document) AppendHTML(parent dom.Element, fragment string) error {
	p, ok := parent.(*element)
	if !ok || p == nil {
		return fmt.Errorf("append html: foreign element %T", parent)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p.n)
	if err != nil {
		return fmt.Errorf("parsing fragment: %w", err)
	}
	for _, n := range nodes {
		p.n.AppendChild(n)
	}
	return nil
}

// Remove detaches el from the tree.
func (d *Document) Remove(el dom.Element) {
	e, ok := el.(*element)
	if !ok || e == nil || e.n.Parent == nil {
		return
	}
	e.n.Parent.RemoveChild(e.n)
}

// Root implements dom.Document.
func (d *Document) Root() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Html {
			return d.wrap(c)
		}
	}
	return nil
}

// Body implements dom.Document.
func (d *Document) Body() dom.Element {
	return dom.Query(d, "body")
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) []dom.Element {
	return d.queryAll(d.root, selector)
}

// DispatchKey implements dom.Document.
func (d *Document) DispatchKey(key string) error {
	d.events = append(d.events, Event{Kind: "keydown", Key: key, Target: "document"})
	for _, fn := range d.keys {
		fn(key)
	}
	return nil
}

// Render serialises the current tree.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *Document) compile(selector string) (cascadia.SelectorGroup, error) {
	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", selector, err)
	}
	d.selectors[selector] = sel
	return sel, nil
}

func (d *Document) queryAll(n *html.Node, selector string) []dom.Element {
	sel, err := d.compile(selector)
	if err != nil {
		return nil
	}
	nodes := cascadia.QueryAll(n, sel)
	out := make([]dom.Element, 0, len(nodes))
	for _, m := range nodes {
		out = append(out, d.wrap(m))
	}
	return out
}

func (d *Document) wrap(n *html.Node) dom.Element {
	if n == nil {
		return nil
	}
	return &element{doc: d, n: n}
}

type element struct {
	doc *Document
	n   *html.Node
}

func (e *element) Tag() string { return e.n.Data }

func (e *element) Text() string {
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
	walk(e.n)
	return b.String()
}

func (e *element) Attr(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) SetAttr(name, value string) error {
	name = strings.ToLower(name)
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			e.n.Attr[i].Val = value
			return nil
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

func (e *element) RemoveAttr(name string) error {
	name = strings.ToLower(name)
	out := e.n.Attr[:0]
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		out = append(out, a)
	}
	e.n.Attr = out
	return nil
}

func (e *element) Parent() dom.Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *element) Closest(selector string) dom.Element {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil
	}
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if sel.Match(n) {
			return e.doc.wrap(n)
		}
	}
	return nil
}

func (e *element) QueryAll(selector string) []dom.Element {
	return e.doc.queryAll(e.n, selector)
}

func (e *element) Click() error {
	e.doc.events = append(e.doc.events, Event{Kind: "click", Target: e.describe()})
	for _, h := range e.doc.clicks {
		if h.sel.Match(e.n) {
			h.fn(e)
		}
	}
	return nil
}

func (e *element) Hover() error {
	e.doc.events = append(e.doc.events, Event{Kind: "hover", Target: e.describe()})
	return nil
}

// Play marks the element as playing.
func (e *element) Play() error {
	e.doc.events = append(e.doc.events, Event{Kind: "play", Target: e.describe()})
	return e.SetProperty("paused", 0)
}

// Pause marks the element as paused.
func (e *element) Pause() error {
	e.doc.events = append(e.doc.events, Event{Kind: "pause", Target: e.describe()})
	return e.SetProperty("paused", 1)
}

func (e *element) Property(name string) (float64, bool) {
	v, ok := e.doc.props[e.n][name]
	return v, ok
}

func (e *element) SetProperty(name string, v float64) error {
	m := e.doc.props[e.n]
	if m == nil {
		m = make(map[string]float64)
		e.doc.props[e.n] = m
	}
	m[name] = v
	return nil
}

func (e *element) Same(other dom.Element) bool {
	o, ok := other.(*element)
	return ok && o != nil && o.n == e.n
}

func (e *element) describe() string {
	if id, ok := e.Attr("id"); ok && id != "" {
		return e.n.Data + "#" + id
	}
	return e.n.Data
}
