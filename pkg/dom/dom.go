// Package dom defines the small slice of the browser DOM that the player
// heuristics need, so the same code runs against a live tab and against an
// in-memory HTML document.
package dom

import "strings"

// Element is a node in a page the heuristics can inspect and poke at.
// Reads never fail: an element that cannot be read looks empty.
type Element interface {
	// Tag returns the lower-case tag name.
	Tag() string
	// Text returns the element's textContent.
	Text() string
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	RemoveAttr(name string) error
	// Parent returns nil at the root.
	Parent() Element
	// Closest returns the nearest inclusive ancestor matching selector, or nil.
	Closest(selector string) Element
	// QueryAll returns matching descendants in document order.
	QueryAll(selector string) []Element
	// Click dispatches pointerdown, mousedown, mouseup and click at the
	// element's centre.
	Click() error
	// Hover dispatches mousemove and mouseover at the element's centre.
	Hover() error
	// Property reads a numeric DOM property such as volume or playbackRate.
	Property(name string) (float64, bool)
	SetProperty(name string, v float64) error
	// Same reports whether other refers to the same node.
	Same(other Element) bool
}

// Document is the page root.
type Document interface {
	// Root returns document.documentElement.
	Root() Element
	Body() Element
	QueryAll(selector string) []Element
	// DispatchKey sends a synthetic keydown for key to the document.
	DispatchKey(key string) error
}

// Media is implemented by elements that can start and stop playback.
// Playback state is read through the numeric properties "paused" (1 or 0),
// "playbackRate", "currentTime", "readyState" and "bufferedEnd".
type Media interface {
	Play() error
	Pause() error
}

// Playing reports whether el is media that is not paused.
func Playing(el Element) bool {
	if el == nil {
		return false
	}
	p, ok := el.Property("paused")
	return ok && p == 0
}

// Query returns the first element under root matching selector, or nil.
func Query(root interface{ QueryAll(string) []Element }, selector string) Element {
	if root == nil {
		return nil
	}
	all := root.QueryAll(selector)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// HasAttr reports whether el carries the named attribute.
func HasAttr(el Element, name string) bool {
	if el == nil {
		return false
	}
	_, ok := el.Attr(name)
	return ok
}

// AttrOr returns the attribute value or def when the attribute is missing.
func AttrOr(el Element, name, def string) string {
	if el == nil {
		return def
	}
	if v, ok := el.Attr(name); ok {
		return v
	}
	return def
}

// TrimmedText returns the element's text with surrounding whitespace removed.
func TrimmedText(el Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// CommonAncestor returns the nearest element containing both a and b. A nil
// argument yields the other one. Unrelated nodes yield fallback.
func CommonAncestor(a, b, fallback Element) Element {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	var chain []Element
	for x := a; x != nil; x = x.Parent() {
		chain = append(chain, x)
	}
	for y := b; y != nil; y = y.Parent() {
		for _, x := range chain {
			if x.Same(y) {
				return y
			}
		}
	}
	return fallback
}
