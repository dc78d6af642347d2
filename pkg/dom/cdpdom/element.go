package cdpdom

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	domproto "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

const (
	clickFn = `function() {
  try {
    const r = this.getBoundingClientRect();
    const opts = {bubbles: true, cancelable: true, view: window,
      clientX: r.left + r.width / 2, clientY: r.top + r.height / 2, button: 0};
    this.dispatchEvent(new PointerEvent('pointerdown', opts));
    this.dispatchEvent(new MouseEvent('mousedown', opts));
    this.dispatchEvent(new MouseEvent('mouseup', opts));
    this.dispatchEvent(new MouseEvent('click', opts));
  } catch (_) {
    this.click();
  }
}`
	hoverFn = `function() {
  const r = this.getBoundingClientRect();
  const opts = {bubbles: true, cancelable: true, clientX: r.left + r.width / 2, clientY: r.top + r.height / 2};
  this.dispatchEvent(new MouseEvent('mousemove', opts));
  this.dispatchEvent(new MouseEvent('mouseover', opts));
}`
	// propertyFn reads a numeric property; booleans become 1 or 0 and the
	// synthetic names cover what media elements only expose through methods.
	propertyFn = `function(name) {
  let v;
  switch (name) {
  case 'bufferedEnd':
    v = this.buffered && this.buffered.length ? this.buffered.end(this.buffered.length - 1) : null;
    break;
  case 'totalVideoFrames':
  case 'droppedVideoFrames': {
    const q = this.getVideoPlaybackQuality ? this.getVideoPlaybackQuality() : null;
    v = q ? q[name] : null;
    break;
  }
  default:
    v = this[name];
  }
  if (typeof v === 'boolean') return v ? 1 : 0;
  return typeof v === 'number' && isFinite(v) ? v : null;
}`
	playFn = `function() {
  const p = this.play();
  if (p && p.catch) p.catch(() => {});
}`
)

type element struct {
	tab  *Tab
	node cdp.BackendNodeID
}

// resolve returns a remote object for the element in group.
func (e *element) resolve(ctx context.Context, group string) (runtime.RemoteObjectID, error) {
	obj, err := domproto.ResolveNode().WithBackendNodeID(e.node).WithObjectGroup(group).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving node %d: %w", e.node, err)
	}
	if obj == nil || obj.ObjectID == "" {
		return "", errNoObject
	}
	return obj.ObjectID, nil
}

// call runs fn with this bound to the element and decodes the by-value
// result into out. Arguments are inlined as JSON literals.
func (e *element) call(fn string, out any, args ...string) error {
	src := fn
	if len(args) > 0 {
		src = "function() { return (" + fn + ").call(this"
		for _, a := range args {
			src += ", " + a
		}
		src += ") }"
	}
	return e.tab.run(e.tab.grouped(func(ctx context.Context, group string) error {
		id, err := e.resolve(ctx, group)
		if err != nil {
			return err
		}
		obj, exc, err := runtime.CallFunctionOn(src).
			WithObjectID(id).
			WithReturnByValue(true).
			Do(ctx)
		if err := callErr(exc, err); err != nil {
			return err
		}
		return decodeValue(obj, out)
	}))
}

// callElement runs fn and wraps the element it returns.
func (e *element) callElement(fn string) dom.Element {
	var node cdp.BackendNodeID
	err := e.tab.run(e.tab.grouped(func(ctx context.Context, group string) error {
		id, err := e.resolve(ctx, group)
		if err != nil {
			return err
		}
		obj, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(id).
			WithObjectGroup(group).
			Do(ctx)
		if err := callErr(exc, err); err != nil {
			return err
		}
		node, err = nodeOf(ctx, obj)
		return err
	}))
	if err != nil {
		if !errors.Is(err, errNoObject) {
			e.tab.logger.Debug("element call failed", "error", err)
		}
		return nil
	}
	return &element{tab: e.tab, node: node}
}

func (e *element) Tag() string {
	var s string
	if err := e.call(`function() { return this.tagName ? this.tagName.toLowerCase() : '' }`, &s); err != nil {
		return ""
	}
	return s
}

func (e *element) Text() string {
	var s string
	if err := e.call(`function() { return this.textContent || '' }`, &s); err != nil {
		return ""
	}
	return s
}

func (e *element) Attr(name string) (string, bool) {
	var res struct {
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	err := e.call(`function(n) { return {ok: this.hasAttribute(n), value: this.getAttribute(n) || ''} }`, &res, jsString(name))
	if err != nil {
		return "", false
	}
	return res.Value, res.OK
}

func (e *element) SetAttr(name, value string) error {
	return e.call(`function(n, v) { this.setAttribute(n, v) }`, nil, jsString(name), jsString(value))
}

func (e *element) RemoveAttr(name string) error {
	return e.call(`function(n) { this.removeAttribute(n) }`, nil, jsString(name))
}

func (e *element) Parent() dom.Element {
	return e.callElement(`function() { return this.parentElement }`)
}

func (e *element) Closest(selector string) dom.Element {
	return e.callElement(`function() { return this.closest(` + jsString(selector) + `) }`)
}

func (e *element) QueryAll(selector string) []dom.Element {
	var out []dom.Element
	err := e.tab.run(e.tab.grouped(func(ctx context.Context, group string) error {
		id, err := e.resolve(ctx, group)
		if err != nil {
			return err
		}
		obj, exc, err := runtime.CallFunctionOn(`function() { return Array.from(this.querySelectorAll(` + jsString(selector) + `)) }`).
			WithObjectID(id).
			WithObjectGroup(group).
			Do(ctx)
		if err := callErr(exc, err); err != nil {
			return err
		}
		nodes, err := arrayNodes(ctx, obj)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			out = append(out, &element{tab: e.tab, node: n})
		}
		return nil
	}))
	if err != nil {
		e.tab.logger.Debug("query failed", "selector", selector, "error", err)
		return nil
	}
	return out
}

func (e *element) Click() error { return e.call(clickFn, nil) }

func (e *element) Hover() error { return e.call(hoverFn, nil) }

func (e *element) Property(name string) (float64, bool) {
	var v *float64
	if err := e.call(propertyFn, &v, jsString(name)); err != nil || v == nil {
		return 0, false
	}
	return *v, true
}

func (e *element) SetProperty(name string, v float64) error {
	return e.call(`function(n, v) { this[n] = v }`, nil, jsString(name), strconv.FormatFloat(v, 'g', -1, 64))
}

func (e *element) Same(other dom.Element) bool {
	o, ok := other.(*element)
	return ok && o != nil && o.tab == e.tab && o.node == e.node
}

// Play starts playback; a rejected play promise is ignored.
func (e *element) Play() error { return e.call(playFn, nil) }

// Pause pauses playback.
func (e *element) Pause() error { return e.call(`function() { this.pause() }`, nil) }
