package cdpdom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	domproto "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

// objectGroup prefixes the per-operation remote object groups.
const objectGroup = "playlock"

var errNoObject = errors.New("no object")

// Tab is one page. It implements dom.Document; every DOM call is a
// DevTools round trip bounded by the call timeout. Elements are held as
// backend node ids, so no remote object outlives the call that made it.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
	events  chan Event
	groups  atomic.Uint64
}

// Events delivers page events. It is never closed; stop reading when the
// tab's context is done.
func (t *Tab) Events() <-chan Event { return t.events }

// Done is closed when the tab goes away.
func (t *Tab) Done() <-chan struct{} { return t.ctx.Done() }

// Close closes the tab.
func (t *Tab) Close() { t.cancel() }

// Location returns the page URL.
func (t *Tab) Location() (string, error) {
	var loc string
	if err := t.run(chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Path returns the path component of the page URL.
func (t *Tab) Path() (string, error) {
	var p string
	if err := t.eval("location.pathname", &p); err != nil {
		return "", err
	}
	return p, nil
}

// Host returns the page's host name.
func (t *Tab) Host() (string, error) {
	var h string
	if err := t.eval("location.hostname", &h); err != nil {
		return "", err
	}
	return h, nil
}

// Sampler returns a throttle.Sampler that spins on the page's main thread
// for window, so the estimate reflects the page's own contention.
func (t *Tab) Sampler(window time.Duration) throttle.Sampler {
	ms := max(window.Milliseconds(), 1)
	expr := fmt.Sprintf(`(() => {
  const ms = %d, start = performance.now();
  while (performance.now() - start < ms) {}
  const elapsed = performance.now() - start;
  return Math.max(0, Math.min(100, ((elapsed / ms) - 1) * 100));
})()`, ms)
	return throttle.SamplerFunc(func(ctx context.Context) (float64, error) {
		var busy float64
		err := t.runCtx(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return evalValue(ctx, expr, &busy)
		}))
		if err != nil {
			return 0, fmt.Errorf("page cpu sample: %w", err)
		}
		return busy, nil
	})
}

// Root implements dom.Document.
func (t *Tab) Root() dom.Element { return t.evalElement("document.documentElement") }

// Body implements dom.Document.
func (t *Tab) Body() dom.Element { return t.evalElement("document.body") }

// QueryAll implements dom.Document.
func (t *Tab) QueryAll(selector string) []dom.Element {
	var out []dom.Element
	err := t.run(t.grouped(func(ctx context.Context, group string) error {
		obj, exc, err := runtime.Evaluate("Array.from(document.querySelectorAll(" + jsString(selector) + "))").
			WithObjectGroup(group).Do(ctx)
		if err := callErr(exc, err); err != nil {
			return err
		}
		nodes, err := arrayNodes(ctx, obj)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			out = append(out, &element{tab: t, node: n})
		}
		return nil
	}))
	if err != nil {
		t.logger.Debug("query failed", "selector", selector, "error", err)
		return nil
	}
	return out
}

// DispatchKey implements dom.Document. The event is untrusted, so the page
// event script does not report it as user input.
func (t *Tab) DispatchKey(key string) error {
	expr := `document.dispatchEvent(new KeyboardEvent('keydown', {key: ` + jsString(key) + `, bubbles: true, cancelable: true}))`
	return t.eval(expr, nil)
}

func (t *Tab) run(actions ...chromedp.Action) error {
	return t.runCtx(context.Background(), actions...)
}

// runCtx runs actions on the tab, bounded by the call timeout and by ctx.
func (t *Tab) runCtx(ctx context.Context, actions ...chromedp.Action) error {
	callCtx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(callCtx, actions...)
}

func (t *Tab) eval(expr string, out any) error {
	return t.run(chromedp.ActionFunc(func(ctx context.Context) error {
		return evalValue(ctx, expr, out)
	}))
}

func (t *Tab) evalElement(expr string) dom.Element {
	var node cdp.BackendNodeID
	err := t.run(t.grouped(func(ctx context.Context, group string) error {
		obj, exc, err := runtime.Evaluate(expr).WithObjectGroup(group).Do(ctx)
		if err := callErr(exc, err); err != nil {
			return err
		}
		node, err = nodeOf(ctx, obj)
		return err
	}))
	if err != nil {
		if !errors.Is(err, errNoObject) {
			t.logger.Debug("evaluate failed", "expr", expr, "error", err)
		}
		return nil
	}
	return &element{tab: t, node: node}
}

// grouped returns an action that runs fn with a fresh object group and
// releases the group when fn returns, even if the call context ended.
func (t *Tab) grouped(fn func(ctx context.Context, group string) error) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		group := objectGroup + "-" + strconv.FormatUint(t.groups.Add(1), 10)
		defer t.release(ctx, group)
		return fn(ctx, group)
	})
}

func (t *Tab) release(ctx context.Context, group string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	if err := runtime.ReleaseObjectGroup(group).Do(ctx); err != nil {
		t.logger.Debug("releasing object group failed", "group", group, "error", err)
	}
}

// nodeOf returns the backend node id of a remote DOM node. A null result
// yields errNoObject.
func nodeOf(ctx context.Context, obj *runtime.RemoteObject) (cdp.BackendNodeID, error) {
	if obj == nil || obj.ObjectID == "" {
		return 0, errNoObject
	}
	n, err := domproto.DescribeNode().WithObjectID(obj.ObjectID).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("describing node: %w", err)
	}
	return n.BackendNodeID, nil
}

func evalValue(ctx context.Context, expr string, out any) error {
	obj, exc, err := runtime.Evaluate(expr).WithReturnByValue(true).Do(ctx)
	if err := callErr(exc, err); err != nil {
		return err
	}
	return decodeValue(obj, out)
}

func decodeValue(obj *runtime.RemoteObject, out any) error {
	if out == nil || obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

func callErr(exc *runtime.ExceptionDetails, err error) error {
	if err != nil {
		return err
	}
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return fmt.Errorf("page exception: %s", msg)
	}
	return nil
}

// arrayNodes returns the backend node ids of an array of DOM nodes in index
// order.
func arrayNodes(ctx context.Context, arr *runtime.RemoteObject) ([]cdp.BackendNodeID, error) {
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(ctx)
	if err := callErr(exc, err); err != nil {
		return nil, err
	}
	type item struct {
		idx int
		obj *runtime.RemoteObject
	}
	var items []item
	for _, p := range props {
		i, err := strconv.Atoi(p.Name)
		if err != nil || p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		items = append(items, item{idx: i, obj: p.Value})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].idx < items[b].idx })
	nodes := make([]cdp.BackendNodeID, 0, len(items))
	for _, it := range items {
		n, err := nodeOf(ctx, it.obj)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
