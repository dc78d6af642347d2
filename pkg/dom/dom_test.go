package dom_test

import (
	"testing"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/dom/htmldom"
)

func parse(t *testing.T, s string) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.ParseString(s)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return doc
}

func TestStyle(t *testing.T) {
	doc := parse(t, `<div id="c" style="Width: 640px; z-index: 5 !important; color: red"></div><p id="bare"></p>`)
	el := dom.Query(doc, "#c")

	if got := dom.StyleProperty(el, "width"); got != "640px" {
		t.Errorf("StyleProperty(width) = %q", got)
	}
	if got := dom.StyleProperty(dom.Query(doc, "#bare"), "width"); got != "" {
		t.Errorf("StyleProperty on unstyled element = %q", got)
	}
	if got := dom.StyleProperty(nil, "width"); got != "" {
		t.Errorf("StyleProperty(nil) = %q", got)
	}

	snapshot := dom.AttrOr(el, "style", "")
	err := dom.SetStyle(el, []string{"z-index", "width", "position"}, map[string]string{
		"z-index":  "2147483647",
		"width":    "",
		"position": "fixed",
	})
	if err != nil {
		t.Fatalf("SetStyle: %v", err)
	}
	want := "z-index: 2147483647; color: red; position: fixed;"
	if got := dom.AttrOr(el, "style", ""); got != want {
		t.Errorf("style after SetStyle = %q, want %q", got, want)
	}

	if err := dom.RestoreStyle(el, snapshot); err != nil {
		t.Fatalf("RestoreStyle: %v", err)
	}
	if got := dom.AttrOr(el, "style", ""); got != snapshot {
		t.Errorf("style after restore = %q, want %q", got, snapshot)
	}
	if err := dom.RestoreStyle(dom.Query(doc, "#bare"), ""); err != nil {
		t.Fatalf("RestoreStyle: %v", err)
	}
	if !dom.HasAttr(dom.Query(doc, "#bare"), "style") {
		t.Error("empty snapshot should leave an empty style attribute")
	}
}

func TestStyleImportant(t *testing.T) {
	doc := parse(t, `<html style="overflow: auto !important;"><body style="margin: 0; background-color: white"></body></html>`)
	root, body := doc.Root(), doc.Body()

	tests := []struct {
		name string
		el   dom.Element
		prop string
		want string
	}{
		{"important", root, "overflow", "auto !important"},
		{"normal", body, "background-color", "white"},
		{"unset", body, "overflow", ""},
		{"nil", nil, "overflow", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dom.StyleValue(tt.el, tt.prop); got != tt.want {
				t.Errorf("StyleValue(%s) = %q, want %q", tt.prop, got, tt.want)
			}
		})
	}

	saved := dom.StyleValue(root, "overflow")
	if err := dom.SetStyle(root, []string{"overflow"}, map[string]string{"overflow": "hidden"}); err != nil {
		t.Fatal(err)
	}
	if got := dom.AttrOr(root, "style", ""); got != "overflow: hidden;" {
		t.Errorf("style = %q, want overflow: hidden;", got)
	}
	if err := dom.SetStyle(root, []string{"overflow"}, map[string]string{"overflow": saved}); err != nil {
		t.Fatal(err)
	}
	if got := dom.AttrOr(root, "style", ""); got != "overflow: auto !important;" {
		t.Errorf("style after putting the value back = %q", got)
	}
	if got := dom.StyleProperty(root, "overflow"); got != "auto" {
		t.Errorf("StyleProperty = %q, want the bare value", got)
	}
}

func TestHelpers(t *testing.T) {
	doc := parse(t, `<div id="a"><span id="b">  hi  </span><p><i id="c"></i></p></div><video id="v"></video>`)
	b, c := dom.Query(doc, "#b"), dom.Query(doc, "#c")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"text", dom.TrimmedText(b), "hi"},
		{"text nil", dom.TrimmedText(nil), ""},
		{"attr", dom.AttrOr(b, "id", "x"), "b"},
		{"attr default", dom.AttrOr(b, "class", "x"), "x"},
		{"attr nil", dom.AttrOr(nil, "id", "x"), "x"},
		{"has attr", dom.HasAttr(b, "ID"), true},
		{"has attr nil", dom.HasAttr(nil, "id"), false},
		{"missing", dom.Query(doc, "#nope") == nil, true},
		{"ancestor", dom.AttrOr(dom.CommonAncestor(b, c, nil), "id", ""), "a"},
		{"ancestor self", dom.AttrOr(dom.CommonAncestor(b, b, nil), "id", ""), "b"},
		{"ancestor nil", dom.AttrOr(dom.CommonAncestor(nil, c, nil), "id", ""), "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	other := parse(t, `<b id="o"></b>`)
	fallback := doc.Body()
	if got := dom.CommonAncestor(b, dom.Query(other, "#o"), fallback); got == nil || !got.Same(fallback) {
		t.Errorf("unrelated nodes should yield the fallback, got %v", got)
	}
}

func TestPlaying(t *testing.T) {
	doc := parse(t, `<video id="v"></video>`)
	v := dom.Query(doc, "video")
	if dom.Playing(v) || dom.Playing(nil) {
		t.Fatal("video without playback state reported playing")
	}
	m, ok := v.(dom.Media)
	if !ok {
		t.Fatal("htmldom element does not implement Media")
	}
	if err := m.Play(); err != nil {
		t.Fatal(err)
	}
	if !dom.Playing(v) {
		t.Error("Play did not start playback")
	}
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if dom.Playing(v) {
		t.Error("Pause did not stop playback")
	}
}
