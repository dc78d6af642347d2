package dom

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// Style returns the parsed inline style declarations of el in source order.
// A malformed style attribute yields no declarations.
func Style(el Element) []*css.Declaration {
	raw, ok := el.Attr("style")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	decls, err := parser.ParseDeclarations(raw)
	if err != nil {
		return nil
	}
	return decls
}

// StyleProperty returns the inline value of a CSS property, or "" when unset.
func StyleProperty(el Element, property string) string {
	if el == nil {
		return ""
	}
	property = strings.ToLower(property)
	value := ""
	for _, d := range Style(el) {
		if strings.ToLower(d.Property) == property {
			value = d.Value
		}
	}
	return value
}

// StyleValue is StyleProperty with the priority kept: an important
// declaration yields its value followed by " !important", which SetStyle
// accepts back.
func StyleValue(el Element, property string) string {
	if el == nil {
		return ""
	}
	property = strings.ToLower(property)
	var last *css.Declaration
	for _, d := range Style(el) {
		if strings.ToLower(d.Property) == property {
			last = d
		}
	}
	switch {
	case last == nil:
		return ""
	case last.Important:
		return last.Value + " " + important
	default:
		return last.Value
	}
}

const important = "!important"

// splitImportant strips a trailing !important from a value.
func splitImportant(v string) (string, bool) {
	t := strings.TrimSpace(v)
	if len(t) < len(important) || !strings.EqualFold(t[len(t)-len(important):], important) {
		return v, false
	}
	return strings.TrimSpace(t[:len(t)-len(important)]), true
}

// SetStyle merges props into el's inline style. Keys are CSS property names
// (e.g. "z-index"); an empty value removes the property and a value ending
// in !important sets an important declaration. Properties are applied in
// the order given by keys so the output is deterministic.
func SetStyle(el Element, keys []string, props map[string]string) error {
	if el == nil {
		return nil
	}
	decls := Style(el)
	for _, k := range keys {
		v, ok := props[k]
		if !ok {
			continue
		}
		k = strings.ToLower(k)
		v, imp := splitImportant(v)
		replaced := false
		out := decls[:0]
		for _, d := range decls {
			if strings.ToLower(d.Property) == k {
				if v != "" && !replaced {
					d.Value = v
					d.Important = imp
					out = append(out, d)
					replaced = true
				}
				continue
			}
			out = append(out, d)
		}
		decls = out
		if v != "" && !replaced {
			decls = append(decls, &css.Declaration{Property: k, Value: v, Important: imp})
		}
	}
	return el.SetAttr("style", FormatStyle(decls))
}

// FormatStyle renders declarations as a style attribute value.
func FormatStyle(decls []*css.Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		s := d.Property + ": " + d.Value
		if d.Important {
			s += " !important"
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// RestoreStyle puts back a style attribute snapshot. An empty snapshot
// clears the attribute value but keeps the attribute.
func RestoreStyle(el Element, snapshot string) error {
	if el == nil {
		return nil
	}
	return el.SetAttr("style", snapshot)
}
