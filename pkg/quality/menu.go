package quality

import (
	"regexp"
	"strings"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// GearSelector finds a player's settings or quality control.
var GearSelector = strings.Join([]string{
	`button[aria-label*="setting" i]`,
	`button[aria-label*="quality" i]`,
	`[title*="setting" i]`,
	`[title*="quality" i]`,
	`[class*="setting" i]`,
	`[class*="gear" i]`,
	`[class*="quality" i]`,
	`[data-testid*="setting" i]`,
	`[data-testid*="quality" i]`,
}, ", ")

// MenuSelector finds elements that may be an open settings menu.
const MenuSelector = `[role="menu"], [role="listbox"], [class*="menu" i], [class*="dropdown" i], ul, div[aria-expanded="true"]`

var menuLabelRe = regexp.MustCompile(`(?i)(\d{3,4})p|source|original|auto|high(est)?`)

// FindGear returns the settings control under root, or nil. Without a
// labelled control it falls back to the first button holding an svg icon.
func FindGear(root dom.Element) dom.Element {
	if root == nil {
		return nil
	}
	if g := dom.Query(root, GearSelector); g != nil {
		return g
	}
	if svg := dom.Query(root, "button svg"); svg != nil {
		return svg.Closest("button")
	}
	return nil
}

// FindMenu returns the first open menu under root that lists something
// resembling a quality option, or nil.
func FindMenu(root dom.Element) dom.Element {
	if root == nil {
		return nil
	}
	for _, menu := range root.QueryAll(MenuSelector) {
		for _, el := range menu.QueryAll("*") {
			if menuLabelRe.MatchString(el.Text()) {
				return menu
			}
		}
	}
	return nil
}
