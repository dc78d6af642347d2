package fullscreen

import "github.com/codeGROOVE-dev/playlock/pkg/dom"

const (
	overlaySelector = `img[src*="tsdefaultassets/play-inactive.svg"]`
	labeledSelector = `[class*="player"], [id*="player"], [class*="video"], [id*="video"], [data-player], [data-testid*="player"]`
)

// FindVideo returns the first video element of the page.
func FindVideo(doc dom.Document) dom.Element {
	return dom.Query(doc, "video")
}

// FindPlayOverlay returns the clickable "play" affordance some players draw
// over an idle stream, or nil.
func FindPlayOverlay(doc dom.Document) dom.Element {
	img := dom.Query(doc, overlaySelector)
	if img == nil {
		return nil
	}
	if round := img.Closest(`div[style*="border-radius"]`); round != nil {
		return round
	}
	if p := img.Parent(); p != nil {
		return p
	}
	return img
}

// FindContainer returns the element to promote: the common ancestor of the
// video and its play overlay, else the nearest player-looking ancestor, else
// the video's parent. It returns nil when the page has no video.
func FindContainer(doc dom.Document) dom.Element {
	vid := FindVideo(doc)
	if vid == nil {
		return nil
	}
	if overlay := FindPlayOverlay(doc); overlay != nil {
		if c := dom.CommonAncestor(vid, overlay, doc.Body()); c != nil {
			return c
		}
	}
	if labeled := vid.Closest(labeledSelector); labeled != nil {
		return labeled
	}
	if p := vid.Parent(); p != nil {
		return p
	}
	return vid
}
