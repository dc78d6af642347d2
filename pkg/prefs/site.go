package prefs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
)

// MaxSpaces is how many spaces the visit history keeps.
const MaxSpaces = 10

const spacesKey = "recent_spaces"

var spaceRe = regexp.MustCompile(`/space/([a-zA-Z0-9_-]+)`)

var spaceNameSelectors = []string{
	`h1[class*="space"]`,
	`[class*="space"][class*="title"]`,
	`[class*="space"][class*="name"]`,
	`header h1`,
	`[data-testid*="space-name"]`,
	`[aria-label*="space"]`,
}

// Space is one entry of the visit history.
type Space struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	LastAccessed time.Time `json:"lastAccessed"`
	AccessCount  int       `json:"accessCount"`
}

func volumeKey(site string) string {
	return "volume:" + strings.ToLower(site)
}

// Volume returns the volume saved for site.
func (s *Store) Volume(ctx context.Context, site string) (float64, bool, error) {
	var v float64
	ok, err := s.Get(ctx, volumeKey(site), &v)
	if err != nil || !ok {
		return 0, false, err
	}
	return v, true, nil
}

// SetVolume saves the volume for site, clamped to [0, 1].
func (s *Store) SetVolume(ctx context.Context, site string, v float64) error {
	return s.Put(ctx, volumeKey(site), min(max(v, 0), 1))
}

// SpaceID extracts the space id from a URL path.
func SpaceID(path string) (string, bool) {
	m := spaceRe.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SpaceName returns the space title shown on the page, or "".
func SpaceName(doc dom.Document) string {
	for _, sel := range spaceNameSelectors {
		if t := dom.TrimmedText(dom.Query(doc, sel)); t != "" {
			return t
		}
	}
	return ""
}

// VisitSpace records a visit to space id and returns the updated history,
// most recent first. name and url default from the id when empty.
func (s *Store) VisitSpace(ctx context.Context, id, name, url string) ([]Space, error) {
	if id == "" {
		return nil, fmt.Errorf("empty space id")
	}
	if name == "" {
		name = "Space " + id[:min(8, len(id))]
	}
	if url == "" {
		url = "/space/" + id
	}
	var history []Space
	err := s.update(ctx, spacesKey, &history, func(bool) error {
		count := 0
		kept := history[:0]
		for _, sp := range history {
			if sp.ID == id {
				count = sp.AccessCount
				continue
			}
			kept = append(kept, sp)
		}
		entry := Space{ID: id, Name: name, URL: url, LastAccessed: s.now().UTC(), AccessCount: count + 1}
		history = append([]Space{entry}, kept...)
		if len(history) > MaxSpaces {
			history = history[:MaxSpaces]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording space visit: %w", err)
	}
	return history, nil
}

// Spaces returns the visit history, most recent first.
func (s *Store) Spaces(ctx context.Context) ([]Space, error) {
	var history []Space
	if _, err := s.Get(ctx, spacesKey, &history); err != nil {
		return nil, err
	}
	return history, nil
}
