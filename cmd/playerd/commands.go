package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/playlock/pkg/dom"
	"github.com/codeGROOVE-dev/playlock/pkg/dom/htmldom"
	"github.com/codeGROOVE-dev/playlock/pkg/fullscreen"
	"github.com/codeGROOVE-dev/playlock/pkg/overlay"
	"github.com/codeGROOVE-dev/playlock/pkg/prefs"
	"github.com/codeGROOVE-dev/playlock/pkg/quality"
	"github.com/codeGROOVE-dev/playlock/pkg/throttle"
)

func scoreCmd(o *options) *cobra.Command {
	var active []string
	cmd := &cobra.Command{
		Use:   "score LABEL...",
		Short: "Show how quality labels rank",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o.configFile)
			if err != nil {
				return err
			}
			marks := make([]bool, len(args))
			for i, l := range args {
				marks[i] = slices.Contains(active, l)
			}
			rows, winner := overlay.ScoreLabels(cfg.table, args, marks)
			fmt.Fprint(cmd.OutOrStdout(), overlay.Scores(rows, winner))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&active, "active", nil, "labels currently selected in the menu")
	return cmd
}

func inspectCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE.html",
		Short: "Analyse a saved player page offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o.configFile)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck // read only
			doc, err := htmldom.Parse(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), inspect(doc, cfg))
			return nil
		},
	}
}

// inspect reports what the player heuristics find in doc.
func inspect(doc dom.Document, cfg config) string {
	found := func(el dom.Element) string {
		if el == nil {
			return "not found"
		}
		id := dom.AttrOr(el, "id", "")
		if id == "" {
			return "<" + el.Tag() + ">"
		}
		return "<" + el.Tag() + " id=" + id + ">"
	}
	container := fullscreen.FindContainer(doc)
	out := fmt.Sprintf("video:     %s\nplay icon: %s\ncontainer: %s\ngear:      %s\n",
		found(fullscreen.FindVideo(doc)),
		found(fullscreen.FindPlayOverlay(doc)),
		found(container),
		found(quality.FindGear(container)))
	if name := prefs.SpaceName(doc); name != "" {
		out += "space:     " + name + "\n"
	}

	menu := quality.FindMenu(doc.Root())
	if menu == nil {
		out += "menu:      not found\n"
	} else {
		labels, active := menuLabels(menu)
		rows, winner := overlay.ScoreLabels(cfg.table, labels, active)
		out += overlay.Scores(rows, winner)
	}
	return out + overlay.Stats(throttle.Collect(doc, 0), cfg.throttle) + "\n"
}

// menuLabels lists the distinct option labels of menu. Nested items repeat
// their parent's text, so each label is kept once.
func menuLabels(menu dom.Element) ([]string, []bool) {
	var labels []string
	var active []bool
	for _, el := range menu.QueryAll(quality.ItemSelector) {
		l := dom.TrimmedText(el)
		if l == "" {
			continue
		}
		if i := slices.Index(labels, l); i >= 0 {
			active[i] = active[i] || quality.IsActive(el)
			continue
		}
		labels = append(labels, l)
		active = append(active, quality.IsActive(el))
	}
	return labels, active
}

func historyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recently visited spaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := o.openPrefs(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // read only
			history, err := store.Spaces(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), overlay.Spaces(history, time.Now()))
			return nil
		},
	}
}
