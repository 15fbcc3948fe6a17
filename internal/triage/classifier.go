// Package triage decides which source notifications become islands: junk
// filtering, type classification and raw-update debouncing.
package triage

import (
	"errors"
	"strings"

	"hyperbridge/internal/island"
)

var ErrUnknownApp = errors.New("unknown app")

// Labeler resolves an application's display name.
type Labeler interface {
	Label(pkg string) (string, error)
}

// StaticLabels is a Labeler backed by a fixed map.
type StaticLabels map[string]string

func (m StaticLabels) Label(pkg string) (string, error) {
	if v, ok := m[pkg]; ok && v != "" {
		return v, nil
	}
	return "", ErrUnknownApp
}

// JunkReason names the rule that classified a notification as junk.
type JunkReason string

const (
	NotJunk             JunkReason = ""
	JunkGroupSummary    JunkReason = "group_summary"
	JunkEmpty           JunkReason = "empty"
	JunkAppNameOnly     JunkReason = "app_name_only"
	JunkPackageText     JunkReason = "package_text"
	JunkBackgroundTitle JunkReason = "background_title"
	JunkTapForInfo      JunkReason = "tap_for_info"
)

const (
	backgroundPhrase = "running in background"
	tapForInfoPhrase = "tap for more info"
	mapsMarker       = "maps"
)

// Classifier is stateless apart from its Labeler and is safe for concurrent use.
type Classifier struct {
	labels Labeler
}

func NewClassifier(labels Labeler) *Classifier {
	return &Classifier{labels: labels}
}

// Junk reports whether ev should be dropped before classification.
func (c *Classifier) Junk(ev island.Event) JunkReason {
	if ev.Extras.Progress.Active() || isSpecial(ev) {
		return NotJunk
	}
	if ev.Flags.Has(island.FlagGroupSummary) {
		return JunkGroupSummary
	}

	title := strings.TrimSpace(ev.Extras.Title)
	text := strings.TrimSpace(ev.Extras.Text)
	sub := strings.TrimSpace(ev.Extras.SubText)

	if title == "" && text == "" && sub == "" {
		return JunkEmpty
	}
	if text == "" && sub == "" && title == c.appLabel(ev.Package) {
		return JunkAppNameOnly
	}
	if text == ev.Package {
		return JunkPackageText
	}
	if containsFold(title, backgroundPhrase) {
		return JunkBackgroundTitle
	}
	if containsFold(text, tapForInfoPhrase) {
		return JunkTapForInfo
	}
	return NotJunk
}

// Classify returns the notification's type by fixed precedence.
func (c *Classifier) Classify(ev island.Event) island.Type {
	switch {
	case ev.Category == island.CategoryCall:
		return island.TypeCall
	case ev.Category == island.CategoryNavigation || strings.Contains(ev.Package, mapsMarker):
		return island.TypeNavigation
	case (ev.Flags.Has(island.FlagShowChronometer) || ev.Category == island.CategoryAlarm) && ev.When > 0:
		return island.TypeTimer
	case ev.Extras.Progress.Active():
		return island.TypeProgress
	case ev.IsMediaStyle():
		return island.TypeMedia
	default:
		return island.TypeStandard
	}
}

// appLabel falls back to the package id when the label can't be resolved.
func (c *Classifier) appLabel(pkg string) string {
	if c.labels == nil {
		return pkg
	}
	v, err := c.labels.Label(pkg)
	if err != nil || v == "" {
		return pkg
	}
	return v
}

func isSpecial(ev island.Event) bool {
	switch ev.Category {
	case island.CategoryCall, island.CategoryNavigation, island.CategoryTransport:
		return true
	}
	return ev.IsMediaStyle()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
