package translate

import (
	"regexp"
	"strings"
)

const (
	mapsTitle     = "Maps"
	navBarColor   = "#34C759"
	shadeJoinWith = " • "
)

var timeRe = regexp.MustCompile(`\d{1,2}:\d{2}`)

// DefaultArrivalKeywords is the built-in ETA keyword list.
func DefaultArrivalKeywords() []string {
	return []string{"arrive", "arrival", "eta", "llegada", "ankunft", "arrivée"}
}

// NavFields is the best-effort split of a navigation notification.
type NavFields struct {
	Instruction string
	Distance    string
	ETA         string
}

// SplitNavigation classifies title/text/subText into instruction, distance and
// ETA. A field matching a clock time or containing an arrival keyword is the
// ETA (subText, then text, then title). Of the remaining title and text, the
// longer is the instruction and the shorter the distance; ties prefer title.
func SplitNavigation(title, text, sub string, keywords []string) NavFields {
	isTime := func(s string) bool {
		if s == "" {
			return false
		}
		if timeRe.MatchString(s) {
			return true
		}
		ls := strings.ToLower(s)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(ls, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	}

	var out NavFields
	switch {
	case isTime(sub):
		out.ETA = sub
	case isTime(text):
		out.ETA = text
		out.Instruction = title
	case isTime(title):
		out.ETA = title
		out.Instruction = text
	}
	if out.ETA != "" && out.ETA != sub {
		return out
	}

	switch {
	case title != "" && text != "":
		if len([]rune(title)) >= len([]rune(text)) {
			out.Instruction, out.Distance = title, text
		} else {
			out.Instruction, out.Distance = text, title
		}
	case title != "":
		out.Instruction = title
	default:
		out.Instruction = text
	}
	return out
}

func translateNavigation(s *Set, b *builder, req Request) error {
	ex := req.Event.Extras
	nav := SplitNavigation(ex.Title, ex.Text, ex.SubText, s.keywords)
	if nav.Instruction == "" {
		nav.Instruction = mapsTitle
	}

	shade := make([]string, 0, 2)
	for _, v := range []string{nav.Distance, nav.ETA} {
		if v != "" {
			shade = append(shade, v)
		}
	}

	b.p.Ticker = nav.Instruction
	b.p.BaseInfo = &baseInfo{
		Type:        textTypeTwoLine,
		Title:       nav.Instruction,
		Content:     strings.Join(shade, shadeJoinWith),
		PicFunction: req.PicKey,
	}

	// With an ETA: left shows instruction over distance, right shows the ETA.
	// Without one: left shows the instruction, right the distance.
	leftContent, right := "", nav.Distance
	if nav.ETA != "" {
		leftContent, right = nav.Distance, nav.ETA
	}
	b.setBigIsland(
		imageText(textTypeTwoLine, req.PicKey, nav.Instruction, leftContent),
		imageText(textTypeCentered, HiddenPicKey, right, ""),
	)

	if p := ex.Progress; p.Max > 0 {
		b.p.ProgressInfo = &progressInfo{
			Progress:   percent(p.Current, p.Max),
			Color:      navBarColor,
			PicForward: req.PicKey,
		}
	}
	return nil
}
