package translate

import (
	"strconv"

	"hyperbridge/internal/island"
)

func translateTimer(_ *Set, b *builder, req Request) error {
	ev := req.Event
	typ := timerCountUp
	if ev.Category == island.CategoryAlarm {
		typ = timerCountDown
	}
	content := orDefault(ev.Extras.Text, ev.Extras.SubText)

	b.p.ChatInfo = &chatInfo{
		Title:      req.Title,
		Content:    content,
		PicProfile: req.PicKey,
		Timer:      &timerInfo{Type: typ, When: ev.When},
	}
	b.setBigIsland(
		imageText(textTypeTwoLine, req.PicKey, req.Title, content),
		imageText(textTypeCentered, HiddenPicKey, "", ""),
	)
	return nil
}

func translateProgress(_ *Set, b *builder, req Request) error {
	ex := req.Event.Extras
	p := ex.Progress

	pi := &progressInfo{Indeterminate: p.Indeterminate, PicForward: req.PicKey}
	right := ""
	if p.Max > 0 && !p.Indeterminate {
		pi.Progress = percent(p.Current, p.Max)
		right = strconv.Itoa(pi.Progress) + "%"
	}

	b.p.BaseInfo = &baseInfo{
		Type:        textTypeTwoLine,
		Title:       req.Title,
		Content:     orDefault(ex.Text, ex.SubText),
		PicFunction: req.PicKey,
	}
	b.p.ProgressInfo = pi
	b.setBigIsland(
		imageText(textTypeTwoLine, req.PicKey, req.Title, ex.Text),
		imageText(textTypeCentered, HiddenPicKey, right, ""),
	)
	return nil
}

func translateStandard(_ *Set, b *builder, req Request) error {
	ex := req.Event.Extras
	content := orDefault(ex.Text, ex.SubText)
	second := ex.SubText
	if second == content {
		second = ""
	}

	b.p.BaseInfo = &baseInfo{
		Type:        textTypeTwoLine,
		Title:       req.Title,
		Content:     content,
		PicFunction: req.PicKey,
	}
	b.setBigIsland(
		imageText(textTypeTwoLine, req.PicKey, req.Title, ""),
		imageText(textTypeTwoLine, HiddenPicKey, content, second),
	)
	return nil
}

// percent clamps current/max to 0..100.
func percent(current, max int) int {
	if max <= 0 {
		return 0
	}
	v := int(int64(current) * 100 / int64(max))
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
