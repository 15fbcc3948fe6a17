package translate

import "hyperbridge/internal/island"

const (
	unknownCaller = "Unknown caller"
	incomingCall  = "Incoming call"
)

func translateCall(_ *Set, b *builder, req Request) error {
	ex := req.Event.Extras
	caller := orDefault(ex.Title, unknownCaller)
	status := orDefault(ex.Text, incomingCall)

	var timer *timerInfo
	if req.Event.Flags.Has(island.FlagShowChronometer) && req.Event.When > 0 {
		timer = &timerInfo{Type: timerCountUp, When: req.Event.When}
	}

	b.p.Ticker = caller
	b.p.ChatInfo = &chatInfo{
		Title:      caller,
		Content:    status,
		PicProfile: req.PicKey,
		Timer:      timer,
	}
	b.setBigIsland(
		imageText(textTypeTwoLine, req.PicKey, "", ""),
		imageText(textTypeTwoLine, HiddenPicKey, caller, status),
	)
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
