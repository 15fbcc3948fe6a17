package translate

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hyperbridge/internal/island"
)

func decode(t *testing.T, p island.Payload) paramV2 {
	t.Helper()
	var out param
	if err := json.Unmarshal([]byte(p.Param), &out); err != nil {
		t.Fatalf("param is not valid json: %v\n%s", err, p.Param)
	}
	return out.V2
}

func baseReq(ev island.Event) Request {
	return Request{
		Event:  ev,
		Title:  orDefault(ev.Extras.Title, ev.Package),
		PicKey: "pic_1",
		Config: island.Resolve(island.Config{}, island.Config{}),
	}
}

func TestSplitNavigation(t *testing.T) {
	t.Parallel()
	kw := DefaultArrivalKeywords()
	tests := []struct {
		name             string
		title, text, sub string
		want             NavFields
	}{
		{
			name:  "eta in text",
			title: "Turn right onto Main St", text: "2:45 PM",
			want: NavFields{Instruction: "Turn right onto Main St", ETA: "2:45 PM"},
		},
		{
			name:  "eta in sub, longer is instruction",
			title: "200 m", text: "Turn left onto Elm Rd", sub: "Arrive 14:05",
			want: NavFields{Instruction: "Turn left onto Elm Rd", Distance: "200 m", ETA: "Arrive 14:05"},
		},
		{
			name:  "keyword eta in title",
			title: "ETA soon", text: "Keep right",
			want: NavFields{Instruction: "Keep right", ETA: "ETA soon"},
		},
		{
			name:  "tie prefers title",
			title: "abcd", text: "wxyz",
			want: NavFields{Instruction: "abcd", Distance: "wxyz"},
		},
		{
			name: "only text",
			text: "Head north",
			want: NavFields{Instruction: "Head north"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitNavigation(tt.title, tt.text, tt.sub, kw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("SplitNavigation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTranslateIsDeterministic(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{
		Key: "k", Package: "com.app",
		Extras:  island.Extras{Title: "Hello", Text: "World"},
		Actions: []island.Action{{Key: "reply", Title: "Reply", Icon: "ic_reply"}},
	}
	for _, typ := range island.AllTypes() {
		a, err := s.Translate(typ, baseReq(ev))
		if err != nil {
			t.Fatalf("Translate(%v): %v", typ, err)
		}
		b, _ := s.Translate(typ, baseReq(ev))
		if island.Fingerprint(a.Param) != island.Fingerprint(b.Param) {
			t.Fatalf("%v fingerprint not stable", typ)
		}
	}
}

func TestTranslateCommonResources(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{
		Key: "k", Package: "com.app",
		Extras:  island.Extras{Title: "Hello", Text: "World"},
		Actions: []island.Action{{Key: "reply", Title: "Reply", Icon: "ic_reply"}, {Key: "mute", Title: "Mute"}},
	}
	p, err := s.Translate(island.TypeStandard, baseReq(ev))
	if err != nil {
		t.Fatal(err)
	}

	wantPics := []island.Picture{
		{Key: "pic_1", Source: "app:com.app"},
		{Key: HiddenPicKey, Source: "transparent"},
		{Key: "act_reply", Source: "action:ic_reply"},
	}
	if diff := cmp.Diff(wantPics, p.Pictures); diff != "" {
		t.Fatalf("pictures (-want +got):\n%s", diff)
	}
	if len(p.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(p.Actions))
	}

	v := decode(t, p)
	if v.Business != "bridge_com.app" || !v.EnableFloat || !v.ShowNotification || v.TimeoutMS != 5000 {
		t.Fatalf("flags = %+v", v)
	}
	if v.Island.Small.PicInfo.Pic != "pic_1" {
		t.Fatalf("small icon = %q", v.Island.Small.PicInfo.Pic)
	}
}

func TestZeroTimeoutForcesFloatOff(t *testing.T) {
	t.Parallel()
	s := NewSet()
	req := baseReq(island.Event{Package: "com.app", Extras: island.Extras{Title: "x"}})
	req.Config = island.Resolve(island.Config{Float: island.Bool(true), Timeout: island.Duration(0)}, island.Config{})

	for _, typ := range island.AllTypes() {
		p, err := s.Translate(typ, req)
		if err != nil {
			t.Fatal(err)
		}
		if v := decode(t, p); v.EnableFloat || v.TimeoutMS != 0 {
			t.Fatalf("%v: enableFloat=%v timeout=%d", typ, v.EnableFloat, v.TimeoutMS)
		}
	}
}

func TestCallTranslation(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{
		Package:  "com.phone",
		Category: island.CategoryCall,
		Flags:    island.FlagShowChronometer,
		When:     1700000000000,
	}
	p, err := s.Translate(island.TypeCall, baseReq(ev))
	if err != nil {
		t.Fatal(err)
	}
	v := decode(t, p)
	if v.ChatInfo == nil || v.ChatInfo.Title != unknownCaller || v.ChatInfo.Content != incomingCall {
		t.Fatalf("chat info = %+v", v.ChatInfo)
	}
	if v.ChatInfo.Timer == nil || v.ChatInfo.Timer.When != ev.When {
		t.Fatalf("timer = %+v", v.ChatInfo.Timer)
	}
	if v.Island.Big.Right.PicInfo.Pic != HiddenPicKey {
		t.Fatalf("right block should use spacer, got %q", v.Island.Big.Right.PicInfo.Pic)
	}
}

func TestNavigationTranslation(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{
		Package: "com.google.android.apps.maps",
		Extras: island.Extras{
			Title: "Turn left onto Elm Rd", Text: "200 m", SubText: "Arrive 14:05",
			Progress: island.Progress{Current: 1, Max: 4},
		},
	}
	p, err := s.Translate(island.TypeNavigation, baseReq(ev))
	if err != nil {
		t.Fatal(err)
	}
	v := decode(t, p)
	if v.BaseInfo.Content != "200 m • Arrive 14:05" {
		t.Fatalf("shade content = %q", v.BaseInfo.Content)
	}
	if got := v.Island.Big.Right.TextInfo.Title; got != "Arrive 14:05" {
		t.Fatalf("right text = %q", got)
	}
	if v.ProgressInfo == nil || v.ProgressInfo.Progress != 25 || v.ProgressInfo.Color != navBarColor {
		t.Fatalf("progress = %+v", v.ProgressInfo)
	}
}

func TestNavigationEmptyInstructionFallsBack(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{Package: "com.nav", Extras: island.Extras{Text: "12:30"}}
	p, _ := s.Translate(island.TypeNavigation, baseReq(ev))
	if v := decode(t, p); v.Ticker != mapsTitle {
		t.Fatalf("ticker = %q, want %q", v.Ticker, mapsTitle)
	}
}

func TestProgressTranslation(t *testing.T) {
	t.Parallel()
	s := NewSet()
	ev := island.Event{Package: "com.dl", Extras: island.Extras{Text: "file.zip", Progress: island.Progress{Current: 42, Max: 100}}}
	p, _ := s.Translate(island.TypeProgress, baseReq(ev))
	v := decode(t, p)
	if v.ProgressInfo.Progress != 42 || v.Island.Big.Right.TextInfo.Title != "42%" {
		t.Fatalf("progress = %+v right=%q", v.ProgressInfo, v.Island.Big.Right.TextInfo.Title)
	}
	if v.BaseInfo.Title != "com.dl" {
		t.Fatalf("title fallback = %q, want package", v.BaseInfo.Title)
	}
}

func TestPercentClamps(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct{ cur, max, want int }{{5, 10, 50}, {20, 10, 100}, {-1, 10, 0}, {3, 0, 0}} {
		if got := percent(tt.cur, tt.max); got != tt.want {
			t.Fatalf("percent(%d,%d) = %d, want %d", tt.cur, tt.max, got, tt.want)
		}
	}
}

type countingIcons struct{ n atomic.Int32 }

func (c *countingIcons) Icon(pkg string) (string, error) {
	c.n.Add(1)
	return "icon:" + pkg, nil
}

type failingIcons struct{}

func (failingIcons) Icon(string) (string, error) { return "", errors.New("no icon") }

func TestIconResolvedOncePerPackage(t *testing.T) {
	t.Parallel()
	ic := &countingIcons{}
	s := NewSet(WithIconResolver(ic))
	req := baseReq(island.Event{Package: "com.app", Extras: island.Extras{Title: "x"}})
	for i := 0; i < 5; i++ {
		req.Event.When = time.Now().UnixMilli()
		if _, err := s.Translate(island.TypeStandard, req); err != nil {
			t.Fatal(err)
		}
	}
	if got := ic.n.Load(); got != 1 {
		t.Fatalf("icon resolved %d times, want 1", got)
	}
}

func TestIconFailurePropagates(t *testing.T) {
	t.Parallel()
	s := NewSet(WithIconResolver(failingIcons{}))
	if _, err := s.Translate(island.TypeStandard, baseReq(island.Event{Package: "p"})); err == nil {
		t.Fatal("expected icon error")
	}
}

func TestUnknownTypeErrors(t *testing.T) {
	t.Parallel()
	s := NewSet()
	_, err := s.Translate(island.Type(99), baseReq(island.Event{Package: "p"}))
	if !errors.Is(err, island.ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}
