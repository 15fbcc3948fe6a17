package triage

import (
	"testing"

	"hyperbridge/internal/island"
)

func ev(pkg, title, text, sub string) island.Event {
	return island.Event{
		Key:     "0|" + pkg + "|1",
		Package: pkg,
		Extras:  island.Extras{Title: title, Text: text, SubText: sub},
	}
}

func TestJunkRules(t *testing.T) {
	t.Parallel()
	c := NewClassifier(StaticLabels{"com.chat": "Chat"})

	summary := ev("com.chat", "hi", "there", "")
	summary.Flags = island.FlagGroupSummary

	tests := []struct {
		name string
		ev   island.Event
		want JunkReason
	}{
		{"empty", ev("com.chat", "", "  ", ""), JunkEmpty},
		{"group summary", summary, JunkGroupSummary},
		{"app name only", ev("com.chat", "Chat", "", ""), JunkAppNameOnly},
		{"package as text", ev("com.chat", "Hello", "com.chat", ""), JunkPackageText},
		{"background title", ev("com.chat", "Chat is Running In Background", "x", ""), JunkBackgroundTitle},
		{"tap for info", ev("com.chat", "Sync", "Tap for more info", ""), JunkTapForInfo},
		{"real message", ev("com.chat", "Alice", "lunch?", ""), NotJunk},
		{"unknown label falls back to package", ev("com.other", "com.other", "", ""), JunkAppNameOnly},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Junk(tt.ev); got != tt.want {
				t.Fatalf("Junk = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJunkNeverForProgressOrSpecial(t *testing.T) {
	t.Parallel()
	c := NewClassifier(nil)

	progress := ev("com.dl", "", "", "")
	progress.Extras.Progress = island.Progress{Indeterminate: true}
	progress.Flags = island.FlagGroupSummary

	call := ev("com.phone", "", "", "")
	call.Category = island.CategoryCall

	transport := ev("com.music", "", "com.music", "")
	transport.Category = island.CategoryTransport

	media := ev("com.music", "", "", "")
	media.Extras.Template = "android.app.Notification$MediaStyle"

	for _, e := range []island.Event{progress, call, transport, media} {
		if got := c.Junk(e); got != NotJunk {
			t.Fatalf("Junk(%+v) = %q, want not junk", e, got)
		}
	}
}

func TestEmptyAndPackageTextAlwaysJunk(t *testing.T) {
	t.Parallel()
	c := NewClassifier(nil)
	for _, pkg := range []string{"a", "com.example", "org.maps.app"} {
		if c.Junk(ev(pkg, "", "", "")) == NotJunk {
			t.Fatalf("empty event from %s not junk", pkg)
		}
		if c.Junk(ev(pkg, "Title", pkg, "sub")) == NotJunk {
			t.Fatalf("text == package from %s not junk", pkg)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	t.Parallel()
	c := NewClassifier(nil)

	base := ev("com.app", "t", "x", "")
	withCat := func(e island.Event, cat island.Category) island.Event { e.Category = cat; return e }

	callOnMaps := withCat(ev("com.google.android.apps.maps", "t", "x", ""), island.CategoryCall)

	timer := base
	timer.Flags = island.FlagShowChronometer
	timer.When = 1700000000000

	chronoNoWhen := base
	chronoNoWhen.Flags = island.FlagShowChronometer

	alarm := withCat(base, island.CategoryAlarm)
	alarm.When = 42

	progress := base
	progress.Extras.Progress = island.Progress{Current: 3, Max: 10}

	media := base
	media.Extras.Template = "MediaStyle"

	tests := []struct {
		name string
		ev   island.Event
		want island.Type
	}{
		{"call wins over maps", callOnMaps, island.TypeCall},
		{"navigation category", withCat(base, island.CategoryNavigation), island.TypeNavigation},
		{"maps package", ev("com.google.android.apps.maps", "t", "x", ""), island.TypeNavigation},
		{"chronometer", timer, island.TypeTimer},
		{"chronometer without when", chronoNoWhen, island.TypeStandard},
		{"alarm", alarm, island.TypeTimer},
		{"progress", progress, island.TypeProgress},
		{"media", media, island.TypeMedia},
		{"standard", base, island.TypeStandard},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Classify(tt.ev); got != tt.want {
				t.Fatalf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}
