package island

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownType = errors.New("unknown notification type")

// Category mirrors the source notification's category tag.
type Category string

const (
	CategoryNone       Category = ""
	CategoryCall       Category = "call"
	CategoryNavigation Category = "navigation"
	CategoryTransport  Category = "transport"
	CategoryAlarm      Category = "alarm"
	CategoryOther      Category = "other"
)

// Flags is the source notification flag bit set.
type Flags uint32

const (
	FlagOngoingEvent Flags = 1 << iota
	FlagGroupSummary
	FlagShowChronometer
)

func (f Flags) Has(x Flags) bool { return f&x != 0 }

type Progress struct {
	Current       int  `json:"current"`
	Max           int  `json:"max"`
	Indeterminate bool `json:"indeterminate"`
}

// Active reports whether the notification carries progress information.
func (p Progress) Active() bool { return p.Max > 0 || p.Indeterminate }

type Extras struct {
	Title    string   `json:"title"`
	Text     string   `json:"text"`
	SubText  string   `json:"sub_text"`
	Template string   `json:"template"`
	Progress Progress `json:"progress"`
}

// Action is a user-invocable action attached to the source notification.
type Action struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

// Event is one delivery of a source notification (post or update).
type Event struct {
	Key      string   `json:"key"`
	Package  string   `json:"package"`
	Category Category `json:"category"`
	Flags    Flags    `json:"flags"`
	// When is the app's own "when" timestamp in unix ms (chronometer base).
	When    int64    `json:"when"`
	Extras  Extras   `json:"extras"`
	Actions []Action `json:"actions,omitempty"`
}

// IsMediaStyle reports whether the source used a media template.
func (e Event) IsMediaStyle() bool { return strings.Contains(e.Extras.Template, "MediaStyle") }

// Fields is the raw (title, text, subText) triple used for change detection.
type Fields struct {
	Title   string
	Text    string
	SubText string
}

func (e Event) Fields() Fields {
	return Fields{Title: e.Extras.Title, Text: e.Extras.Text, SubText: e.Extras.SubText}
}

// Type is the semantic category of a notification. Exactly one per event.
type Type int

const (
	TypeCall Type = iota
	TypeNavigation
	TypeTimer
	TypeProgress
	TypeMedia
	TypeStandard
)

var typeNames = [...]string{"CALL", "NAVIGATION", "TIMER", "PROGRESS", "MEDIA", "STANDARD"}

// AllTypes lists every Type in declaration order.
func AllTypes() []Type {
	return []Type{TypeCall, TypeNavigation, TypeTimer, TypeProgress, TypeMedia, TypeStandard}
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "UNKNOWN"
	}
	return typeNames[t]
}

// ParseType is case-insensitive.
func ParseType(s string) (Type, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n == s {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ActiveIsland is the registry's record of one displayed island.
type ActiveIsland struct {
	ID          int32     `json:"id"`
	Key         string    `json:"key"`
	Type        Type      `json:"type"`
	PostTime    time.Time `json:"post_time"`
	Package     string    `json:"package"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	SubText     string    `json:"sub_text"`
	ContentHash uint64    `json:"content_hash"`
}

func (a ActiveIsland) Fields() Fields {
	return Fields{Title: a.Title, Text: a.Text, SubText: a.SubText}
}
