package translate

import (
	"encoding/json"
	"fmt"

	"hyperbridge/internal/island"
)

// HiddenPicKey names the transparent spacer picture shared by every payload.
const HiddenPicKey = "hidden_pixel"

const transparentSource = "transparent"

// builder accumulates one payload. Translators fill the type-specific parts;
// Set.Translate owns the shared resources and behaviour flags.
type builder struct {
	pictures []island.Picture
	actions  []island.Action
	p        paramV2
}

func newBuilder(req Request, ticker string) *builder {
	b := &builder{}
	b.p.Business = "bridge_" + req.Event.Package
	b.p.Ticker = ticker
	b.p.EnableFloat = req.Config.EffectiveFloat()
	b.p.TimeoutMS = req.Config.Timeout.Milliseconds()
	b.p.ShowNotification = req.Config.ShowShade
	b.p.Updatable = true
	return b
}

func (b *builder) addPicture(key, source string) {
	for _, p := range b.pictures {
		if p.Key == key {
			return
		}
	}
	b.pictures = append(b.pictures, island.Picture{Key: key, Source: source})
}

// addActions registers the source notification's actions and their icons.
func (b *builder) addActions(actions []island.Action) {
	for _, a := range actions {
		ref := actionRef{Key: a.Key, Title: a.Title}
		if a.Icon != "" {
			ref.Pic = "act_" + a.Key
			b.addPicture(ref.Pic, "action:"+a.Icon)
		}
		b.actions = append(b.actions, a)
		b.p.Actions = append(b.p.Actions, ref)
	}
}

func (b *builder) setBigIsland(left, right imageTextInfo) {
	b.p.Island.Big = bigIsland{Left: left, Right: right}
}

func (b *builder) setSmallIcon(picKey string) {
	b.p.Island.Small = smallIsland{PicInfo: picInfo{Type: picTypeApp, Pic: picKey}}
}

func (b *builder) build() (island.Payload, error) {
	raw, err := json.Marshal(param{V2: b.p})
	if err != nil {
		return island.Payload{}, fmt.Errorf("marshal param: %w", err)
	}
	return island.Payload{
		Pictures: append([]island.Picture(nil), b.pictures...),
		Actions:  append([]island.Action(nil), b.actions...),
		Param:    string(raw),
	}, nil
}

func imageText(typ int, pic, title, content string) imageTextInfo {
	return imageTextInfo{
		Type:     typ,
		PicInfo:  picInfo{Type: picTypeApp, Pic: pic},
		TextInfo: textInfo{Title: title, Content: content},
	}
}
