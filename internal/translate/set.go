// Package translate turns classified notifications into island payloads.
//
// Each island.Type maps to one translation function in a fixed dispatch table.
// Translators are pure apart from the package icon cache and may run in
// parallel.
package translate

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"hyperbridge/internal/island"
)

// Request is the input to one translation.
type Request struct {
	Event island.Event
	// Title is the derived title (source title, or the package id when absent).
	Title  string
	PicKey string
	Config island.Resolved
}

// Func fills the type-specific parts of b.
type Func func(s *Set, b *builder, req Request) error

// IconResolver maps a package to the source of its icon.
type IconResolver interface {
	Icon(pkg string) (string, error)
}

// AppIcons resolves icons by package reference; the sink loads the bitmap.
type AppIcons struct{}

func (AppIcons) Icon(pkg string) (string, error) { return "app:" + pkg, nil }

const defaultIconCache = 256

type Set struct {
	table    map[island.Type]Func
	resolver IconResolver
	icons    *lru.Cache[string, string]
	keywords []string
}

type Option func(*Set)

func WithIconResolver(r IconResolver) Option {
	return func(s *Set) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithArrivalKeywords replaces the navigation ETA keyword list.
func WithArrivalKeywords(kw []string) Option {
	return func(s *Set) {
		if len(kw) > 0 {
			s.keywords = append([]string(nil), kw...)
		}
	}
}

func NewSet(opts ...Option) *Set {
	s := &Set{
		table: map[island.Type]Func{
			island.TypeCall:       translateCall,
			island.TypeNavigation: translateNavigation,
			island.TypeTimer:      translateTimer,
			island.TypeProgress:   translateProgress,
			island.TypeMedia:      translateStandard,
			island.TypeStandard:   translateStandard,
		},
		resolver: AppIcons{},
		keywords: DefaultArrivalKeywords(),
	}
	for _, o := range opts {
		o(s)
	}
	s.icons, _ = lru.New[string, string](defaultIconCache)
	return s
}

// Translate builds the payload for req.
func (s *Set) Translate(typ island.Type, req Request) (island.Payload, error) {
	fn, ok := s.table[typ]
	if !ok {
		return island.Payload{}, fmt.Errorf("translate %v: %w", typ, island.ErrUnknownType)
	}

	icon, err := s.icon(req.Event.Package)
	if err != nil {
		return island.Payload{}, fmt.Errorf("resolve icon %s: %w", req.Event.Package, err)
	}

	b := newBuilder(req, req.Title)
	b.addPicture(req.PicKey, icon)
	b.addPicture(HiddenPicKey, transparentSource)

	if err := fn(s, b, req); err != nil {
		return island.Payload{}, err
	}
	b.setSmallIcon(req.PicKey)
	b.addActions(req.Event.Actions)
	return b.build()
}

// icon resolves a package's icon once and caches it.
func (s *Set) icon(pkg string) (string, error) {
	if v, ok := s.icons.Get(pkg); ok {
		return v, nil
	}
	v, err := s.resolver.Icon(pkg)
	if err != nil {
		return "", err
	}
	s.icons.Add(pkg, v)
	return v, nil
}
