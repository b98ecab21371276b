// Package search implements the catalog lookups behind "play ..." and the
// search flow: Spotify for music and podcasts, Wikipedia for summaries.
// Results are plain text ready to send to the user.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind selects what to search for.
type Kind string

const (
	KindTrack     Kind = "track"
	KindArtist    Kind = "artist"
	KindPlaylist  Kind = "playlist"
	KindPodcast   Kind = "show"
	KindWikipedia Kind = "wikipedia"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{KindTrack, KindArtist, KindPlaylist, KindPodcast, KindWikipedia}

// Label returns the user-facing name of a kind.
func (k Kind) Label() string {
	switch k {
	case KindTrack:
		return "Track"
	case KindArtist:
		return "Artist"
	case KindPlaylist:
		return "Playlist"
	case KindPodcast:
		return "Podcast"
	case KindWikipedia:
		return "Wikipedia"
	}
	return string(k)
}

// ParseKind accepts a kind or its label ("podcast" maps to show).
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "podcast" {
		return KindPodcast, true
	}
	for _, k := range Kinds {
		if string(k) == s || strings.ToLower(k.Label()) == s {
			return k, true
		}
	}
	return "", false
}

// ErrNotConfigured is returned when a backend has no credentials.
var ErrNotConfigured = errors.New("search backend not configured")

// Searcher runs one lookup and returns a reply text.
type Searcher interface {
	Search(ctx context.Context, kind Kind, query string) (string, error)
}

// Service routes each kind to its backend.
type Service struct {
	Spotify   *Spotify
	Wikipedia *Wikipedia
}

// Search dispatches to Wikipedia or Spotify.
func (s *Service) Search(ctx context.Context, kind Kind, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty search query")
	}
	if kind == KindWikipedia {
		if s.Wikipedia == nil {
			return "", ErrNotConfigured
		}
		return s.Wikipedia.Summary(ctx, query)
	}
	if s.Spotify == nil {
		return "", fmt.Errorf("spotify: %w", ErrNotConfigured)
	}
	return s.Spotify.Search(ctx, kind, query)
}
