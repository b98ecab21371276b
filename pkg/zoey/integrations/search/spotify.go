package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Spotify endpoints.
const (
	SpotifyAccountsURL = "https://accounts.spotify.com"
	SpotifyAPIURL      = "https://api.spotify.com"
)

// SpotifyConfig holds client credentials.
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string

	// AccountsURL and APIURL override the endpoints (tests).
	AccountsURL string
	APIURL      string
}

// ParseSpotifyKey splits a "client_id:client_secret" key.
func ParseSpotifyKey(key string) (SpotifyConfig, error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || id == "" || secret == "" {
		return SpotifyConfig{}, fmt.Errorf("spotify key must be client_id:client_secret")
	}
	return SpotifyConfig{ClientID: id, ClientSecret: secret}, nil
}

// Spotify searches the Spotify catalog with the client-credentials flow.
type Spotify struct {
	cfg      SpotifyConfig
	accounts *resty.Client
	api      *resty.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// NewSpotify creates a Spotify searcher.
func NewSpotify(cfg SpotifyConfig) *Spotify {
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = SpotifyAccountsURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = SpotifyAPIURL
	}
	return &Spotify{
		cfg:      cfg,
		accounts: resty.New().SetBaseURL(cfg.AccountsURL).SetTimeout(15 * time.Second),
		api:      resty.New().SetBaseURL(cfg.APIURL).SetTimeout(15 * time.Second),
		now:      time.Now,
	}
}

type spotifyToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached token, fetching a new one near expiry.
func (s *Spotify) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expires) {
		return s.token, nil
	}

	var tok spotifyToken
	resp, err := s.accounts.R().
		SetContext(ctx).
		SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		Post("/api/token")
	if err != nil {
		return "", fmt.Errorf("spotify token request: %w", err)
	}
	if resp.StatusCode() == http.StatusOK {
		if err := json.Unmarshal(resp.Body(), &tok); err != nil {
			return "", fmt.Errorf("decoding spotify token: %w", err)
		}
	}
	if resp.StatusCode() != http.StatusOK || tok.AccessToken == "" {
		return "", fmt.Errorf("spotify authentication failed (status %d), check the client id and secret", resp.StatusCode())
	}

	s.token = tok.AccessToken
	// Refresh a minute early.
	s.expires = s.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

type spotifyItem struct {
	Name         string `json:"name"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

type spotifyPage struct {
	// Playlist pages may contain null entries.
	Items []*spotifyItem `json:"items"`
}

type spotifyResult struct {
	Tracks    *spotifyPage `json:"tracks"`
	Artists   *spotifyPage `json:"artists"`
	Playlists *spotifyPage `json:"playlists"`
	Shows     *spotifyPage `json:"shows"`
}

func (r spotifyResult) page(kind Kind) *spotifyPage {
	switch kind {
	case KindTrack:
		return r.Tracks
	case KindArtist:
		return r.Artists
	case KindPlaylist:
		return r.Playlists
	case KindPodcast:
		return r.Shows
	}
	return nil
}

// Search returns the top hit for query as "Play ...: <url>".
func (s *Spotify) Search(ctx context.Context, kind Kind, query string) (string, error) {
	if kind == KindWikipedia || kind == "" {
		kind = KindTrack
	}
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return "", fmt.Errorf("spotify: %w", ErrNotConfigured)
	}
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}

	resp, err := s.api.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"q":     query,
			"type":  string(kind),
			"limit": "1",
		}).
		Get("/v1/search")
	if err != nil {
		return "", fmt.Errorf("spotify search: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("spotify search failed (status %d)", resp.StatusCode())
	}

	var result spotifyResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("decoding spotify response: %w", err)
	}

	var hit *spotifyItem
	if p := result.page(kind); p != nil {
		for _, it := range p.Items {
			if it != nil {
				hit = it
				break
			}
		}
	}
	if hit == nil {
		return fmt.Sprintf("No %s found for '%s'.", strings.ToLower(kind.Label()), query), nil
	}

	url := hit.ExternalURLs.Spotify
	switch kind {
	case KindTrack:
		artist := "unknown artist"
		if len(hit.Artists) > 0 {
			artist = hit.Artists[0].Name
		}
		return fmt.Sprintf("Play '%s' by %s: %s", hit.Name, artist, url), nil
	case KindArtist:
		return fmt.Sprintf("Play artist '%s': %s", hit.Name, url), nil
	case KindPlaylist:
		return fmt.Sprintf("Play playlist '%s': %s", hit.Name, url), nil
	default:
		return fmt.Sprintf("Play podcast '%s': %s", hit.Name, url), nil
	}
}
