// Package pushover mirrors delivered reminders to a phone through the
// Pushover messages API.
package pushover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// DefaultAPIURL is the Pushover API endpoint.
const DefaultAPIURL = "https://api.pushover.net"

// Config holds Pushover credentials.
type Config struct {
	// Token is the application token.
	Token string `yaml:"token"`

	// UserKey is the user (or group) key notifications go to.
	UserKey string `yaml:"user_key"`

	// APIURL overrides the endpoint. Defaults to DefaultAPIURL.
	APIURL string `yaml:"api_url,omitempty"`
}

// Enabled reports whether both credentials are set.
func (c Config) Enabled() bool { return c.Token != "" && c.UserKey != "" }

// ErrNotConfigured is returned by New without credentials.
var ErrNotConfigured = errors.New("pushover: token and user_key are required")

// Notifier implements scheduler.Notifier.
type Notifier struct {
	cfg    Config
	client *resty.Client
}

// New creates a notifier.
func New(cfg Config) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	return &Notifier{
		cfg:    cfg,
		client: resty.New().SetBaseURL(cfg.APIURL).SetTimeout(15 * time.Second),
	}, nil
}

type apiResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

// Send pushes a message with an optional title.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	form := map[string]string{
		"token":   n.cfg.Token,
		"user":    n.cfg.UserKey,
		"message": message,
	}
	if title != "" {
		form["title"] = title
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/1/messages.json")
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}

	var body apiResponse
	_ = json.Unmarshal(resp.Body(), &body)
	if resp.StatusCode() != http.StatusOK || body.Status != 1 {
		return fmt.Errorf("pushover: status %d: %v", resp.StatusCode(), body.Errors)
	}
	return nil
}

// NotifyReminder mirrors a delivered reminder.
func (n *Notifier) NotifyReminder(ctx context.Context, r *scheduler.Reminder) error {
	return n.Send(ctx, "Reminder", r.Task)
}

var _ scheduler.Notifier = (*Notifier)(nil)
