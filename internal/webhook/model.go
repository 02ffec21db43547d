package webhook

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/sydlexius/rosterimport/internal/event"
)

// Webhook is an endpoint notified about import events.
type Webhook struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
)

// Validate checks the URL, type and event names.
func (w Webhook) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook %q: url must be an absolute http(s) URL", w.Name)
	}
	switch w.Type {
	case "", TypeGeneric, TypeDiscord, TypeSlack:
	default:
		return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
	}
	for _, e := range w.Events {
		if !slices.Contains(event.ImportTypes(), event.Type(e)) {
			return fmt.Errorf("webhook %q: unknown event %q", w.Name, e)
		}
	}
	return nil
}

// Wants reports whether the webhook subscribes to t. An empty event list
// subscribes to every event.
func (w Webhook) Wants(t event.Type) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, string(t))
}
