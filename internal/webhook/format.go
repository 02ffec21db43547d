package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/sydlexius/rosterimport/internal/event"
)

// formatPayload returns the request body and content-type for a webhook delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return formatDiscord(e)
	case TypeSlack:
		return formatSlack(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatDiscord(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title(e),
				"description": describe(e),
				"color":       color(e),
				"timestamp":   e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", title(e), describe(e)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func title(e event.Event) string {
	switch e.Type {
	case event.ImportPreviewed:
		return "Roster import previewed"
	case event.ImportExecuted:
		return "Roster import executed"
	case event.ImportExpired:
		return "Roster import expired"
	default:
		return "Roster import: " + string(e.Type)
	}
}

// color is the Discord embed color: red when rows failed, green otherwise.
func color(e event.Event) int {
	if n, ok := e.Data["errors"].(int); ok && n > 0 {
		return 15158332
	}
	return 3066993
}

func describe(e event.Event) string {
	d := e.Data
	switch e.Type {
	case event.ImportPreviewed:
		return fmt.Sprintf("%s: %v rows, %v possible duplicates (job %v)",
			source(d), d["total_rows"], d["duplicates"], d["job_id"])
	case event.ImportExecuted:
		return fmt.Sprintf("%s: %v created, %v merged, %v skipped, %v errors (job %v)",
			source(d), d["created"], d["merged"], d["skipped"], d["errors"], d["job_id"])
	case event.ImportExpired:
		return fmt.Sprintf("%s: preview expired before execution, %v rows discarded (job %v)",
			source(d), d["total_rows"], d["job_id"])
	}
	b, _ := json.Marshal(d)
	return string(b)
}

func source(d map[string]any) string {
	if s, ok := d["source"].(string); ok && s != "" {
		return s
	}
	return "upload"
}
