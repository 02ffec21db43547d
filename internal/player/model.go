package player

import (
	"strings"
	"time"
)

// Player is a registry entry for a single real-world player.
type Player struct {
	ID          string      `json:"id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Position    string      `json:"position"`
	DateOfBirth string      `json:"date_of_birth"`
	Team        string      `json:"team"`
	League      string      `json:"league"`
	Stats       SeasonStats `json:"stats"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SeasonStats holds season totals. A nil field means the value is unknown,
// which is different from a recorded zero.
type SeasonStats struct {
	GamesPlayed    *int `json:"games_played,omitempty"`
	Goals          *int `json:"goals,omitempty"`
	Assists        *int `json:"assists,omitempty"`
	Points         *int `json:"points,omitempty"`
	PenaltyMinutes *int `json:"penalty_minutes,omitempty"`
}

// IsEmpty reports whether no season total is recorded.
func (s SeasonStats) IsEmpty() bool {
	return s.GamesPlayed == nil && s.Goals == nil && s.Assists == nil &&
		s.Points == nil && s.PenaltyMinutes == nil
}

// FullName returns "First Last".
func (p *Player) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// BlockingKeys narrows a registry search to plausible duplicates.
// LastNameKey is a folded key as produced by NameKey. Team is matched
// case-insensitively and ignored when empty.
type BlockingKeys struct {
	LastNameKey string
	Team        string
}

// ListParams configures paginated player queries.
type ListParams struct {
	Page     int
	PageSize int
	Sort     string
	Order    string
	Search   string
}

// Validate normalizes and validates list parameters.
func (p *ListParams) Validate() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 200 {
		p.PageSize = 50
	}
	switch p.Sort {
	case "last_name", "first_name", "team", "league", "updated_at", "created_at":
	default:
		p.Sort = "last_name"
	}
	if p.Order != "desc" {
		p.Order = "asc"
	}
}
