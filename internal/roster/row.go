// Package roster turns uploaded roster files into reviewable import jobs
// and applies the reviewed plan to the player registry.
package roster

import (
	"strings"

	"github.com/sydlexius/rosterimport/internal/player"
)

// CanonicalRow is one parsed input record, normalized to registry fields.
// RowIndex is the 0-based position among the file's data rows and is the
// stable key for the row within a job.
type CanonicalRow struct {
	RowIndex    int                `json:"row_index"`
	FirstName   string             `json:"first_name"`
	LastName    string             `json:"last_name"`
	Position    string             `json:"position,omitempty"`
	DateOfBirth string             `json:"date_of_birth,omitempty"`
	Team        string             `json:"team,omitempty"`
	League      string             `json:"league,omitempty"`
	Stats       player.SeasonStats `json:"stats"`
}

// DisplayName returns "First Last".
func (r CanonicalRow) DisplayName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// toPlayer builds a new registry entry from the row.
func (r CanonicalRow) toPlayer() *player.Player {
	return &player.Player{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Position:    r.Position,
		DateOfBirth: r.DateOfBirth,
		Team:        r.Team,
		League:      r.League,
		Stats:       r.Stats,
	}
}

// ParseError records an input row that could not be turned into a
// CanonicalRow. The row is excluded from matching and execution.
type ParseError struct {
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// RowError records a row that failed during execution.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// DuplicateCandidate is the best existing player a row may denote.
type DuplicateCandidate struct {
	RowIndex     int      `json:"row_index"`
	CSVName      string   `json:"csv_name"`
	ExistingID   string   `json:"existing_entity_id"`
	ExistingName string   `json:"existing_name"`
	MatchScore   float64  `json:"match_score"`
	MatchReasons []string `json:"match_reasons"`
}
