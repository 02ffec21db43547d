package roster

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/rosterimport/internal/player"
)

// Reason tokens attached to a DuplicateCandidate.
const (
	ReasonSameFirstName    = "same first name"
	ReasonSimilarFirstName = "similar first name"
	ReasonSameLastName     = "same last name"
	ReasonSimilarLastName  = "similar last name"
	ReasonSameTeam         = "same team"
	ReasonSameLeague       = "same league"
	ReasonSameDateOfBirth  = "same date of birth"
	ReasonSamePosition     = "same position"
)

// Searcher is the read side of the player registry used for blocking.
type Searcher interface {
	Search(ctx context.Context, keys player.BlockingKeys) ([]player.Player, error)
}

// Weights holds the contribution of each matching signal.
type Weights struct {
	FirstName      float64 `json:"first_name"`
	FirstNameFuzzy float64 `json:"first_name_fuzzy"`
	LastName       float64 `json:"last_name"`
	LastNameFuzzy  float64 `json:"last_name_fuzzy"`
	Team           float64 `json:"team"`
	League         float64 `json:"league"`
	DateOfBirth    float64 `json:"date_of_birth"`
	Position       float64 `json:"position"`
}

// max is the best score a candidate can collect, used to normalize to [0,1].
func (w Weights) max() float64 {
	return w.FirstName + w.LastName + w.Team + w.League + w.DateOfBirth + w.Position
}

// MatchConfig holds configuration for the matching engine.
type MatchConfig struct {
	// Threshold is the minimum normalized score for a candidate to be reported.
	Threshold float64
	// FuzzyThreshold is the minimum Levenshtein similarity for a fuzzy name hit.
	FuzzyThreshold float64
	// RequireLastName makes a candidate eligible only when its last name
	// matches exactly or fuzzily.
	RequireLastName bool
	// Workers bounds how many rows are matched concurrently.
	Workers int
	Weights Weights
}

// DefaultMatchConfig returns the default matching configuration.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		Threshold:       0.5,
		FuzzyThreshold:  0.8,
		RequireLastName: true,
		Workers:         4,
		Weights: Weights{
			FirstName:      0.25,
			FirstNameFuzzy: 0.15,
			LastName:       0.30,
			LastNameFuzzy:  0.20,
			Team:           0.20,
			League:         0.10,
			DateOfBirth:    0.10,
			Position:       0.05,
		},
	}
}

// Validate reports configuration that would make scores meaningless.
func (c MatchConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("match threshold must be within [0,1], got %v", c.Threshold)
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy threshold must be within (0,1], got %v", c.FuzzyThreshold)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		"first_name": w.FirstName, "first_name_fuzzy": w.FirstNameFuzzy,
		"last_name": w.LastName, "last_name_fuzzy": w.LastNameFuzzy,
		"team": w.Team, "league": w.League, "date_of_birth": w.DateOfBirth, "position": w.Position,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative", name)
		}
	}
	if w.max() <= 0 {
		return fmt.Errorf("at least one exact-signal weight must be positive")
	}
	return nil
}

// Matcher scores canonical rows against registry players. It never writes.
type Matcher struct {
	registry Searcher
	config   MatchConfig
}

// NewMatcher creates a matcher over the given registry.
func NewMatcher(registry Searcher, config MatchConfig) *Matcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Matcher{registry: registry, config: config}
}

// Config returns the active configuration.
func (m *Matcher) Config() MatchConfig {
	return m.config
}

// Match returns the best-scoring existing player for row, or nil when no
// candidate reaches the threshold. Equal scores prefer the most recently
// updated player, then the smaller ID.
func (m *Matcher) Match(ctx context.Context, row CanonicalRow) (*DuplicateCandidate, error) {
	candidates, err := m.registry.Search(ctx, player.BlockingKeys{
		LastNameKey: player.NameKey(row.LastName),
		Team:        row.Team,
	})
	if err != nil {
		return nil, fmt.Errorf("searching candidates for row %d: %w", row.RowIndex, err)
	}

	type scored struct {
		p       *player.Player
		score   float64
		reasons []string
	}
	var hits []scored
	for i := range candidates {
		score, reasons := m.Score(row, &candidates[i])
		if m.config.RequireLastName && !lastNameMatched(reasons) {
			continue
		}
		if score >= m.config.Threshold && score > 0 {
			hits = append(hits, scored{p: &candidates[i], score: score, reasons: reasons})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.p.UpdatedAt.Equal(b.p.UpdatedAt) {
			return a.p.UpdatedAt.After(b.p.UpdatedAt)
		}
		return a.p.ID < b.p.ID
	})

	best := hits[0]
	return &DuplicateCandidate{
		RowIndex:     row.RowIndex,
		CSVName:      row.DisplayName(),
		ExistingID:   best.p.ID,
		ExistingName: best.p.FullName(),
		MatchScore:   best.score,
		MatchReasons: best.reasons,
	}, nil
}

// MatchAll matches every row concurrently. The result is index-aligned
// with rows; a nil entry means the row is a new player.
func (m *Matcher) MatchAll(ctx context.Context, rows []CanonicalRow) ([]*DuplicateCandidate, error) {
	out := make([]*DuplicateCandidate, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Workers)
	for i := range rows {
		g.Go(func() error {
			c, err := m.Match(gctx, rows[i])
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Score computes the normalized score and the ordered reason tokens for
// one row/player pair.
func (m *Matcher) Score(row CanonicalRow, p *player.Player) (float64, []string) {
	w := m.config.Weights
	var total float64
	var reasons []string

	switch nameSignal(row.FirstName, p.FirstName, m.config.FuzzyThreshold) {
	case nameExact:
		total += w.FirstName
		reasons = append(reasons, ReasonSameFirstName)
	case nameFuzzy:
		total += w.FirstNameFuzzy
		reasons = append(reasons, ReasonSimilarFirstName)
	}

	switch nameSignal(row.LastName, p.LastName, m.config.FuzzyThreshold) {
	case nameExact:
		total += w.LastName
		reasons = append(reasons, ReasonSameLastName)
	case nameFuzzy:
		total += w.LastNameFuzzy
		reasons = append(reasons, ReasonSimilarLastName)
	}

	if sameValue(row.Team, p.Team) {
		total += w.Team
		reasons = append(reasons, ReasonSameTeam)
	}
	if sameValue(row.League, p.League) {
		total += w.League
		reasons = append(reasons, ReasonSameLeague)
	}
	if row.DateOfBirth != "" && row.DateOfBirth == p.DateOfBirth {
		total += w.DateOfBirth
		reasons = append(reasons, ReasonSameDateOfBirth)
	}
	if sameValue(row.Position, p.Position) {
		total += w.Position
		reasons = append(reasons, ReasonSamePosition)
	}

	maxScore := w.max()
	if maxScore <= 0 || total <= 0 {
		return 0, nil
	}
	score := math.Min(total/maxScore, 1)
	return math.Round(score*10000) / 10000, reasons
}

type nameMatch int

const (
	nameNone nameMatch = iota
	nameExact
	nameFuzzy
)

// minPrefixLen is the shortest folded name accepted as a nickname prefix.
const minPrefixLen = 3

func nameSignal(a, b string, fuzzyThreshold float64) nameMatch {
	ka, kb := player.NameKey(a), player.NameKey(b)
	if ka == "" || kb == "" {
		return nameNone
	}
	if ka == kb {
		return nameExact
	}

	short, long := ka, kb
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if utf8.RuneCountInString(short) >= minPrefixLen && strings.HasPrefix(long, short) {
		return nameFuzzy
	}

	maxLen := utf8.RuneCountInString(long)
	sim := 1 - float64(levenshtein.ComputeDistance(ka, kb))/float64(maxLen)
	if sim >= fuzzyThreshold {
		return nameFuzzy
	}
	return nameNone
}

func lastNameMatched(reasons []string) bool {
	return slices.Contains(reasons, ReasonSameLastName) || slices.Contains(reasons, ReasonSimilarLastName)
}

// sameValue compares optional text fields; both sides must be present.
func sameValue(a, b string) bool {
	a, b = collapseSpace(a), collapseSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}
