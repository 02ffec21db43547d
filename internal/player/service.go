package player

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// playerColumns is the ordered list of columns for SELECT queries.
const playerColumns = `id, first_name, last_name, position, date_of_birth, team, league,
	games_played, goals, assists, points, penalty_minutes,
	created_at, updated_at`

// Service is the player registry backed by SQLite.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a player service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new player. ID and timestamps are assigned here.
func (s *Service) Create(ctx context.Context, p *Player) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (
			id, first_name, last_name, last_name_key, position, date_of_birth, team, league,
			games_played, goals, assists, points, penalty_minutes,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.FirstName, p.LastName, NameKey(p.LastName), p.Position, p.DateOfBirth, p.Team, p.League,
		nullInt(p.Stats.GamesPlayed), nullInt(p.Stats.Goals), nullInt(p.Stats.Assists),
		nullInt(p.Stats.Points), nullInt(p.Stats.PenaltyMinutes),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating player %q: %w", p.FullName(), ErrDuplicate)
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// GetByID retrieves a player by primary key.
func (s *Service) GetByID(ctx context.Context, id string) (*Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting player by id: %w", err)
	}
	return p, nil
}

// Update writes all mutable fields of p. p.UpdatedAt must be the value
// read from the registry; if the row changed since then the update is
// rejected with ErrConflict. On success p.UpdatedAt is advanced.
func (s *Service) Update(ctx context.Context, p *Player) error {
	prev := p.UpdatedAt
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE players SET
			first_name = ?, last_name = ?, last_name_key = ?, position = ?, date_of_birth = ?,
			team = ?, league = ?,
			games_played = ?, goals = ?, assists = ?, points = ?, penalty_minutes = ?,
			updated_at = ?
		WHERE id = ? AND updated_at = ?
	`,
		p.FirstName, p.LastName, NameKey(p.LastName), p.Position, p.DateOfBirth,
		p.Team, p.League,
		nullInt(p.Stats.GamesPlayed), nullInt(p.Stats.Goals), nullInt(p.Stats.Assists),
		nullInt(p.Stats.Points), nullInt(p.Stats.PenaltyMinutes),
		formatTime(now),
		p.ID, formatTime(prev),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("updating player %s: %w", p.ID, ErrDuplicate)
		}
		return fmt.Errorf("updating player: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE id = ?`, p.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking player: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("player %s: %w", p.ID, ErrNotFound)
		}
		return fmt.Errorf("player %s: %w", p.ID, ErrConflict)
	}

	p.UpdatedAt = now
	return nil
}

// Search returns players sharing the folded last name, or the team when
// one is given. Results are ordered by most recently updated first.
func (s *Service) Search(ctx context.Context, keys BlockingKeys) ([]Player, error) {
	if keys.LastNameKey == "" && keys.Team == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE (? <> '' AND last_name_key = ?)
		   OR (? <> '' AND team = ? COLLATE NOCASE)
		ORDER BY updated_at DESC, id ASC`,
		keys.LastNameKey, keys.LastNameKey, keys.Team, keys.Team)
	if err != nil {
		return nil, fmt.Errorf("searching players: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanPlayers(rows)
}

// List returns a page of players and the total count.
func (s *Service) List(ctx context.Context, params ListParams) ([]Player, int, error) {
	params.Validate()

	where := ""
	var args []any
	if params.Search != "" {
		where = " WHERE (first_name || ' ' || last_name) LIKE ? OR team LIKE ?"
		pattern := "%" + params.Search + "%"
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting players: %w", err)
	}

	orderCol := params.Sort + " COLLATE NOCASE"
	if params.Sort == "updated_at" || params.Sort == "created_at" {
		orderCol = params.Sort
	}
	if params.Order == "desc" {
		orderCol += " DESC"
	} else {
		orderCol += " ASC"
	}

	offset := (params.Page - 1) * params.PageSize
	query := `SELECT ` + playerColumns + ` FROM players` + where + //nolint:gosec // G202: orderCol is from validated params, not user input
		` ORDER BY ` + orderCol + `, id ASC LIMIT ? OFFSET ?`
	args = append(args, params.PageSize, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	players, err := scanPlayers(rows)
	if err != nil {
		return nil, 0, err
	}
	return players, total, nil
}

func scanPlayers(rows *sql.Rows) ([]Player, error) {
	players := make([]Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		players = append(players, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating player rows: %w", err)
	}
	return players, nil
}

func scanPlayer(row interface{ Scan(...any) error }) (*Player, error) {
	var p Player
	var gp, goals, assists, points, pim sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Position, &p.DateOfBirth, &p.Team, &p.League,
		&gp, &goals, &assists, &points, &pim,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Stats = SeasonStats{
		GamesPlayed:    intPtr(gp),
		Goals:          intPtr(goals),
		Assists:        intPtr(assists),
		Points:         intPtr(points),
		PenaltyMinutes: intPtr(pim),
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// formatTime stores nanosecond precision so updated_at can serve as a
// row version for optimistic updates.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
