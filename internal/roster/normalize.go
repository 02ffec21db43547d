package roster

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// Format identifies the layout of an uploaded roster file.
type Format string

// Supported formats. FormatAuto sniffs the payload.
const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat converts a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "csv":
		return FormatCSV, nil
	case "tsv", "tab":
		return FormatTSV, nil
	case "xlsx", "excel", "spreadsheet":
		return FormatXLSX, nil
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromFilename guesses the format from a file extension.
func FormatFromFilename(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	return FormatAuto
}

var zipMagic = []byte("PK\x03\x04")

// sniffFormat inspects the payload when no format was declared.
func sniffFormat(data []byte) Format {
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte{'\t'}) > bytes.Count(line, []byte{','}) {
		return FormatTSV
	}
	return FormatCSV
}

type field int

const (
	fieldFirstName field = iota
	fieldLastName
	fieldFullName
	fieldPosition
	fieldDateOfBirth
	fieldTeam
	fieldLeague
	fieldGamesPlayed
	fieldGoals
	fieldAssists
	fieldPoints
	fieldPenaltyMinutes
)

// headerAliases maps a folded header (see headerKey) to its canonical field.
var headerAliases = map[string]field{
	"firstname": fieldFirstName, "first": fieldFirstName, "givenname": fieldFirstName,
	"lastname": fieldLastName, "last": fieldLastName, "surname": fieldLastName, "familyname": fieldLastName,
	"name": fieldFullName, "player": fieldFullName, "playername": fieldFullName, "fullname": fieldFullName,
	"position": fieldPosition, "pos": fieldPosition,
	"dateofbirth": fieldDateOfBirth, "dob": fieldDateOfBirth, "birthdate": fieldDateOfBirth, "born": fieldDateOfBirth,
	"team": fieldTeam, "currentteam": fieldTeam, "club": fieldTeam,
	"league": fieldLeague, "currentleague": fieldLeague, "division": fieldLeague,
	"gp": fieldGamesPlayed, "games": fieldGamesPlayed, "gamesplayed": fieldGamesPlayed,
	"g": fieldGoals, "goals": fieldGoals,
	"a": fieldAssists, "assists": fieldAssists,
	"pts": fieldPoints, "points": fieldPoints, "p": fieldPoints,
	"pim": fieldPenaltyMinutes, "pims": fieldPenaltyMinutes, "penaltyminutes": fieldPenaltyMinutes,
}

// headerKey lower-cases a header and drops everything but letters and digits.
func headerKey(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// record is one raw data row, or the reason it could not be read.
type record struct {
	cells []string
	err   error
}

// Normalize parses a roster payload into canonical rows. Malformed rows
// become ParseErrors and parsing continues; only an unreadable file or a
// header without any name column is a whole-file error.
func Normalize(data []byte, format Format) ([]CanonicalRow, []ParseError, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}
	if format == FormatAuto {
		format = sniffFormat(data)
	}

	var records []record
	var err error
	switch format {
	case FormatCSV:
		records, err = readDelimited(data, ',')
	case FormatTSV:
		records, err = readDelimited(data, '\t')
	case FormatXLSX:
		records, err = readSpreadsheet(data)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	// The first non-blank record is the header.
	for len(records) > 0 && records[0].err == nil && isBlank(records[0].cells) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	if records[0].err != nil {
		return nil, nil, fmt.Errorf("%w: reading header: %v", ErrUnreadableFile, records[0].err)
	}

	cols := mapHeader(records[0].cells)
	_, hasFirst := cols[fieldFirstName]
	_, hasLast := cols[fieldLastName]
	_, hasFull := cols[fieldFullName]
	if !(hasFirst && hasLast) && !hasFull {
		return nil, nil, ErrMissingNameColumns
	}

	var rows []CanonicalRow
	var parseErrs []ParseError
	idx := 0
	for _, rec := range records[1:] {
		if rec.err == nil && isBlank(rec.cells) {
			continue
		}
		if rec.err != nil {
			parseErrs = append(parseErrs, ParseError{RowIndex: idx, Message: rec.err.Error()})
			idx++
			continue
		}
		row, msg := buildRow(idx, rec.cells, cols)
		if msg != "" {
			parseErrs = append(parseErrs, ParseError{RowIndex: idx, Message: msg})
		} else {
			rows = append(rows, row)
		}
		idx++
	}
	return rows, parseErrs, nil
}

func readDelimited(data []byte, sep rune) ([]record, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records []record
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				records = append(records, record{err: fmt.Errorf("malformed line %d: %v", pe.Line, pe.Err)})
				continue
			}
			return nil, fmt.Errorf("reading delimited file: %w", err)
		}
		records = append(records, record{cells: cells})
	}
	return records, nil
}

func readSpreadsheet(data []byte) ([]record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	records := make([]record, 0, len(rows))
	for _, cells := range rows {
		records = append(records, record{cells: cells})
	}
	return records, nil
}

// mapHeader returns the column index of each recognized field. The first
// column wins when two headers alias the same field.
func mapHeader(header []string) map[field]int {
	cols := make(map[field]int, len(header))
	for i, h := range header {
		f, ok := headerAliases[headerKey(h)]
		if !ok {
			continue
		}
		if _, seen := cols[f]; !seen {
			cols[f] = i
		}
	}
	return cols
}

func buildRow(idx int, cells []string, cols map[field]int) (CanonicalRow, string) {
	get := func(f field) string {
		i, ok := cols[f]
		if !ok || i >= len(cells) {
			return ""
		}
		return collapseSpace(cells[i])
	}

	row := CanonicalRow{
		RowIndex:    idx,
		FirstName:   get(fieldFirstName),
		LastName:    get(fieldLastName),
		Position:    get(fieldPosition),
		DateOfBirth: normalizeDate(get(fieldDateOfBirth)),
		Team:        get(fieldTeam),
		League:      get(fieldLeague),
	}
	if row.FirstName == "" || row.LastName == "" {
		if full := get(fieldFullName); full != "" {
			row.FirstName, row.LastName = splitFullName(full)
		}
	}
	if row.FirstName == "" || row.LastName == "" {
		return CanonicalRow{}, "first and last name are required"
	}

	row.Stats.GamesPlayed = parseCount(get(fieldGamesPlayed))
	row.Stats.Goals = parseCount(get(fieldGoals))
	row.Stats.Assists = parseCount(get(fieldAssists))
	row.Stats.Points = parseCount(get(fieldPoints))
	row.Stats.PenaltyMinutes = parseCount(get(fieldPenaltyMinutes))
	return row, ""
}

// splitFullName accepts "Last, First" or "First [Middle] Last".
func splitFullName(s string) (first, last string) {
	if before, after, ok := strings.Cut(s, ","); ok {
		return strings.TrimSpace(after), strings.TrimSpace(before)
	}
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return "", s
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
}

// parseCount reads a non-negative season total. Anything else is absent.
func parseCount(s string) *int {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return nil
		}
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// normalizeDate rewrites recognizable dates as YYYY-MM-DD and keeps
// anything else as given.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
