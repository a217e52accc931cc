package tool

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Sheet is the content of a spreadsheet artifact. Row 1 in A1 notation is
// the header row.
type Sheet struct {
	Cells [][]string `json:"cells"`
}

func newSheet(columns []string, rows [][]string) *Sheet {
	s := &Sheet{}
	if len(columns) > 0 {
		s.Cells = append(s.Cells, columns)
	}
	s.Cells = append(s.Cells, rows...)
	return s
}

func decodeSheet(content string) (*Sheet, error) {
	var s Sheet
	if content == "" {
		return &s, nil
	}
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return nil, fmt.Errorf("decode spreadsheet: %w", err)
	}
	return &s, nil
}

func (s *Sheet) encode() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Set writes value at an A1 reference, growing the grid as needed.
func (s *Sheet) Set(ref, value string) error {
	row, col, err := parseRef(ref)
	if err != nil {
		return err
	}
	for len(s.Cells) <= row {
		s.Cells = append(s.Cells, nil)
	}
	for len(s.Cells[row]) <= col {
		s.Cells[row] = append(s.Cells[row], "")
	}
	s.Cells[row][col] = value
	return nil
}

// Get returns the value at an A1 reference, or "" outside the grid.
func (s *Sheet) Get(ref string) (string, error) {
	row, col, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	if row >= len(s.Cells) || col >= len(s.Cells[row]) {
		return "", nil
	}
	return s.Cells[row][col], nil
}

// Markdown renders the grid as a table for the model.
func (s *Sheet) Markdown() string {
	if len(s.Cells) == 0 {
		return "(empty spreadsheet)"
	}
	width := 0
	for _, r := range s.Cells {
		width = max(width, len(r))
	}
	var b strings.Builder
	for i, r := range s.Cells {
		b.WriteString("|")
		for c := 0; c < width; c++ {
			v := ""
			if c < len(r) {
				v = r[c]
			}
			b.WriteString(" " + v + " |")
		}
		b.WriteString("\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
		}
	}
	return b.String()
}

// parseRef converts "B3" into zero-based row 2, column 1.
func parseRef(ref string) (row, col int, err error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	i := 0
	for i < len(ref) && unicode.IsLetter(rune(ref[i])) {
		if ref[i] < 'A' || ref[i] > 'Z' {
			return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
		}
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(ref) {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	n, err := strconv.Atoi(ref[i:])
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	return n - 1, col - 1, nil
}
