package itembank

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXColumns is the header row expected by XLSXProvider. Column order in the
// sheet is free; headers are matched case-insensitively.
var XLSXColumns = []string{"id", "text", "options", "correct", "a", "b", "c", "topics"}

const listSeparator = "|"

// XLSXProvider reads items from a workbook. Options, correct indices and
// topics are "|"-separated cells. Sheet defaults to the first sheet.
type XLSXProvider struct {
	Path  string
	Sheet string
}

func (p XLSXProvider) FetchAll(_ context.Context) ([]RawItem, error) {
	f, err := excelize.OpenFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := p.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("sheet %q has no id column", sheet)
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	items := make([]RawItem, 0, len(rows)-1)
	for n, row := range rows[1:] {
		if cell(row, "id") == "" {
			continue
		}
		correct, err := parseIndices(cell(row, "correct"))
		if err != nil {
			slog.Warn("skipping spreadsheet row", "row", n+2, "error", err)
			continue
		}

		irtParams := make(map[string]any, 3)
		for _, key := range []string{"a", "b", "c"} {
			v := cell(row, key)
			if v == "" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				irtParams[key] = v // kept as text so validation reports it
				continue
			}
			irtParams[key] = f
		}

		items = append(items, RawItem{
			ID:             cell(row, "id"),
			Text:           cell(row, "text"),
			Options:        splitList(cell(row, "options")),
			CorrectIndices: correct,
			IRT:            irtParams,
			TopicTags:      splitList(cell(row, "topics")),
		})
	}
	return items, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIndices(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid correct index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
