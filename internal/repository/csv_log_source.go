package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"DigitCast/internal/domain/models"
	domrepo "DigitCast/internal/domain/repository"
)

// DefaultLogColumn is the column read from an outcome log table.
const DefaultLogColumn = "number"

// CSVLogSource loads the outcome log from a CSV file with a header row.
type CSVLogSource struct {
	path   string
	column string
}

func NewCSVLogSource(path, column string) *CSVLogSource {
	if column == "" {
		column = DefaultLogColumn
	}
	return &CSVLogSource{path: path, column: column}
}

func (s *CSVLogSource) LoadLog(ctx context.Context) ([]models.Symbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", s.path, err)
	}
	defer f.Close()
	return ParseCSVLog(f, s.column)
}

// ParseCSVLog reads column from a CSV table, one outcome per row, oldest first.
// Cells that are not an integer in [0,9] become models.NoSymbol.
func ParseCSVLog(r io.Reader, column string) ([]models.Symbol, error) {
	if column == "" {
		column = DefaultLogColumn
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table", models.ErrSchema)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), column) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: column %q not found", models.ErrSchema, column)
	}

	var out []models.Symbol
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+1, err)
		}
		if col >= len(rec) {
			out = append(out, models.NoSymbol)
			continue
		}
		out = append(out, parseCell(rec[col]))
	}
	return out, nil
}

// parseCell accepts "7" and integral floats such as "7.0".
func parseCell(raw string) models.Symbol {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if s := models.Symbol(n); s.Valid() {
			return s
		}
		return models.NoSymbol
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) {
		return models.NoSymbol
	}
	if s := models.Symbol(int(f)); s.Valid() {
		return s
	}
	return models.NoSymbol
}

// StaticLogSource serves a fixed log.
type StaticLogSource []models.Symbol

func (s StaticLogSource) LoadLog(context.Context) ([]models.Symbol, error) {
	out := make([]models.Symbol, len(s))
	copy(out, s)
	return out, nil
}

var (
	_ domrepo.OutcomeLogSource = (*CSVLogSource)(nil)
	_ domrepo.OutcomeLogSource = StaticLogSource(nil)
)
