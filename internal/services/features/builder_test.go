package features

import (
	"errors"
	"testing"

	"DigitCast/internal/domain/models"
)

func syms(xs ...int) []models.Symbol {
	out := make([]models.Symbol, len(xs))
	for i, x := range xs {
		out[i] = models.Symbol(x)
	}
	return out
}

func TestBuildSlidesOldestFirst(t *testing.T) {
	rows, err := Build(syms(1, 2, 3, 4, 5, 6), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	want := []struct {
		w    string
		next models.Symbol
	}{{"123", 4}, {"234", 5}, {"345", 6}}
	for i, r := range rows {
		if r.Window.String() != want[i].w || r.Next != want[i].next {
			t.Fatalf("row %d: got %s->%d", i, r.Window, r.Next)
		}
	}
}

func TestBuildInsufficientData(t *testing.T) {
	_, err := Build(syms(1, 2, 3), 3)
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBuildDropsRowsAroundGaps(t *testing.T) {
	log := syms(1, 2, 3, -1, 4, 5, 6, 7)
	rows, err := Build(log, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// valid: 12->3, 45->6, 56->7
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Window.String() != "12" || rows[1].Window.String() != "45" || rows[2].Next != 7 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestBuildDeterministic(t *testing.T) {
	log := syms(3, 5, 1, 2, 5, 7, 0, 9, 9, 4, 3)
	a, _ := Build(log, 5)
	b, _ := Build(log, 5)
	if len(a) != len(b) {
		t.Fatalf("length mismatch")
	}
	for i := range a {
		if !a[i].Window.Equal(b[i].Window) || a[i].Next != b[i].Next {
			t.Fatalf("row %d differs", i)
		}
	}
}

func TestBuildRowsDoNotAlias(t *testing.T) {
	log := syms(1, 2, 3, 4)
	rows, _ := Build(log, 2)
	log[0] = 9
	if rows[0].Window[0] != 1 {
		t.Fatalf("row window aliases log")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil, 3); !errors.Is(err, models.ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
	rows := []models.FeatureRow{{Window: models.Window{1, 2}, Next: 3}}
	if err := Validate(rows, 3); !errors.Is(err, models.ErrFeatureArity) {
		t.Fatalf("expected ErrFeatureArity, got %v", err)
	}
	if err := Validate(rows, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
