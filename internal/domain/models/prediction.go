package models

import "time"

// Window is the K most recent symbols, oldest first.
type Window []Symbol

// Clone returns an independent copy.
func (w Window) Clone() Window {
	out := make(Window, len(w))
	copy(out, w)
	return out
}

// Equal compares element-for-element.
func (w Window) Equal(o Window) bool {
	if len(w) != len(o) {
		return false
	}
	for i := range w {
		if w[i] != o[i] {
			return false
		}
	}
	return true
}

func (w Window) String() string { return FormatDigits(w) }

// FeatureRow is a supervised example: the K symbols preceding Next.
type FeatureRow struct {
	Window Window `json:"window"`
	Next   Symbol `json:"next"`
}

// Distribution is a probability per symbol, indexed by Symbol.
type Distribution [NumSymbols]float64

// Argmax returns the most probable symbol; ties go to the lowest symbol.
func (d Distribution) Argmax() Symbol {
	best := MinSymbol
	for s := MinSymbol + 1; s <= MaxSymbol; s++ {
		if d[s] > d[best] {
			best = s
		}
	}
	return best
}

// CategoryMass sums the probabilities of all symbols in c.
func (d Distribution) CategoryMass(c Category) float64 {
	var sum float64
	for s := MinSymbol; s <= MaxSymbol; s++ {
		if CategoryOf(s) == c {
			sum += d[s]
		}
	}
	return sum
}

// Map renders the distribution keyed by symbol.
func (d Distribution) Map() map[Symbol]float64 {
	out := make(map[Symbol]float64, NumSymbols)
	for s := MinSymbol; s <= MaxSymbol; s++ {
		out[s] = d[s]
	}
	return out
}

// Prediction is the model output for the live window.
type Prediction struct {
	Symbol     Symbol       `json:"symbol"`
	Category   Category     `json:"category"`
	Confidence float64      `json:"confidence"`
	Dist       Distribution `json:"distribution"`
	Window     Window       `json:"window"`
	IssuedAt   time.Time    `json:"issued_at"`
}

// NewPrediction derives symbol, category and category-mass confidence from d.
func NewPrediction(w Window, d Distribution) Prediction {
	sym := d.Argmax()
	cat := CategoryOf(sym)
	conf := d.CategoryMass(cat)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return Prediction{
		Symbol:     sym,
		Category:   cat,
		Confidence: conf,
		Dist:       d,
		Window:     w.Clone(),
		IssuedAt:   time.Now(),
	}
}

// Match is an earlier exact occurrence of the window in the outcome log.
type Match struct {
	Index     int    `json:"index"`
	Following Symbol `json:"following"`
}

// Corroboration is the advisory agreement between the pattern matcher and the model.
type Corroboration string

const (
	CorroborationWin  Corroboration = "WIN"
	CorroborationLoss Corroboration = "LOSS"
	CorroborationNone Corroboration = "NONE"
)

// Corroborate compares the category of a prior match with the predicted category.
func Corroborate(m *Match, p Category) Corroboration {
	if m == nil {
		return CorroborationNone
	}
	if CategoryOf(m.Following) == p {
		return CorroborationWin
	}
	return CorroborationLoss
}
