package pattern

import "DigitCast/internal/domain/models"

// MaxIndexedWindow is the largest K whose K-grams fit a uint64 key.
const MaxIndexedWindow = 18

// FindPriorOccurrence scans log left to right for the first i where log[i:i+K]
// equals window and log[i+K] exists. Returns nil when there is no such i.
func FindPriorOccurrence(log []models.Symbol, window models.Window) *models.Match {
	k := len(window)
	if k == 0 {
		return nil
	}
	for _, s := range window {
		if !s.Valid() {
			return nil
		}
	}
	for i := 0; i+k < len(log); i++ {
		ok := true
		for j := 0; j < k; j++ {
			if log[i+j] != window[j] {
				ok = false
				break
			}
		}
		if ok && log[i+k].Valid() {
			return &models.Match{Index: i, Following: log[i+k]}
		}
	}
	return nil
}

// Index is a precomputed earliest-occurrence table of K-grams in a log.
// It answers the same queries as FindPriorOccurrence in O(K).
type Index struct {
	k     int
	log   []models.Symbol
	first map[uint64]int
}

// NewIndex builds the table. Windows longer than MaxIndexedWindow fall back to scanning.
func NewIndex(log []models.Symbol, k int) *Index {
	cp := make([]models.Symbol, len(log))
	copy(cp, log)
	idx := &Index{k: k, log: cp}
	if k <= 0 || k > MaxIndexedWindow {
		return idx
	}

	var mod uint64 = 1
	for i := 0; i < k; i++ {
		mod *= 10
	}
	idx.first = make(map[uint64]int, len(cp))
	var key uint64
	run := 0
	// after consuming cp[j], key encodes cp[j-k+1..j] when run >= k
	for j := 0; j+1 < len(cp); j++ {
		s := cp[j]
		if !s.Valid() {
			key, run = 0, 0
			continue
		}
		key = (key*10 + uint64(s)) % mod
		run++
		if run >= k && cp[j+1].Valid() {
			if _, seen := idx.first[key]; !seen {
				idx.first[key] = j - k + 1
			}
		}
	}
	return idx
}

// WindowSize returns K.
func (x *Index) WindowSize() int { return x.k }

// Len returns the length of the indexed log.
func (x *Index) Len() int { return len(x.log) }

// Find returns the earliest prior occurrence of window, or nil.
func (x *Index) Find(window models.Window) *models.Match {
	if len(window) != x.k {
		return nil
	}
	if x.first == nil {
		return FindPriorOccurrence(x.log, window)
	}
	var key uint64
	for _, s := range window {
		if !s.Valid() {
			return nil
		}
		key = key*10 + uint64(s)
	}
	i, ok := x.first[key]
	if !ok {
		return nil
	}
	return &models.Match{Index: i, Following: x.log[i+x.k]}
}
