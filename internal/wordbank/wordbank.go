// Package wordbank loads the civilian/undercover word pairs used to seed
// a game (§4.7). It is loaded once at startup, the way the teacher's
// task.go builds a fixed in-memory TaskLibrary, generalized to pull from
// a JSON file per spec.md's word_bank.file_path rather than a Go literal,
// and categorized the way t0m0m0-shiritori's genre.go buckets words by
// genre — here, words are bucketed by category and difficulty instead.
package wordbank

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"undercover/internal/apperr"
)

// Difficulty is one of the three fixed difficulty tiers (§3).
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Pair is a drawable (civilian_word, undercover_word) pair (§3).
type Pair struct {
	CivilianWord   string     `json:"civilian_word"`
	UndercoverWord string     `json:"undercover_word"`
	Similarity     float64    `json:"similarity"`
	Difficulty     Difficulty `json:"difficulty"`
	Category       string     `json:"category"`
}

// Bank is a read-only-after-load collection of word pairs.
type Bank struct {
	mu    sync.RWMutex
	pairs []Pair
	rng   *rand.Rand
}

// Load reads a JSON array of Pair from path. Any pair with
// civilian_word == undercover_word is rejected at load time — the
// invariant in §4.7 must never be violated by a malformed bank file.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word bank %s: %w", path, err)
	}

	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse word bank %s: %w", path, err)
	}

	valid := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.CivilianWord == "" || p.UndercoverWord == "" {
			continue
		}
		if p.CivilianWord == p.UndercoverWord {
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("word bank %s contains no usable pairs", path)
	}

	return &Bank{
		pairs: valid,
		rng:   rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// NewFromPairs builds a Bank directly from pairs, for tests and for
// embedding a small built-in fallback bank.
func NewFromPairs(pairs []Pair) *Bank {
	return &Bank{pairs: append([]Pair(nil), pairs...), rng: rand.New(rand.NewSource(1))}
}

func (b *Bank) draw(eligible []Pair) (Pair, error) {
	if len(eligible) == 0 {
		return Pair{}, apperr.New(apperr.WordBankError, "no eligible word pairs")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return eligible[b.rng.Intn(len(eligible))], nil
}

// DrawRandom draws uniformly over the whole bank.
func (b *Bank) DrawRandom() (Pair, error) {
	b.mu.RLock()
	all := b.pairs
	b.mu.RUnlock()
	return b.draw(all)
}

// DrawFromCategory draws uniformly over pairs tagged with category.
func (b *Bank) DrawFromCategory(category string) (Pair, error) {
	b.mu.RLock()
	var eligible []Pair
	for _, p := range b.pairs {
		if p.Category == category {
			eligible = append(eligible, p)
		}
	}
	b.mu.RUnlock()
	return b.draw(eligible)
}

// DrawByDifficulty draws uniformly over pairs of the given difficulty.
func (b *Bank) DrawByDifficulty(d Difficulty) (Pair, error) {
	b.mu.RLock()
	var eligible []Pair
	for _, p := range b.pairs {
		if p.Difficulty == d {
			eligible = append(eligible, p)
		}
	}
	b.mu.RUnlock()
	return b.draw(eligible)
}

// DrawByMinSimilarity draws uniformly over pairs whose similarity is
// at least minSimilarity.
func (b *Bank) DrawByMinSimilarity(minSimilarity float64) (Pair, error) {
	b.mu.RLock()
	var eligible []Pair
	for _, p := range b.pairs {
		if p.Similarity >= minSimilarity {
			eligible = append(eligible, p)
		}
	}
	b.mu.RUnlock()
	return b.draw(eligible)
}

// Len returns the number of loaded pairs.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pairs)
}
