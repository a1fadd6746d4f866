// Package cards deals unique meme cards out of a fixed catalog.
package cards

import (
	"errors"
	"fmt"
	"math/rand"

	"memematch/internal/domain"
)

// ErrPoolExhausted is returned when a draw asks for more cards than remain
var ErrPoolExhausted = errors.New("not enough unique cards in pool")

// Allocator hands out cards for a single batch. It carries no state between
// batches: callers build one per operation from everything currently held.
type Allocator struct {
	catalog []domain.MemeCard
	used    map[string]struct{}
	rng     *rand.Rand
}

// NewAllocator creates an allocator over catalog with held already marked used.
// A nil rng uses the package-level source.
func NewAllocator(catalog []domain.MemeCard, held []string, rng *rand.Rand) *Allocator {
	a := &Allocator{
		catalog: catalog,
		used:    make(map[string]struct{}, len(held)),
		rng:     rng,
	}
	a.MarkUsed(held...)
	return a
}

// MarkUsed excludes the given card ids from later draws
func (a *Allocator) MarkUsed(ids ...string) {
	for _, id := range ids {
		a.used[id] = struct{}{}
	}
}

// Available returns how many catalog cards can still be drawn
func (a *Allocator) Available() int {
	n := 0
	for _, c := range a.catalog {
		if _, ok := a.used[c.ID]; !ok {
			n++
		}
	}
	return n
}

// Draw returns n cards not used and not drawn before by this allocator.
// On shortfall nothing is drawn.
func (a *Allocator) Draw(n int) ([]domain.MemeCard, error) {
	if n <= 0 {
		return nil, nil
	}

	free := make([]domain.MemeCard, 0, len(a.catalog))
	for _, c := range a.catalog {
		if _, ok := a.used[c.ID]; !ok {
			free = append(free, c)
		}
	}
	if len(free) < n {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrPoolExhausted, n, len(free))
	}

	a.shuffle(free)
	drawn := free[:n:n]
	for _, c := range drawn {
		a.used[c.ID] = struct{}{}
	}
	return drawn, nil
}

func (a *Allocator) shuffle(cards []domain.MemeCard) {
	swap := func(i, j int) { cards[i], cards[j] = cards[j], cards[i] }
	if a.rng != nil {
		a.rng.Shuffle(len(cards), swap)
		return
	}
	rand.Shuffle(len(cards), swap)
}
