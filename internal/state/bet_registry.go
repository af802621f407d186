package state

import "fmt"

// BetRegistry holds every bet ever placed, keyed by sequential ID.
// Bets are never deleted — they are the permanent audit trail.
// Not thread-safe — only accessed from the single-threaded operation core.
type BetRegistry struct {
	bets   map[uint64]*Bet
	nextID uint64
}

func NewBetRegistry() *BetRegistry {
	return &BetRegistry{
		bets:   make(map[uint64]*Bet),
		nextID: 1,
	}
}

// Add assigns the next sequential ID to the bet and stores it.
func (r *BetRegistry) Add(b *Bet) uint64 {
	b.ID = r.nextID
	r.bets[b.ID] = b
	r.nextID++
	return b.ID
}

// Get returns a bet by ID.
func (r *BetRegistry) Get(id uint64) (*Bet, bool) {
	b, ok := r.bets[id]
	return b, ok
}

// Transition moves a bet to a terminal status, enforcing the
// exactly-once settlement rule.
func (r *BetRegistry) Transition(id uint64, next BetStatus) (*Bet, error) {
	b, ok := r.bets[id]
	if !ok {
		return nil, fmt.Errorf("unknown bet: %d", id)
	}
	if !b.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("bet %d: invalid transition %s -> %s", id, b.Status, next)
	}
	b.Status = next
	return b, nil
}

// Count returns the total number of bets ever placed.
func (r *BetRegistry) Count() uint64 {
	return r.nextID - 1
}

// All returns every bet (used for snapshots). Order is unspecified.
func (r *BetRegistry) All() []*Bet {
	out := make([]*Bet, 0, len(r.bets))
	for _, b := range r.bets {
		out = append(out, b)
	}
	return out
}

// Restore reinserts a bet from a snapshot, keeping the ID counter ahead
// of every restored bet.
func (r *BetRegistry) Restore(b *Bet) {
	r.bets[b.ID] = b
	if b.ID >= r.nextID {
		r.nextID = b.ID + 1
	}
}
