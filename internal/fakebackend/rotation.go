// ABOUTME: Round-robin speaker selection for the fake backend
// ABOUTME: Each conversation keeps its own rotating index over its participants

package fakebackend

import (
	"errors"
	"sync/atomic"
)

// ErrNoParticipants indicates a conversation has nobody to pick from.
var ErrNoParticipants = errors.New("no participants available for next turn")

// Rotation selects speakers using a round-robin strategy.
type Rotation struct {
	current uint64
}

// Next picks the next participant. Returns ErrNoParticipants if none are provided.
func (r *Rotation) Next(participants []string) (string, error) {
	if len(participants) == 0 {
		return "", ErrNoParticipants
	}

	// Atomically increment and get the index
	idx := atomic.AddUint64(&r.current, 1) - 1
	return participants[idx%uint64(len(participants))], nil
}
