package workflow

import "sync"

// DebateEngine manages the bull/bear round loop inside the research phase.
// It is consulted after either researcher completes to decide the next hop.
// The round cap is mutable so a config reload can retune it mid-flight.
type DebateEngine struct {
	mu        sync.RWMutex
	maxRounds int
}

// NewDebateEngine creates an engine capped at maxRounds exchanges.
func NewDebateEngine(maxRounds int) *DebateEngine {
	e := &DebateEngine{}
	e.SetRounds(maxRounds)
	return e
}

// Rounds returns the configured round cap.
func (e *DebateEngine) Rounds() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxRounds
}

// SetRounds retunes the round cap. Values below one clamp to one.
func (e *DebateEngine) SetRounds(n int) {
	if n < 1 {
		n = 1
	}
	e.mu.Lock()
	e.maxRounds = n
	e.mu.Unlock()
}

// CompleteRounds counts rounds with both sides present. A round with only
// one side written, e.g. after a researcher error, does not count.
func CompleteRounds(rounds []DebateRound) int {
	n := 0
	for _, r := range rounds {
		if r.Complete() {
			n++
		}
	}
	return n
}

// CurrentRound derives the 1-based round in progress from recorded rounds.
func CurrentRound(rounds []DebateRound) int {
	return CompleteRounds(rounds) + 1
}

// NextAfterBull returns the agent to invoke once the bull side of the
// current round has been written: always the bear researcher.
func (e *DebateEngine) NextAfterBull() string {
	return BearResearcher
}

// NextAfterBear returns the agent to invoke once the bear side of round k
// has been written: the bull researcher of round k+1, or the research
// manager when the engine has converged.
func (e *DebateEngine) NextAfterBear(completedRounds int) string {
	if completedRounds >= e.Rounds() {
		return ResearchManager
	}
	return BullResearcher
}

// Converged reports whether the debate has run its configured rounds.
func (e *DebateEngine) Converged(completedRounds int) bool {
	return completedRounds >= e.Rounds()
}
