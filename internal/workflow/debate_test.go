package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompleteRounds(t *testing.T) {
	rounds := []DebateRound{
		{Number: 1, BullText: "growth case", BearText: "valuation case"},
		{Number: 2, BullText: "momentum case"}, // bear never wrote
	}
	assert.Equal(t, 1, CompleteRounds(rounds))
	assert.Equal(t, 2, CurrentRound(rounds))
	// One complete round means round 2 is in progress.
	assert.Equal(t, 2, CurrentRound(rounds[:1]))
	assert.Equal(t, 1, CurrentRound(nil))
}

func TestDebateNextHops(t *testing.T) {
	e := NewDebateEngine(2)

	assert.Equal(t, BearResearcher, e.NextAfterBull())
	assert.Equal(t, BullResearcher, e.NextAfterBear(1))
	assert.Equal(t, ResearchManager, e.NextAfterBear(2))
	assert.True(t, e.Converged(2))
	assert.False(t, e.Converged(1))
}

func TestDebateEngineMinimumRounds(t *testing.T) {
	e := NewDebateEngine(0)
	assert.Equal(t, 1, e.Rounds())
	assert.Equal(t, ResearchManager, e.NextAfterBear(1))
}

func TestDebateEngineRetune(t *testing.T) {
	e := NewDebateEngine(2)
	assert.Equal(t, BullResearcher, e.NextAfterBear(1))

	e.SetRounds(1)
	assert.Equal(t, ResearchManager, e.NextAfterBear(1))
	assert.True(t, e.Converged(1))

	e.SetRounds(0)
	assert.Equal(t, 1, e.Rounds())
}

func TestRetryEnvelope(t *testing.T) {
	env := NewRetryEnvelope("agent-bull-researcher", 0, 3)
	assert.Equal(t, 1, env.Attempt)

	for i := 0; i < 3; i++ {
		assert.False(t, env.Exhausted())
		env = env.Next()
	}
	// Attempt 4 is the last permitted invocation: 1 original + 3 retries.
	assert.Equal(t, 4, env.Attempt)
	assert.False(t, env.Exhausted())
	assert.True(t, env.Next().Exhausted())
}
