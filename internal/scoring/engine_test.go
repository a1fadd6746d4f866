package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memematch/internal/domain"
)

func players(ids ...string) map[string]domain.Player {
	out := make(map[string]domain.Player, len(ids))
	for _, id := range ids {
		out[id] = domain.Player{ID: id, Name: "name-" + id}
	}
	return out
}

func subs(ids ...string) map[string]domain.Submission {
	out := make(map[string]domain.Submission, len(ids))
	for i, id := range ids {
		out[id] = domain.Submission{CardID: "card-" + id, SubmittedAt: int64(100 + i)}
	}
	return out
}

func TestScore_VotesAndWinner(t *testing.T) {
	e := DefaultEngine()
	res := e.Score(Input{
		Players:     players("a", "b", "c"),
		Submissions: subs("a", "b", "c"),
		Votes:       map[string]string{"b": "a", "c": "a", "a": "b"},
		RoundNumber: 1,
	})

	assert.Equal(t, "a", res.Winner)
	assert.Equal(t, 2*e.PointsPerVote+e.WinnerBonus, res.Scores["a"])
	assert.Equal(t, e.PointsPerVote, res.Scores["b"])
	assert.Equal(t, 0, res.Scores["c"])
	assert.Equal(t, domain.Streak{Current: 1, Best: 1, LastWonRound: 1}, res.Streaks["a"])
	assert.Equal(t, 0, res.Streaks["b"].Current)
}

func TestScore_IgnoresSelfVotesAndMissingSubmissions(t *testing.T) {
	e := DefaultEngine()
	res := e.Score(Input{
		Players:     players("a", "b", "c"),
		Submissions: subs("a", "b"),
		Votes:       map[string]string{"a": "a", "b": "c", "x": "a"},
		RoundNumber: 1,
	})

	assert.Empty(t, res.Winner)
	assert.Empty(t, res.VoteCounts)
	for id, s := range res.Scores {
		assert.Zero(t, s, id)
	}
}

func TestScore_TieGoesToEarliestSubmission(t *testing.T) {
	res := DefaultEngine().Score(Input{
		Players:     players("a", "b", "c", "d"),
		Submissions: subs("c", "a", "b", "d"),
		Votes:       map[string]string{"a": "b", "b": "c", "d": "a", "c": "b"},
		RoundNumber: 1,
	})
	// b has two votes; no tie.
	assert.Equal(t, "b", res.Winner)

	res = DefaultEngine().Score(Input{
		Players:     players("a", "b", "c"),
		Submissions: subs("c", "a", "b"),
		Votes:       map[string]string{"a": "c", "c": "a"},
		RoundNumber: 1,
	})
	assert.Equal(t, "c", res.Winner, "c submitted first")
}

func TestScore_StreakBonusAccumulatesAndScoresNeverDrop(t *testing.T) {
	e := DefaultEngine()
	ps := players("a", "b", "c")
	scores := map[string]int{}
	streaks := map[string]domain.Streak{}
	prevTotal := 0

	for round := 1; round <= 3; round++ {
		res := e.Score(Input{
			Players:     ps,
			Submissions: subs("a", "b", "c"),
			Votes:       map[string]string{"b": "a", "c": "a"},
			RoundNumber: round,
			Scores:      scores,
			Streaks:     streaks,
		})
		total := 0
		for id, s := range res.Scores {
			assert.GreaterOrEqual(t, s, scores[id])
			total += s
		}
		assert.Greater(t, total, prevTotal)
		prevTotal = total
		scores, streaks = res.Scores, res.Streaks
	}

	require.Equal(t, 3, streaks["a"].Current)
	assert.Equal(t, 3, streaks["a"].Best)
	perRound := 2*e.PointsPerVote + e.WinnerBonus
	assert.Equal(t, 3*perRound+e.StreakBonus*(0+1+2), scores["a"])
}

func TestScore_StreakBreaksAfterMissedRound(t *testing.T) {
	e := DefaultEngine()
	res := e.Score(Input{
		Players:     players("a", "b"),
		Submissions: subs("a", "b"),
		Votes:       map[string]string{"b": "a"},
		RoundNumber: 4,
		Streaks:     map[string]domain.Streak{"a": {Current: 2, Best: 2, LastWonRound: 2}},
	})
	assert.Equal(t, domain.Streak{Current: 1, Best: 2, LastWonRound: 4}, res.Streaks["a"])
}

func TestScore_DoesNotMutateInput(t *testing.T) {
	scores := map[string]int{"a": 10}
	DefaultEngine().Score(Input{
		Players:     players("a", "b"),
		Submissions: subs("a", "b"),
		Votes:       map[string]string{"b": "a"},
		RoundNumber: 1,
		Scores:      scores,
	})
	assert.Equal(t, map[string]int{"a": 10}, scores)
}

func TestTally(t *testing.T) {
	ps := players("a", "b", "c")
	results := Tally(ps, subs("a", "b", "c"), map[string]string{"b": "a", "c": "a", "a": "b"}, "a")

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].PlayerID)
	assert.Equal(t, 2, results[0].VoteCount)
	assert.Equal(t, []string{"name-b", "name-c"}, results[0].VotedBy)
	assert.True(t, results[0].IsWinner)
	assert.Equal(t, "b", results[1].PlayerID)
	assert.Equal(t, 0, results[2].VoteCount)
}
