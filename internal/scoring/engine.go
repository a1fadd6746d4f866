// Package scoring turns a round's votes into cumulative scores.
package scoring

import (
	"sort"

	"memematch/internal/domain"
)

// Input is everything the engine needs for one round
type Input struct {
	Players     map[string]domain.Player
	Submissions map[string]domain.Submission
	Votes       map[string]string
	RoundNumber int
	Scores      map[string]int
	Streaks     map[string]domain.Streak
}

// Result carries the updated cumulative state
type Result struct {
	Scores     map[string]int
	Streaks    map[string]domain.Streak
	Winner     string
	VoteCounts map[string]int
}

// Engine scores rounds. Points are never negative so totals only grow.
type Engine struct {
	PointsPerVote int
	WinnerBonus   int
	StreakBonus   int
}

// DefaultEngine returns the standard point values
func DefaultEngine() Engine {
	return Engine{
		PointsPerVote: 100,
		WinnerBonus:   50,
		StreakBonus:   25,
	}
}

// Score applies one round of votes on top of the prior scores and streaks
func (e Engine) Score(in Input) Result {
	res := Result{
		Scores:     make(map[string]int, len(in.Players)),
		Streaks:    make(map[string]domain.Streak, len(in.Players)),
		VoteCounts: make(map[string]int),
	}
	for id, s := range in.Scores {
		res.Scores[id] = s
	}
	for id, s := range in.Streaks {
		res.Streaks[id] = s
	}
	for id := range in.Players {
		if _, ok := res.Scores[id]; !ok {
			res.Scores[id] = 0
		}
	}

	for voter, target := range in.Votes {
		if voter == target {
			continue
		}
		if _, ok := in.Submissions[target]; !ok {
			continue
		}
		if _, ok := in.Players[voter]; !ok {
			continue
		}
		res.VoteCounts[target]++
	}

	for target, n := range res.VoteCounts {
		res.Scores[target] += n * max(e.PointsPerVote, 0)
	}

	res.Winner = e.pickWinner(res.VoteCounts, in.Submissions)

	for id := range in.Players {
		streak := res.Streaks[id]
		if id != res.Winner {
			streak.Current = 0
			res.Streaks[id] = streak
			continue
		}
		if streak.LastWonRound == in.RoundNumber-1 && streak.Current > 0 {
			streak.Current++
		} else {
			streak.Current = 1
		}
		streak.LastWonRound = in.RoundNumber
		if streak.Current > streak.Best {
			streak.Best = streak.Current
		}
		res.Streaks[id] = streak
		res.Scores[id] += max(e.WinnerBonus, 0) + max(e.StreakBonus, 0)*(streak.Current-1)
	}

	return res
}

// pickWinner returns the most voted submission owner; ties go to the earliest
// submission, then the lowest id. No votes means no winner.
func (e Engine) pickWinner(counts map[string]int, subs map[string]domain.Submission) string {
	ids := make([]string, 0, len(counts))
	for id, n := range counts {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if subs[a].SubmittedAt != subs[b].SubmittedAt {
			return subs[a].SubmittedAt < subs[b].SubmittedAt
		}
		return a < b
	})
	return ids[0]
}

// Tally builds per-submission results for display
func Tally(players map[string]domain.Player, subs map[string]domain.Submission, votes map[string]string, winner string) []domain.VoteResult {
	voters := make(map[string][]string)
	for voter, target := range votes {
		if voter == target {
			continue
		}
		name := voter
		if p, ok := players[voter]; ok {
			name = p.Name
		}
		voters[target] = append(voters[target], name)
	}

	results := make([]domain.VoteResult, 0, len(subs))
	for id, sub := range subs {
		sort.Strings(voters[id])
		name := id
		if p, ok := players[id]; ok {
			name = p.Name
		}
		results = append(results, domain.VoteResult{
			PlayerID:  id,
			Name:      name,
			CardID:    sub.CardID,
			VoteCount: len(voters[id]),
			VotedBy:   voters[id],
			IsWinner:  id == winner,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].VoteCount != results[j].VoteCount {
			return results[i].VoteCount > results[j].VoteCount
		}
		return results[i].PlayerID < results[j].PlayerID
	})
	return results
}
