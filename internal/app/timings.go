package app

import (
	"time"

	"memematch/internal/domain"
	"memematch/internal/timer"
)

// Timings holds every duration the controller and hub run on
type Timings struct {
	Countdown        time.Duration
	Submission       time.Duration
	Voting           time.Duration
	Results          time.Duration
	Leaderboard      time.Duration
	MinSubmission    time.Duration // Floor before all-submitted can end the phase early
	TickInterval     time.Duration
	HeartbeatTimeout time.Duration
	PresenceInterval time.Duration
	PresenceWindow   time.Duration
	StallGrace       time.Duration
}

// DefaultTimings returns the standard game pacing
func DefaultTimings() Timings {
	return Timings{
		Countdown:        5 * time.Second,
		Submission:       60 * time.Second,
		Voting:           30 * time.Second,
		Results:          10 * time.Second,
		Leaderboard:      8 * time.Second,
		MinSubmission:    10 * time.Second,
		TickInterval:     time.Second,
		HeartbeatTimeout: timer.DefaultHeartbeatTimeout,
		PresenceInterval: 10 * time.Second,
		PresenceWindow:   30 * time.Second,
		StallGrace:       30 * time.Second,
	}
}

// PhaseDuration returns how long a timed phase runs
func (t Timings) PhaseDuration(p domain.Phase) time.Duration {
	switch p {
	case domain.PhaseCountdown:
		return t.Countdown
	case domain.PhaseSubmission:
		return t.Submission
	case domain.PhaseVoting:
		return t.Voting
	case domain.PhaseResults:
		return t.Results
	case domain.PhaseLeaderboard:
		return t.Leaderboard
	}
	return 0
}

// Seconds returns the phase duration in whole seconds, for timeLeft
func (t Timings) Seconds(p domain.Phase) int {
	return int(t.PhaseDuration(p) / time.Second)
}
