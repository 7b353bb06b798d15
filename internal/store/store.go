package store

import (
	"context"
	"time"

	"github.com/DoyleJ11/lockbreak/internal/engine"
)

// PlayerResult is one final scoreboard row.
type PlayerResult struct {
	Rank        int
	Player      string
	Glyph       string
	Score       int
	LocksBroken int
}

// MatchResult is what a finished session hands to a Recorder.
type MatchResult struct {
	ID          string
	Code        string
	StartedAt   time.Time
	EndedAt     time.Time
	LocksTotal  int
	LocksBroken int
	Players     []PlayerResult
}

// Recorder archives finished matches. Nothing is ever read back into a session.
type Recorder interface {
	RecordMatch(ctx context.Context, res MatchResult) error
}

type Nop struct{}

func (Nop) RecordMatch(context.Context, MatchResult) error { return nil }

// ResultsFrom builds the scoreboard rows of a match from a roster snapshot.
func ResultsFrom(players map[string]engine.Player) []PlayerResult {
	standings := engine.Standings(players)
	out := make([]PlayerResult, len(standings))
	for i, s := range standings {
		out[i] = PlayerResult{
			Rank:        i + 1,
			Player:      s.ID,
			Glyph:       s.Glyph,
			Score:       s.Score,
			LocksBroken: s.LocksBroken,
		}
	}
	return out
}
