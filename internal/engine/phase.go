package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrIllegalTransition = errors.New("illegal phase transition")

type Phase string

const (
	PhaseLobby     Phase = "lobby"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseEnded     Phase = "ended"
)

// PhaseOrder lists the legal forward moves. Each phase has exactly one successor.
var PhaseOrder = map[Phase]Phase{
	PhaseLobby:     PhaseCountdown,
	PhaseCountdown: PhaseActive,
	PhaseActive:    PhaseEnded,
}

var phaseRank = map[Phase]int{PhaseLobby: 0, PhaseCountdown: 1, PhaseActive: 2, PhaseEnded: 3}

// Before reports whether p comes earlier than q in a match.
func (p Phase) Before(q Phase) bool { return phaseRank[p] < phaseRank[q] }

func (p Phase) Next() (Phase, bool) {
	n, ok := PhaseOrder[p]
	return n, ok
}

// Advance moves p to to if that is its successor.
func Advance(p, to Phase) (Phase, error) {
	if n, ok := p.Next(); ok && n == to {
		return to, nil
	}
	return p, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p, to)
}

// Started reports whether the match has left the lobby. It never reverts.
func (p Phase) Started() bool { return p != PhaseLobby && p != "" }

// Schedule is the wall-clock plan announced by start_game. Both the authority
// and every client derive Countdown/Active/Ended from it with their own clock.
type Schedule struct {
	StartedAt time.Time
	Countdown time.Duration
	Duration  time.Duration
}

func (s Schedule) ActiveAt() time.Time { return s.StartedAt.Add(s.Countdown) }
func (s Schedule) EndsAt() time.Time   { return s.ActiveAt().Add(s.Duration) }

// PhaseAt derives the phase at now. remaining is the grid's unbroken count;
// a cleared grid ends the match early.
func (s Schedule) PhaseAt(now time.Time, remaining int) Phase {
	switch {
	case s.StartedAt.IsZero():
		return PhaseLobby
	case now.Before(s.ActiveAt()):
		return PhaseCountdown
	case remaining <= 0 || !now.Before(s.EndsAt()):
		return PhaseEnded
	default:
		return PhaseActive
	}
}

// TimeLeft is the remaining game time at now, clamped to zero.
func (s Schedule) TimeLeft(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return s.Duration
	}
	if now.Before(s.ActiveAt()) {
		return s.Duration
	}
	left := s.EndsAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
