package engine

import (
	"errors"
	"testing"
	"time"
)

func TestAdvance(t *testing.T) {
	cases := []struct {
		name    string
		from    Phase
		to      Phase
		wantErr bool
	}{
		{"lobby to countdown", PhaseLobby, PhaseCountdown, false},
		{"countdown to active", PhaseCountdown, PhaseActive, false},
		{"active to ended", PhaseActive, PhaseEnded, false},
		{"lobby cannot skip to active", PhaseLobby, PhaseActive, true},
		{"ended is terminal", PhaseEnded, PhaseLobby, true},
		{"never back to lobby", PhaseCountdown, PhaseLobby, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Advance(tc.from, tc.to)
			if tc.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("want ErrIllegalTransition, got %v", err)
				}
				if got != tc.from {
					t.Fatalf("failed advance changed phase to %s", got)
				}
				return
			}
			if err != nil || got != tc.to {
				t.Fatalf("got (%s, %v), want %s", got, err, tc.to)
			}
		})
	}
}

func TestSchedule_PhaseAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Schedule{StartedAt: start, Countdown: 3 * time.Second, Duration: time.Minute}

	cases := []struct {
		name      string
		sched     Schedule
		at        time.Duration
		remaining int
		want      Phase
	}{
		{"not started", Schedule{}, 0, 4, PhaseLobby},
		{"counting down", s, time.Second, 4, PhaseCountdown},
		{"active at go", s, 3 * time.Second, 4, PhaseActive},
		{"cleared grid ends early", s, 10 * time.Second, 0, PhaseEnded},
		{"deadline", s, 63 * time.Second, 4, PhaseEnded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sched.PhaseAt(start.Add(tc.at), tc.remaining); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}

	if left := s.TimeLeft(start.Add(33 * time.Second)); left != 30*time.Second {
		t.Fatalf("TimeLeft: got %v", left)
	}
	if left := s.TimeLeft(start.Add(2 * time.Minute)); left != 0 {
		t.Fatalf("TimeLeft after end: got %v", left)
	}
}

func TestPhaseStarted(t *testing.T) {
	if PhaseLobby.Started() {
		t.Fatal("lobby is not started")
	}
	for _, p := range []Phase{PhaseCountdown, PhaseActive, PhaseEnded} {
		if !p.Started() {
			t.Fatalf("%s should count as started", p)
		}
	}
}

func TestPhaseBefore(t *testing.T) {
	order := []Phase{PhaseLobby, PhaseCountdown, PhaseActive, PhaseEnded}
	for i := range order {
		for j := range order {
			if got := order[i].Before(order[j]); got != (i < j) {
				t.Fatalf("%s.Before(%s) = %v", order[i], order[j], got)
			}
		}
	}
}
