package engine

import (
	"errors"
	"fmt"
	"sync"
)

var ErrLockOutOfRange = errors.New("lock id out of range")
var ErrBadSnapshot = errors.New("invalid grid snapshot")

// Lock is one grid cell. The struct doubles as its portable (wire) form;
// only Grid mutates the copy it owns.
type Lock struct {
	ID          int        `json:"lock_id"`
	Difficulty  Difficulty `json:"difficulty"`
	Target      string     `json:"target"`
	RequiredWPM float64    `json:"required_wpm"`
	Reward      int        `json:"reward"`
	ClaimedBy   string     `json:"claimed_by_user,omitempty"`
	Broken      bool       `json:"broken"`
	BrokenBy    string     `json:"broken_by,omitempty"`
}

type LockState string

const (
	LockOpen    LockState = "open"
	LockClaimed LockState = "claimed"
	LockBroken  LockState = "broken"
)

func (l Lock) State() LockState {
	switch {
	case l.Broken:
		return LockBroken
	case l.ClaimedBy != "":
		return LockClaimed
	default:
		return LockOpen
	}
}

// GridSnapshot is the portable form of a whole Grid.
type GridSnapshot struct {
	Rows      int    `json:"rows"`
	Cols      int    `json:"cols"`
	Locks     []Lock `json:"locks"`
	Remaining int    `json:"remaining_locks"`
}

// Grid owns every Lock of a session and the count of locks not yet broken.
// All methods are safe for concurrent use; each one is a single critical section.
type Grid struct {
	mu        sync.Mutex
	rows      int
	cols      int
	locks     []Lock
	remaining int
}

// NewGrid builds a grid from freshly generated locks. Ids are reassigned to
// match the row-major index and ownership fields are cleared.
func NewGrid(rows, cols int, locks []Lock) (*Grid, error) {
	if rows <= 0 || cols <= 0 || len(locks) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d grid with %d locks", ErrBadSnapshot, rows, cols, len(locks))
	}
	g := &Grid{rows: rows, cols: cols, locks: make([]Lock, len(locks))}
	for i, l := range locks {
		l.ID = i
		l.ClaimedBy = ""
		l.Broken = false
		l.BrokenBy = ""
		g.locks[i] = l
	}
	g.remaining = len(locks)
	return g, nil
}

// FromSnapshot reconstructs a grid from its portable form.
func FromSnapshot(s GridSnapshot) (*Grid, error) {
	if s.Rows <= 0 || s.Cols <= 0 || len(s.Locks) != s.Rows*s.Cols {
		return nil, fmt.Errorf("%w: %dx%d grid with %d locks", ErrBadSnapshot, s.Rows, s.Cols, len(s.Locks))
	}
	g := &Grid{rows: s.Rows, cols: s.Cols, locks: make([]Lock, len(s.Locks))}
	for i, l := range s.Locks {
		if l.ID != i {
			return nil, fmt.Errorf("%w: lock at index %d has id %d", ErrBadSnapshot, i, l.ID)
		}
		if l.Broken {
			// broken locks are never claimed and have paid out
			l.ClaimedBy = ""
			l.Reward = 0
		} else {
			g.remaining++
		}
		g.locks[i] = l
	}
	return g, nil
}

// Snapshot returns a deep copy of the grid in portable form.
func (g *Grid) Snapshot() GridSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	locks := make([]Lock, len(g.locks))
	copy(locks, g.locks)
	return GridSnapshot{Rows: g.rows, Cols: g.cols, Locks: locks, Remaining: g.remaining}
}

func (g *Grid) Rows() int { return g.rows }
func (g *Grid) Cols() int { return g.cols }
func (g *Grid) Size() int { return len(g.locks) }

func (g *Grid) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

// Lock returns a copy of the lock with the given id.
func (g *Grid) Lock(id int) (Lock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(id); err != nil {
		return Lock{}, err
	}
	return g.locks[id], nil
}

// Claim grants provisional ownership of an open lock. Re-claiming a lock the
// player already holds succeeds without change.
func (g *Grid) Claim(id int, player string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(id); err != nil {
		return false, err
	}
	l := &g.locks[id]
	if l.Broken || player == "" {
		return false, nil
	}
	if l.ClaimedBy != "" && l.ClaimedBy != player {
		return false, nil
	}
	l.ClaimedBy = player
	return true, nil
}

// Unclaim releases a lock held by player.
func (g *Grid) Unclaim(id int, player string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(id); err != nil {
		return false, err
	}
	l := &g.locks[id]
	if l.Broken || player == "" || l.ClaimedBy != player {
		return false, nil
	}
	l.ClaimedBy = ""
	return true, nil
}

// Break resolves an attempt on a lock held by player. A correct submission at
// or above the required speed breaks the lock and returns its reward; any
// other submission from the holder releases the lock. Requests from a player
// that does not hold the lock change nothing.
func (g *Grid) Break(id int, submitted string, speed float64, player string) (bool, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(id); err != nil {
		return false, 0, err
	}
	l := &g.locks[id]
	if l.Broken || player == "" || l.ClaimedBy != player {
		return false, 0, nil
	}
	l.ClaimedBy = ""
	if !TextMatches(submitted, l.Target) || speed < l.RequiredWPM {
		return false, 0, nil
	}
	points := l.Reward
	l.Reward = 0
	l.Broken = true
	l.BrokenBy = player
	g.remaining--
	return true, points, nil
}

// ReleaseAll clears every claim held by player and returns the released ids.
func (g *Grid) ReleaseAll(player string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var released []int
	if player == "" {
		return released
	}
	for i := range g.locks {
		if g.locks[i].ClaimedBy == player {
			g.locks[i].ClaimedBy = ""
			released = append(released, i)
		}
	}
	return released
}

// Replace overwrites one lock from an authoritative copy. Client replicas use
// it to apply a single-lock result without waiting for the next full update.
// A broken lock is terminal and is never overwritten.
func (g *Grid) Replace(l Lock) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(l.ID); err != nil {
		return err
	}
	if g.locks[l.ID].Broken {
		return nil
	}
	if l.Broken {
		l.ClaimedBy = ""
		l.Reward = 0
		g.remaining--
	}
	g.locks[l.ID] = l
	return nil
}

func (g *Grid) checkLocked(id int) error {
	if id < 0 || id >= len(g.locks) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrLockOutOfRange, id, len(g.locks))
	}
	return nil
}
