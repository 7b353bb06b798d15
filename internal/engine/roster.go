package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

const (
	DefaultPlayerName = "player"
	DefaultGlyph      = "★"
)

// Player is one roster entry in portable form.
type Player struct {
	Glyph       string `json:"icon"`
	Score       int    `json:"score"`
	LocksBroken int    `json:"locks_broken"`
	Order       int    `json:"order"`
}

// Roster keeps per-player scoreboard entries in join order.
type Roster struct {
	mu      sync.Mutex
	players map[string]*Player
	order   []string
	seq     int
}

func NewRoster() *Roster {
	return &Roster{players: make(map[string]*Player)}
}

// Add admits a player under the requested identity, suffixing it when the
// identity is taken. It returns the identity actually assigned.
func (r *Roster) Add(requested, glyph string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := strings.TrimSpace(requested)
	if base == "" {
		base = DefaultPlayerName
	}
	if strings.TrimSpace(glyph) == "" {
		glyph = DefaultGlyph
	}
	id := base
	for n := 2; r.players[id] != nil; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}

	r.seq++
	r.players[id] = &Player{Glyph: glyph, Order: r.seq}
	r.order = append(r.order, id)
	return id
}

func (r *Roster) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players[id] == nil {
		return false
	}
	delete(r.players, id)
	for i, p := range r.order {
		if p == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Roster) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[id] != nil
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// First returns the earliest-joined remaining player, or "" when empty.
func (r *Roster) First() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// IDs returns identities in join order.
func (r *Roster) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// RecordBreak credits a successful break returned by Grid.Break.
func (r *Roster) RecordBreak(id string, points int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players[id]
	if p == nil {
		return false
	}
	p.Score += points
	p.LocksBroken++
	return true
}

func (r *Roster) Get(id string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.players[id]
	if p == nil {
		return Player{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every entry keyed by identity.
func (r *Roster) Snapshot() map[string]Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Player, len(r.players))
	for id, p := range r.players {
		out[id] = *p
	}
	return out
}

// Standing is one scoreboard row.
type Standing struct {
	ID string
	Player
}

// Standings orders players by score, highest first, breaking ties by join order.
func Standings(players map[string]Player) []Standing {
	out := make([]Standing, 0, len(players))
	for id, p := range players {
		out = append(out, Standing{ID: id, Player: p})
	}
	slices.SortFunc(out, func(a, b Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Order, b.Order)
	})
	return out
}
