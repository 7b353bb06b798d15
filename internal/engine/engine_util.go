package engine

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"
)

type Difficulty int

const (
	Easy Difficulty = iota
	Medium
	Hard
)

var difficultyNames = map[Difficulty]string{Easy: "easy", Medium: "medium", Hard: "hard"}

func (d Difficulty) String() string {
	if n, ok := difficultyNames[d]; ok {
		return n
	}
	return fmt.Sprintf("difficulty(%d)", int(d))
}

func (d Difficulty) MarshalText() ([]byte, error) {
	n, ok := difficultyNames[d]
	if !ok {
		return nil, fmt.Errorf("unknown difficulty %d", int(d))
	}
	return []byte(n), nil
}

func (d *Difficulty) UnmarshalText(b []byte) error {
	for k, n := range difficultyNames {
		if n == string(b) {
			*d = k
			return nil
		}
	}
	return fmt.Errorf("unknown difficulty %q", b)
}

// RequiredWPM is the speed a lock of each tier demands.
var RequiredWPM = map[Difficulty]float64{Easy: 40, Medium: 60, Hard: 80}

// TargetLength is the inclusive character window for each tier's text.
var TargetLength = map[Difficulty][2]int{Easy: {5, 15}, Medium: {10, 20}, Hard: {15, 25}}

const fallbackTarget = "Couldn't find string, now have fun TyPinG tHis iNSteAd!"

// WPM converts typed characters over elapsed time into words per minute,
// counting five characters as a word. Rounded to one decimal.
func WPM(chars int, elapsed time.Duration) float64 {
	if chars <= 0 || elapsed <= 0 {
		return 0
	}
	wpm := (float64(chars) / 5) / elapsed.Minutes()
	return math.Round(wpm*10) / 10
}

// Points is the reward for a target of length characters at the given speed.
func Points(length int, wpm float64) int {
	if wpm <= 0 {
		return 0
	}
	return int(math.Round(float64(length) / wpm * 25))
}

// PhraseSource supplies candidate target texts.
type PhraseSource interface {
	Phrases() []string
}

type PhraseList []string

func (p PhraseList) Phrases() []string { return p }

// DefaultPhrases stands in for a real sentence corpus.
var DefaultPhrases = PhraseList{
	"Go on.", "It is late.", "Call me soon.", "Keep it up!", "Not yet.", "Well said.",
	"The sea was calm.", "I'll be there.", "Come in, sit down.", "Who knows?",
	"She opened the door.", "What a strange day.", "The fire is out.", "Look, it's snowing.",
	"He laughed at the joke.", "Time waits for no one.", "The ship left at dawn.",
	"We walked along the river.", "Rain fell through the night.", "Bring the lantern here.",
	"They sat by the old well.", "A letter came this morning.", "The dog won't stop barking.",
	"Stars filled the quiet sky.", "She hummed a little song.", "Nobody heard the bell.",
}

// Generate creates a rows x cols grid: each lock gets a random tier, a target
// within that tier's length window (without repeats while possible), the tier's
// required speed and the matching reward.
func Generate(rows, cols int, rng *rand.Rand, src PhraseSource) (*Grid, error) {
	if src == nil {
		src = DefaultPhrases
	}
	phrases := src.Phrases()
	used := make(map[string]bool)
	locks := make([]Lock, rows*cols)

	for i := range locks {
		d := Difficulty(rng.Intn(len(difficultyNames)))
		target := pickTarget(phrases, TargetLength[d], used, rng)
		used[target] = true
		wpm := RequiredWPM[d]
		locks[i] = Lock{
			ID:          i,
			Difficulty:  d,
			Target:      target,
			RequiredWPM: wpm,
			Reward:      Points(utf8.RuneCountInString(target), wpm),
		}
	}
	return NewGrid(rows, cols, locks)
}

func pickTarget(phrases []string, window [2]int, used map[string]bool, rng *rand.Rand) string {
	var fits, fresh []string
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		n := utf8.RuneCountInString(p)
		if n < window[0] || n > window[1] {
			continue
		}
		fits = append(fits, p)
		if !used[p] {
			fresh = append(fresh, p)
		}
	}
	switch {
	case len(fresh) > 0:
		return fresh[rng.Intn(len(fresh))]
	case len(fits) > 0:
		return fits[rng.Intn(len(fits))]
	default:
		return fallbackTarget
	}
}
