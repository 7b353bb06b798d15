package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/DoyleJ11/lockbreak/internal/client"
	"github.com/DoyleJ11/lockbreak/internal/engine"
	"github.com/DoyleJ11/lockbreak/internal/protocol"
)

const helpText = `commands:
  start             start the match (host only)
  claim N           claim lock N and start typing
  break N <text>    submit text for lock N
  unclaim N         give lock N back
  grid              show the grid
  scores            show the scoreboard
  quit              leave`

type verb string

const (
	verbStart   verb = "start"
	verbClaim   verb = "claim"
	verbBreak   verb = "break"
	verbUnclaim verb = "unclaim"
	verbGrid    verb = "grid"
	verbScores  verb = "scores"
	verbHelp    verb = "help"
	verbQuit    verb = "quit"
)

type command struct {
	verb   verb
	lockID int
	text   string
}

var errUsage = errors.New("unknown command, type help")

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errUsage
	}
	parts := strings.SplitN(line, " ", 3)
	v := verb(strings.ToLower(parts[0]))

	switch v {
	case verbStart, verbGrid, verbScores, verbHelp, verbQuit:
		return command{verb: v}, nil
	case verbClaim, verbUnclaim, verbBreak:
		if len(parts) < 2 {
			return command{}, fmt.Errorf("%s needs a lock number", v)
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: lock %q is not a number", v, parts[1])
		}
		c := command{verb: v, lockID: id}
		if v == verbBreak {
			if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
				return command{}, errors.New("break needs the typed text")
			}
			c.text = parts[2]
		}
		return c, nil
	default:
		return command{}, errUsage
	}
}

// console turns proxy state into text lines.
type console struct {
	p     *client.Proxy
	w     io.Writer
	phase engine.Phase
	now   func() time.Time
}

// exec runs one command line and reports whether the user asked to quit.
func (c *console) exec(line string) bool {
	cmd, err := parseCommand(line)
	if err != nil {
		fmt.Fprintln(c.w, err)
		return false
	}

	switch cmd.verb {
	case verbQuit:
		return true
	case verbHelp:
		fmt.Fprintln(c.w, helpText)
	case verbGrid:
		c.printGrid()
	case verbScores:
		c.printScores()
	case verbStart:
		if !c.p.IsHost() {
			fmt.Fprintln(c.w, "only the host can start; host is", c.p.Host())
			return false
		}
		c.report(c.p.Start())
	case verbClaim:
		if c.phase != engine.PhaseActive {
			fmt.Fprintln(c.w, "the match is not running")
			return false
		}
		if err := c.p.Claim(cmd.lockID); err != nil {
			c.report(err)
			return false
		}
		if g, ok := c.p.Grid(); ok && cmd.lockID >= 0 && cmd.lockID < len(g.Locks) {
			l := g.Locks[cmd.lockID]
			fmt.Fprintf(c.w, "type this at %.0f wpm: %s\n", l.RequiredWPM, l.Target)
		}
	case verbBreak:
		wpm, err := c.p.Break(cmd.lockID, cmd.text)
		if err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintf(c.w, "submitted at %.1f wpm\n", wpm)
	case verbUnclaim:
		c.report(c.p.Unclaim(cmd.lockID))
	}
	return false
}

func (c *console) report(err error) {
	if err != nil {
		fmt.Fprintln(c.w, "error:", err)
	}
}

// update drains the proxy and prints what changed.
func (c *console) update() {
	_, hadAttempt := c.p.Attempt()
	phase, msgs := c.p.Update()
	for _, m := range msgs {
		c.describe(m)
	}
	if _, ok := c.p.Attempt(); hadAttempt && !ok {
		fmt.Fprintln(c.w, "lock no longer available")
	}
	if phase != c.phase {
		c.phase = phase
		c.announce(phase)
	}
}

func (c *console) describe(m protocol.Message) {
	switch msg := m.(type) {
	case *protocol.JoinAck:
		fmt.Fprintln(c.w, "joined as", msg.UserID)
	case *protocol.LobbyUpdate:
		fmt.Fprintf(c.w, "lobby: %d players, host %s\n", len(msg.Players), msg.HostID)
	case *protocol.StartGame:
		fmt.Fprintf(c.w, "match starts in %ds and lasts %ds\n", msg.CountdownSeconds, msg.GameTime)
	case *protocol.ClaimResult:
		if !msg.Success {
			fmt.Fprintln(c.w, "lock already claimed")
		}
	case *protocol.BreakResult:
		if msg.Success {
			fmt.Fprintf(c.w, "unlocked! +%d pts\n", msg.Points)
		} else {
			fmt.Fprintln(c.w, "failed to unlock")
		}
	case *protocol.Error:
		fmt.Fprintln(c.w, "server:", msg.Message)
	}
}

func (c *console) announce(phase engine.Phase) {
	switch phase {
	case engine.PhaseCountdown:
		fmt.Fprintln(c.w, "get ready...")
	case engine.PhaseActive:
		fmt.Fprintln(c.w, "go!")
		c.printGrid()
	case engine.PhaseEnded:
		fmt.Fprintln(c.w, "match over")
		c.printScores()
	}
}

func (c *console) printGrid() {
	g, ok := c.p.Grid()
	if !ok {
		fmt.Fprintln(c.w, "no grid yet")
		return
	}
	tw := tabwriter.NewWriter(c.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCK\tTIER\tWPM\tPTS\tSTATE\tTARGET")
	for _, l := range g.Locks {
		state := string(l.State())
		switch l.State() {
		case engine.LockClaimed:
			state = "claimed by " + l.ClaimedBy
		case engine.LockBroken:
			state = "broken by " + l.BrokenBy
		}
		fmt.Fprintf(tw, "%d\t%s\t%.0f\t%d\t%s\t%s\n", l.ID, l.Difficulty, l.RequiredWPM, l.Reward, state, l.Target)
	}
	tw.Flush()

	left := c.p.Schedule().TimeLeft(c.now())
	fmt.Fprintf(c.w, "%d of %d locks remain, %s left\n", g.Remaining, len(g.Locks), left.Round(time.Second))
}

func (c *console) printScores() {
	standings := engine.Standings(c.p.Players())
	tw := tabwriter.NewWriter(c.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPLAYER\tSCORE\tLOCKS")
	for i, s := range standings {
		name := s.Glyph + " " + s.ID
		if s.ID == c.p.ID() {
			name += " (you)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", i+1, name, s.Score, s.LocksBroken)
	}
	tw.Flush()
}
