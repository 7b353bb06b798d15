package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/lockbreak/internal/client"
	"github.com/DoyleJ11/lockbreak/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lockbreak:", err)
		os.Exit(1)
	}
}

// run plays one session, reading commands from in until quit, end of input,
// a lost connection or ctx ending.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadClient(args)
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dctx, dcancel := context.WithTimeout(ctx, 5*time.Second)
	p, err := client.Dial(dctx, cfg.Addr(), client.Options{Logger: log, AttemptLimit: time.Minute})
	dcancel()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Join(cfg.Name, cfg.Glyph); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ui := &console{p: p, w: out, now: time.Now}
	fmt.Fprintln(ui.w, helpText)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
			ui.update()
			fmt.Fprintln(ui.w, "connection lost")
			return p.Close()
		case line, ok := <-lines:
			if !ok || ui.exec(line) {
				return nil
			}
		case <-p.Inbox().Ready():
			ui.update()
		case <-tick.C:
			ui.update()
		}
	}
}
