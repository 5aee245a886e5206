// cmd/arcade/main.go
//
// This is the entry point for the arcade client.
//
// Flow:
// 1. Initialize .arcade/ in the project directory and load its config
// 2. Wire the session client (websocket remote, or a scripted loopback with -offline)
// 3. Run the bubbletea TUI, or the plain run loop with -headless

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/arcade/internal/client"
	"github.com/kingrea/arcade/internal/config"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/logbook"
	"github.com/kingrea/arcade/internal/runloop"
	"github.com/kingrea/arcade/internal/tui"
)

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
		os.Exit(1)
	}
	projectDir := flag.String("project", cwd, "project directory holding .arcade/")
	offline := flag.Bool("offline", false, "answer session requests from a local script instead of the remote service")
	headless := flag.Bool("headless", false, "run one automated session without the terminal UI")
	difficulty := flag.String("difficulty", "", "headless: difficulty to start (defaults to the first configured)")
	play := flag.Duration("play", 5*time.Second, "headless: active play time before game over")
	flag.Parse()

	if err := config.InitProjectDir(*projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .arcade directory: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.NewConfig(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	book, err := logbook.Open(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	book.Info("Client starting · offline=%t headless=%t", *offline, *headless)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless {
		err = runHeadless(ctx, cfg, book, *offline, *difficulty, *play)
	} else {
		err = runTUI(cfg, book, *offline)
	}
	if err != nil {
		book.Error("Client stopped: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	book.Info("Client stopped")
}

func runTUI(cfg *config.Config, book *logbook.Logbook, offline bool) error {
	sched := tui.NewScheduler()
	c, err := client.New(client.Options{
		Config:    cfg,
		Logbook:   book,
		Scheduler: sched,
		Offline:   offline,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	app := tui.NewApp(c, sched, cfg.Project.Session.TickInterval)
	defer app.Close()
	p := tea.NewProgram(app, tea.WithAltScreen())
	sched.Attach(p)
	defer sched.Attach(nil)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func runHeadless(ctx context.Context, cfg *config.Config, book *logbook.Logbook, offline bool, difficulty string, play time.Duration) error {
	return playHeadless(ctx, client.Options{
		Config:  cfg,
		Logbook: book,
		Offline: offline,
	}, difficulty, play)
}

// playHeadless runs one automated session on a plain run loop. It returns
// once the session hands control back to the host or ctx ends.
func playHeadless(ctx context.Context, opts client.Options, difficulty string, play time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, book := opts.Config, opts.Logbook
	loop := runloop.New(runloop.WithTickInterval(cfg.Project.Session.TickInterval))
	opts.Scheduler = loop
	opts.OnExit = cancel
	c, err := client.New(opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if difficulty == "" {
		difficulty = cfg.Difficulties()[0]
	}
	orch := c.Session()
	started, over := false, false
	sub := c.States().Subscribe(func(state lifecycle.State) {
		switch state {
		case lifecycle.StateMainMenu:
			if started {
				return
			}
			started = true
			loop.Post(func() {
				if err := orch.StartSession(difficulty); err != nil {
					book.Warn("headless start: %v", err)
				}
			})
		case lifecycle.StateGameOver:
			if c.RemoteOptions() {
				return
			}
			loop.Post(func() {
				if err := orch.RequestEnd(true); err != nil {
					book.Warn("headless end: %v", err)
				}
			})
		case lifecycle.StateError:
			fault, _ := c.Faults().Last()
			book.Error("headless session failed: %d %s", fault.Code, fault.Message)
			loop.Post(func() {
				// An end timeout hands off on its own right after raising.
				if orch.Exits() > 0 {
					return
				}
				orch.ExitWithError()
			})
		}
	})
	defer c.States().Unsubscribe(sub)

	loop.OnTick(func(dt time.Duration) {
		c.Tick(dt)
		if !over && c.States().Is(lifecycle.StateInGame) && orch.ElapsedActiveTime() >= play {
			over = true
			orch.AddScore(int(orch.ElapsedActiveTime() / time.Second))
			if err := orch.TriggerGameOver(); err != nil {
				book.Warn("headless game over: %v", err)
			}
		}
	})

	go func() {
		if err := c.Boot(ctx); err != nil {
			book.Error("boot: %v", err)
		}
	}()
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fault, raised := c.Faults().Last()
	if raised && fault.Code != 0 {
		return fmt.Errorf("session ended with fault %d: %s", fault.Code, fault.Message)
	}
	return nil
}
