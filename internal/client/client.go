// Package client assembles the session components for one run of the game
// client: lifecycle registry, fault router, transport, orchestrator, score
// history and status endpoint. Presentation layers (the TUI or the headless
// loop) own the run loop and drive Tick.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/arcade/internal/bridge"
	"github.com/kingrea/arcade/internal/bridge/loopback"
	"github.com/kingrea/arcade/internal/bridge/wsbridge"
	"github.com/kingrea/arcade/internal/config"
	"github.com/kingrea/arcade/internal/faults"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/logbook"
	"github.com/kingrea/arcade/internal/notify"
	"github.com/kingrea/arcade/internal/runloop"
	"github.com/kingrea/arcade/internal/scoreboard"
	"github.com/kingrea/arcade/internal/session"
	"github.com/kingrea/arcade/internal/statusserver"
)

// OfflineLatency delays scripted answers so offline play still passes
// through the Loading screen.
const OfflineLatency = 300 * time.Millisecond

// Transport is what the client needs from a remote implementation.
type Transport interface {
	bridge.Bridge
	bridge.Handoff
	bridge.Connector
}

// Options configure New.
type Options struct {
	Config    *config.Config
	Logbook   *logbook.Logbook
	Scheduler runloop.Scheduler
	// Offline swaps the websocket remote for a scripted loopback.
	Offline bool
	// Transport overrides the remote entirely (tests).
	Transport Transport
	// OnExit runs after every hand-off back to the host.
	OnExit func()
}

// Client owns the wired components. All methods except Boot and Close run
// on the run loop.
type Client struct {
	cfg    *config.Config
	log    *logbook.Logbook
	sched  runloop.Scheduler
	remote Transport
	ws     *wsbridge.Client
	onExit func()

	states   *lifecycle.Registry
	faults   *faults.Router
	session  *session.Orchestrator
	prompt   *session.OptionsPrompt
	scores   *scoreboard.Store
	recorder *scoreboard.Recorder
	status   *statusserver.Server

	subs      []notify.Subscription
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New wires the components. The registry starts in Loading; call Boot to
// connect and reach the main menu.
func New(opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("client: config is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("client: scheduler is required")
	}
	cfg := opts.Config
	c := &Client{cfg: cfg, log: opts.Logbook, sched: opts.Scheduler, onExit: opts.OnExit}

	c.states = lifecycle.NewRegistry(lifecycle.StateLoading,
		lifecycle.WithLogger(c.log),
		lifecycle.WithMaxReentryDepth(cfg.Project.Session.MaxReentryDepth),
	)
	c.faults = faults.NewRouter(c.states, faults.WithLogger(c.log))

	switch {
	case opts.Transport != nil:
		c.remote = opts.Transport
	case opts.Offline:
		c.remote = offlineRemote()
	default:
		c.ws = wsbridge.New(wsbridge.Settings{
			URL:         cfg.Project.Bridge.URL,
			Origin:      cfg.Project.Bridge.Origin,
			DialTimeout: cfg.Project.Bridge.DialTimeout,
		}, wsbridge.WithLogger(c.log))
		c.remote = c.ws
	}

	orch, err := session.New(session.Dependencies{
		States:    c.states,
		Faults:    c.faults,
		Bridge:    c.remote,
		Handoff:   exitHandoff{next: c.remote, done: c.exited},
		Scheduler: c.sched,
		Connector: c.remote,
	},
		session.WithLogger(c.log),
		session.WithEndAckTimeout(cfg.Project.Session.EndAckTimeout),
	)
	if err != nil {
		return nil, err
	}
	c.session = orch
	if cfg.Project.Session.RemoteOptions {
		c.prompt = session.NewOptionsPrompt(orch)
	}

	scores, err := scoreboard.Open(cfg.ScoreboardPath())
	if err != nil {
		c.closeSession()
		return nil, fmt.Errorf("client: %w", err)
	}
	c.scores = scores
	c.recorder, err = scoreboard.NewRecorder(scores, orch, c.faults, c.sched, scoreboard.WithLogger(c.log))
	if err != nil {
		_ = scores.Close()
		c.closeSession()
		return nil, fmt.Errorf("client: %w", err)
	}

	c.status = statusserver.NewServer(statusserver.SettingsFromConfig(cfg), statusserver.WithLogger(c.log))
	c.subs = append(c.subs, c.states.Subscribe(func(lifecycle.State) { c.publishStatus() }))
	c.publishStatus()
	return c, nil
}

// Boot starts the status endpoint, connects the transport and, for the
// websocket remote, the health check. It may block on the network, so call
// it off the run loop. The connect outcome is applied on the loop.
func (c *Client) Boot(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	if err := c.status.Start(ctx); err != nil && !errors.Is(err, statusserver.ErrDisabled) {
		c.log.Warn("status endpoint: %v", err)
	}
	if err := c.session.Boot(ctx); err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}
	if c.ws != nil {
		c.ws.StartHealthCheck(ctx, c.cfg.Project.Bridge.HealthInterval, func(code int, message string) {
			c.sched.Post(func() {
				c.log.Warn("health check failed (%d %s)", code, message)
				c.faults.Raise(faults.CodeConnectionLost, faults.MessageConnectionLost)
			})
		})
	}
	return nil
}

// Tick advances the session and refreshes the status snapshot.
func (c *Client) Tick(dt time.Duration) {
	c.session.Tick(dt)
	c.publishStatus()
}

// Session returns the orchestrator.
func (c *Client) Session() *session.Orchestrator {
	return c.session
}

// States returns the lifecycle registry.
func (c *Client) States() *lifecycle.Registry {
	return c.states
}

// Faults returns the fault router.
func (c *Client) Faults() *faults.Router {
	return c.faults
}

// Logbook returns the session journal.
func (c *Client) Logbook() *logbook.Logbook {
	return c.log
}

// Difficulties returns the configured difficulty labels.
func (c *Client) Difficulties() []string {
	return c.cfg.Difficulties()
}

// IdleTimeout returns how long a menu screen may go without input before
// the presentation layer signals time's up. Zero disables it.
func (c *Client) IdleTimeout() time.Duration {
	return c.cfg.Project.Session.IdleTimeout
}

// RemoteOptions reports whether the game-over choice is delegated to the
// remote service.
func (c *Client) RemoteOptions() bool {
	return c.prompt != nil
}

// Leaderboard returns the best recorded runs, including any still being
// written.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]scoreboard.Entry, error) {
	c.recorder.Wait()
	return c.scores.Top(ctx, "", limit)
}

// Close releases subscriptions in reverse order of creation, stops the
// status endpoint and closes the transport and score store.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		for i := len(c.subs) - 1; i >= 0; i-- {
			c.states.Unsubscribe(c.subs[i])
		}
		c.recorder.Close()
		c.closeSession()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.status.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if c.ws != nil {
			if err := c.ws.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.scores.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (c *Client) closeSession() {
	if c.prompt != nil {
		c.prompt.Close()
	}
	c.session.Close()
}

func (c *Client) publishStatus() {
	c.status.Publish(c.session.Snapshot())
}

func (c *Client) exited() {
	if c.onExit != nil {
		c.onExit()
	}
}

// exitHandoff forwards to the transport and then tells the owner the
// session has been handed back.
type exitHandoff struct {
	next bridge.Handoff
	done func()
}

func (h exitHandoff) ReturnToSystem() {
	h.next.ReturnToSystem()
	h.done()
}

func (h exitHandoff) ReturnToSystemWithError(code int, message string) {
	h.next.ReturnToSystemWithError(code, message)
	h.done()
}

func offlineRemote() *loopback.Remote {
	return loopback.New(
		loopback.WithLatency(OfflineLatency),
		loopback.WithScript(bridge.OpLevelBegin, loopback.Reply{}),
		loopback.WithScript(bridge.OpLevelEnd, loopback.Reply{}),
		loopback.WithScript(bridge.OpSessionOption, loopback.Reply{Payload: bridge.SessionOption{Action: string(bridge.ActionContinue)}}),
		loopback.WithScript(bridge.OpHealthCheck, loopback.Reply{}),
	)
}
