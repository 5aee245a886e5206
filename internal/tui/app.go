// internal/tui/app.go
//
// This is the terminal front end for the arcade client. It uses bubbletea,
// which follows The Elm Architecture:
//
// 1. Model: the screen plus a handle on the wired session client
// 2. Update: keys, ticks and wake-ups drive the session
// 3. View: renders whatever lifecycle state the registry is in
//
// The screen is never chosen here directly. Keys call orchestrator
// operations, the registry changes state, and the subscription below
// switches the screen.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/arcade/internal/client"
	"github.com/kingrea/arcade/internal/lifecycle"
	"github.com/kingrea/arcade/internal/notify"
	"github.com/kingrea/arcade/internal/scoreboard"
)

const (
	leaderboardSize = 10
	scorePerHit     = 10
	logPanelLines   = 6
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

type tickMsg time.Time

type bootedMsg struct {
	err error
}

type leaderboardMsg struct {
	entries []scoreboard.Entry
	err     error
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

const (
	menuPlay         = "Play"
	menuLeaderboard  = "Leaderboard"
	menuAchievements = "Achievements"
	menuQuit         = "Quit"
)

// App is the bubbletea model.
type App struct {
	client   *client.Client
	sched    *Scheduler
	interval time.Duration

	screen   lifecycle.State
	stateSub notify.Subscription

	mainMenu       list.Model
	difficultyMenu list.Model
	spinner        spinner.Model

	leaderboard    []scoreboard.Entry
	leaderboardErr error
	statusMsg      string
	lastTick       time.Time
	seenExits      int

	idle        time.Duration
	idleTimeout time.Duration

	width  int
	height int
}

// NewApp builds the model over a wired client. sched must be the scheduler
// the client was built with. Close releases the state subscription.
func NewApp(c *client.Client, sched *Scheduler, tickInterval time.Duration) *App {
	mainMenu := list.New([]list.Item{
		menuItem{title: menuPlay, desc: "Pick a difficulty and start a run"},
		menuItem{title: menuLeaderboard, desc: "Best recorded runs"},
		menuItem{title: menuAchievements, desc: "Unlocked achievements"},
		menuItem{title: menuQuit, desc: "Hand control back to the system"},
	}, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ ARCADE"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)

	difficulties := c.Difficulties()
	items := make([]list.Item, len(difficulties))
	for i, d := range difficulties {
		items[i] = menuItem{title: d, desc: fmt.Sprintf("Start a %s run", strings.ToLower(d))}
	}
	difficultyMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	difficultyMenu.Title = "Select Difficulty"
	difficultyMenu.SetShowStatusBar(false)
	difficultyMenu.SetFilteringEnabled(false)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	a := &App{
		client:         c,
		sched:          sched,
		interval:       tickInterval,
		screen:         c.States().Current(),
		mainMenu:       mainMenu,
		difficultyMenu: difficultyMenu,
		spinner:        spin,
		idleTimeout:    c.IdleTimeout(),
	}
	if a.interval <= 0 {
		a.interval = 100 * time.Millisecond
	}
	a.stateSub = c.States().Subscribe(a.handleStateChanged)
	return a
}

// Close unsubscribes from the registry.
func (a *App) Close() {
	a.client.States().Unsubscribe(a.stateSub)
}

func (a *App) handleStateChanged(state lifecycle.State) {
	a.screen = state
	a.idle = 0
	switch state {
	case lifecycle.StateError:
		if fault, ok := a.client.Faults().Last(); ok {
			a.statusMsg = fmt.Sprintf("Error %d: %s", fault.Code, fault.Message)
		}
	case lifecycle.StateGameOver:
		a.statusMsg = fmt.Sprintf("Game over · score %d", a.client.Session().CurrentScore())
	default:
		a.statusMsg = ""
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.boot(), a.tick(), a.spinner.Tick)
}

func (a *App) boot() tea.Cmd {
	return func() tea.Msg {
		return bootedMsg{err: a.client.Boot(context.Background())}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) loadLeaderboard() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		entries, err := a.client.Leaderboard(ctx, leaderboardSize)
		return leaderboardMsg{entries: entries, err: err}
	}
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := a.update(msg)
	if exits := a.client.Session().Exits(); exits > a.seenExits {
		a.seenExits = exits
		a.logInfo("Handed control back to the system")
		return model, tea.Quit
	}
	return model, cmd
}

func (a *App) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-14))
		a.difficultyMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-14))
		return a, nil

	case wakeMsg:
		a.sched.Drain()
		return a, nil

	case tickMsg:
		now := time.Time(msg)
		var dt time.Duration
		if !a.lastTick.IsZero() {
			dt = now.Sub(a.lastTick)
		}
		a.lastTick = now
		a.sched.Drain()
		a.client.Tick(dt)
		a.watchIdle(dt)
		return a, a.tick()

	case bootedMsg:
		a.sched.Drain()
		if msg.err != nil {
			a.logError("Boot failed: %v", msg.err)
		}
		return a, nil

	case leaderboardMsg:
		a.leaderboard = msg.entries
		a.leaderboardErr = msg.err
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		a.idle = 0
		if msg.String() == "ctrl+c" {
			a.logWarn("Interrupted from keyboard")
			return a, tea.Quit
		}
		return a.handleKey(msg)
	}
	return a, nil
}

// watchIdle hands control back once a menu screen has gone without input
// for the configured idle timeout.
func (a *App) watchIdle(dt time.Duration) {
	if a.idleTimeout <= 0 {
		return
	}
	switch a.screen {
	case lifecycle.StateMainMenu, lifecycle.StateLeaderboard,
		lifecycle.StateAchievements, lifecycle.StateDifficultySelectOpen:
	default:
		a.idle = 0
		return
	}
	a.idle += dt
	if a.idle < a.idleTimeout {
		return
	}
	a.idle = 0
	a.logWarn("No input for %s", a.idleTimeout)
	a.client.Session().TimesUp()
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	orch := a.client.Session()
	key := msg.String()
	switch a.screen {
	case lifecycle.StateMainMenu:
		switch key {
		case "enter":
			return a.handleMainMenuSelection()
		case "q":
			a.report(orch.RequestQuit())
			return a, nil
		}
		var cmd tea.Cmd
		a.mainMenu, cmd = a.mainMenu.Update(msg)
		return a, cmd

	case lifecycle.StateDifficultySelectOpen:
		switch key {
		case "enter":
			item, ok := a.difficultyMenu.SelectedItem().(menuItem)
			if !ok {
				return a, nil
			}
			a.logInfo("Menu · %s run selected", item.title)
			a.report(orch.StartSession(item.title))
			return a, nil
		case "esc":
			a.report(orch.CloseDifficultySelect())
			return a, nil
		}
		var cmd tea.Cmd
		a.difficultyMenu, cmd = a.difficultyMenu.Update(msg)
		return a, cmd

	case lifecycle.StateInGame:
		switch key {
		case " ", "s":
			orch.AddScore(scorePerHit)
		case "g":
			a.report(orch.TriggerGameOver())
		case "r":
			a.report(orch.RequestEnd(false))
		case "e":
			a.report(orch.RequestEnd(true))
		}

	case lifecycle.StateGameOver:
		if a.client.RemoteOptions() {
			return a, nil
		}
		switch key {
		case "c":
			a.report(orch.ContinueSession())
		case "r":
			a.report(orch.RequestEnd(false))
		case "e", "enter":
			a.report(orch.RequestEnd(true))
		}

	case lifecycle.StateLeaderboard, lifecycle.StateAchievements:
		if key == "esc" || key == "q" {
			a.report(orch.ReturnToMainMenu())
		}

	case lifecycle.StateError:
		switch key {
		case "enter":
			orch.ExitWithError()
		case "m":
			a.report(orch.ReturnToMainMenu())
		}
	}
	return a, nil
}

func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}
	orch := a.client.Session()
	a.logInfo("Menu · %s selected", item.title)
	switch item.title {
	case menuPlay:
		a.report(orch.OpenDifficultySelect())
	case menuLeaderboard:
		if err := orch.ShowLeaderboard(); err != nil {
			a.report(err)
			return a, nil
		}
		return a, a.loadLeaderboard()
	case menuAchievements:
		a.report(orch.ShowAchievements())
	case menuQuit:
		a.report(orch.RequestQuit())
	}
	return a, nil
}

// report surfaces a rejected request in the footer. Rejections are caller
// sequencing issues, not faults.
func (a *App) report(err error) {
	if err == nil {
		return
	}
	a.statusMsg = err.Error()
	a.logWarn("%v", err)
}

func (a *App) logInfo(format string, args ...any) {
	if book := a.client.Logbook(); book != nil {
		book.Info(format, args...)
	}
}

func (a *App) logWarn(format string, args ...any) {
	if book := a.client.Logbook(); book != nil {
		book.Warn(format, args...)
	}
}

func (a *App) logError(format string, args ...any) {
	if book := a.client.Logbook(); book != nil {
		book.Error(format, args...)
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	sideWidth := max(28, width/3)
	mainWidth := width - sideWidth - 4
	if mainWidth < 30 {
		mainWidth = width - 4
		sideWidth = 0
	}

	main := boxStyle.Width(max(20, mainWidth)).Render(a.renderScreen())
	body := main
	if sideWidth > 0 {
		side := boxStyle.Width(max(20, sideWidth)).Render(a.renderSessionPanel())
		body = lipgloss.JoinHorizontal(lipgloss.Top, main, side)
	}
	sections := []string{headerStyle.Render("⬡ ARCADE · " + a.screen.String()), body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := mutedStyle.MarginTop(1).Render(strings.TrimSpace(a.hints() + "  " + a.statusMsg))
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderScreen() string {
	orch := a.client.Session()
	switch a.screen {
	case lifecycle.StateMainMenu:
		return a.mainMenu.View()
	case lifecycle.StateDifficultySelectOpen:
		return a.difficultyMenu.View()
	case lifecycle.StateLoading, lifecycle.StateDifficultySelectClose, lifecycle.StateSaving:
		return fmt.Sprintf("%s Loading...", a.spinner.View())
	case lifecycle.StateInGame:
		return strings.Join([]string{
			titleStyle.Render("IN GAME"),
			fmt.Sprintf("Score: %s", okStyle.Render(fmt.Sprintf("%d", orch.CurrentScore()))),
			fmt.Sprintf("Time:  %s", valueStyle.Render(orch.ElapsedActiveTime().Truncate(100*time.Millisecond).String())),
		}, "\n")
	case lifecycle.StateGameOver:
		lines := []string{
			titleStyle.Render("GAME OVER"),
			fmt.Sprintf("Final score: %d", orch.CurrentScore()),
		}
		if a.client.RemoteOptions() {
			lines = append(lines, mutedStyle.Render("Waiting for the session options..."))
		}
		return strings.Join(lines, "\n")
	case lifecycle.StateLeaderboard:
		return a.renderLeaderboard()
	case lifecycle.StateAchievements:
		return titleStyle.Render("ACHIEVEMENTS") + "\n" + mutedStyle.Render("Achievements are tracked by the host platform.")
	case lifecycle.StateError:
		fault, _ := a.client.Faults().Last()
		return strings.Join([]string{
			errorStyle.Render("SOMETHING WENT WRONG"),
			fmt.Sprintf("Code %d · %s", fault.Code, fault.Message),
		}, "\n")
	case lifecycle.StateExiting:
		return "Returning to the system..."
	}
	return ""
}

func (a *App) renderLeaderboard() string {
	lines := []string{titleStyle.Render("LEADERBOARD")}
	switch {
	case a.leaderboardErr != nil:
		lines = append(lines, errorStyle.Render(a.leaderboardErr.Error()))
	case len(a.leaderboard) == 0:
		lines = append(lines, mutedStyle.Render("No runs recorded yet."))
	default:
		for i, e := range a.leaderboard {
			lines = append(lines, fmt.Sprintf("%2d. %6d  %-8s %s", i+1, e.Score, e.Difficulty, e.Elapsed.Truncate(time.Second)))
		}
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderSessionPanel() string {
	snap := a.client.Session().Snapshot()
	lines := []string{
		titleStyle.Render("SESSION"),
		fmt.Sprintf("Phase: %s", valueStyle.Render(snap.Phase.String())),
	}
	if snap.Difficulty != "" {
		lines = append(lines, fmt.Sprintf("Difficulty: %s", valueStyle.Render(snap.Difficulty)))
	}
	lines = append(lines,
		fmt.Sprintf("Score: %d", snap.Score),
		fmt.Sprintf("Active: %s", snap.Elapsed.Truncate(time.Second)),
	)
	if snap.Fault != nil {
		lines = append(lines, errorStyle.Render(fmt.Sprintf("Last fault: %d", snap.Fault.Code)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	book := a.client.Logbook()
	if book == nil {
		return ""
	}
	lines, total := book.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(book.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := titleStyle.Render(fmt.Sprintf("LOG · %s (%d entries)", fileName, total))
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) hints() string {
	switch a.screen {
	case lifecycle.StateMainMenu:
		return "enter select · q quit"
	case lifecycle.StateDifficultySelectOpen:
		return "enter start · esc back"
	case lifecycle.StateInGame:
		return "space score · g game over · r restart · e end"
	case lifecycle.StateGameOver:
		if a.client.RemoteOptions() {
			return ""
		}
		return "c continue · r restart · e end"
	case lifecycle.StateLeaderboard, lifecycle.StateAchievements:
		return "esc back"
	case lifecycle.StateError:
		return "enter exit · m main menu"
	}
	return ""
}
