package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/arcade/internal/runloop"
)

// wakeMsg asks Update to drain work posted from other goroutines.
type wakeMsg struct{}

// Scheduler runs posted work inside the bubbletea Update loop, which is the
// single execution context in interactive mode. Work posted before a program
// is attached waits for the next drain.
type Scheduler struct {
	queue runloop.Queue

	mu   sync.Mutex
	send func(tea.Msg)
}

// NewScheduler returns a detached scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Attach routes wake-ups through p.Send.
func (s *Scheduler) Attach(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.send = nil
		return
	}
	s.send = p.Send
}

// Post queues fn and wakes the program. Safe from any goroutine, including
// Update itself: Program.Send blocks until the event loop receives, so the
// wake-up is sent from its own goroutine.
func (s *Scheduler) Post(fn func()) {
	s.queue.Post(fn)
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send != nil {
		go send(wakeMsg{})
	}
}

// Drain runs queued work on the caller's goroutine.
func (s *Scheduler) Drain() int {
	return s.queue.Drain()
}
