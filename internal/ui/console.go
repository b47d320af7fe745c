// Package ui is the host's terminal console.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"watch_together/native/internal/media"
	"watch_together/native/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	seekStep   = 10.0
	feedLength = 8
	tickEvery  = time.Second
)

// Controller is the part of a host session the console drives.
type Controller interface {
	Play(ctx context.Context) error
	Pause() error
	Seek(at float64) error
	SwitchQuality(ctx context.Context, level media.Level) error
	StopStream() error
	PrunePeers() []string
	Status() session.Status
}

// Clock reports the playback position in seconds.
type Clock interface {
	CurrentTime() float64
}

type tickMsg time.Time

type eventMsg session.Event

// actionMsg reports the outcome of a console action.
type actionMsg struct {
	action string
	err    error
}

// Console is a bubbletea model over a host session.
type Console struct {
	ctx    context.Context
	ctrl   Controller
	clock  Clock
	events <-chan session.Event

	status   session.Status
	position float64
	playing  bool
	feed     []string
	lastErr  string
	quitting bool
}

// NewConsole creates a console. events may be nil.
func NewConsole(ctx context.Context, ctrl Controller, clock Clock, events <-chan session.Event) *Console {
	return &Console{
		ctx:    ctx,
		ctrl:   ctrl,
		clock:  clock,
		events: events,
		status: ctrl.Status(),
	}
}

func (c *Console) Init() tea.Cmd {
	return tea.Batch(c.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (c *Console) listen() tea.Cmd {
	if c.events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-c.events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c, c.handleKey(msg.String())

	case tickMsg:
		for _, id := range c.ctrl.PrunePeers() {
			c.record("pruned " + id)
		}
		c.refresh()
		return c, tick()

	case eventMsg:
		c.record(session.Event(msg).String())
		c.refresh()
		return c, c.listen()

	case actionMsg:
		if msg.err != nil {
			c.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			c.lastErr = ""
			switch msg.action {
			case "play":
				c.playing = true
			case "pause":
				c.playing = false
			}
		}
		c.refresh()
	}
	return c, nil
}

func (c *Console) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		c.quitting = true
		return tea.Quit
	case " ":
		if c.playing {
			return c.run("pause", c.ctrl.Pause)
		}
		return c.run("play", func() error { return c.ctrl.Play(c.ctx) })
	case "left":
		at := c.now() - seekStep
		return c.run("seek", func() error { return c.ctrl.Seek(max(at, 0)) })
	case "right":
		at := c.now() + seekStep
		return c.run("seek", func() error { return c.ctrl.Seek(at) })
	case "1", "2", "3":
		level := media.Levels()[key[0]-'1']
		return c.run("quality "+level.String(), func() error {
			return c.ctrl.SwitchQuality(c.ctx, level)
		})
	case "s":
		return c.run("stop", c.ctrl.StopStream)
	}
	return nil
}

// run performs fn off the update loop.
func (c *Console) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

func (c *Console) record(line string) {
	c.feed = append(c.feed, time.Now().Format("15:04:05")+" "+line)
	if len(c.feed) > feedLength {
		c.feed = c.feed[len(c.feed)-feedLength:]
	}
}

func (c *Console) refresh() {
	c.status = c.ctrl.Status()
	c.position = c.now()
}

func (c *Console) now() float64 {
	if c.clock == nil {
		return c.position
	}
	return c.clock.CurrentTime()
}

func (c *Console) View() string {
	if c.quitting {
		return ""
	}

	var b strings.Builder
	st := c.status

	b.WriteString(titleStyle.Render("watch together") + "\n\n")
	b.WriteString(labelStyle.Render("room") + st.RoomID + "\n")
	b.WriteString(labelStyle.Render("you") + orDash(st.SelfID) + "\n")

	playback := idleStyle.Render("paused")
	if c.playing {
		playback = liveStyle.Render("playing")
	}
	b.WriteString(labelStyle.Render("playback") + fmt.Sprintf("%s %s\n", playback, formatPosition(c.position)))

	sharing := idleStyle.Render("off")
	if st.Streaming {
		sharing = liveStyle.Render(string(st.StreamKind))
	}
	b.WriteString(labelStyle.Render("sharing") + sharing + "\n")
	b.WriteString(labelStyle.Render("quality") + c.qualityLine(st.Quality) + "\n\n")

	var peers strings.Builder
	if len(st.Peers) == 0 && len(st.Pending) == 0 {
		peers.WriteString(idleStyle.Render("no guests yet"))
	}
	for i, p := range st.Peers {
		if i > 0 {
			peers.WriteString("\n")
		}
		peers.WriteString(fmt.Sprintf("%-12s %s %s", p.ID,
			stateStyle(string(p.State)).Render(string(p.State)),
			idleStyle.Render(string(p.Negotiation))))
	}
	for i, id := range st.Pending {
		if i > 0 || len(st.Peers) > 0 {
			peers.WriteString("\n")
		}
		peers.WriteString(fmt.Sprintf("%-12s %s", id, warnStyle.Render("waiting for stream")))
	}
	b.WriteString(boxStyle.Render(peers.String()) + "\n")

	for _, line := range c.feed {
		b.WriteString(helpStyle.Render(line) + "\n")
	}
	if c.lastErr != "" {
		b.WriteString(errorStyle.Render(c.lastErr) + "\n")
	}

	b.WriteString("\n" + help())
	return b.String()
}

func (c *Console) qualityLine(current media.Level) string {
	parts := make([]string, 0, 3)
	for i, l := range media.Levels() {
		label := fmt.Sprintf("%d %s", i+1, l)
		if l == current {
			label = selectedStyle.Render("[" + label + "]")
		} else {
			label = idleStyle.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " ")
}

func help() string {
	keys := []struct{ key, desc string }{
		{"space", "play/pause"},
		{"←/→", "seek 10s"},
		{"1-3", "quality"},
		{"s", "stop sharing"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, keyStyle.Render(k.key)+" "+helpStyle.Render(k.desc))
	}
	return strings.Join(parts, helpStyle.Render(" • "))
}

func formatPosition(sec float64) string {
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
